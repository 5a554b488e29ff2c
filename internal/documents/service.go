package documents

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marcobitx/foxdoc/internal/shared/storage/object"
)

// Service contains business logic for uploads and parsed documents.
type Service struct {
	Store object.ObjectStore
	Repo  Repo
}

// Upload saves an original file to object storage under the analysis.
func (s *Service) Upload(ctx context.Context, analysisID, fileName string, r io.Reader) (Upload, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" || analysisID == "" {
		return Upload{}, ErrInvalidInput
	}

	key, size, mimeType, err := s.Store.Save(ctx, analysisID, fileName, r)
	if err != nil {
		return Upload{}, err
	}
	return Upload{
		Filename:   filepath.Base(fileName),
		StorageKey: key,
		SizeBytes:  size,
		MimeType:   mimeType,
	}, nil
}

// Materialize copies uploads from object storage into dir and returns the
// local paths in upload order. Each file keeps its original base name.
func (s *Service) Materialize(ctx context.Context, dir string, uploads []Upload) ([]string, error) {
	paths := make([]string, 0, len(uploads))
	for i, u := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub := filepath.Join(dir, strconv.Itoa(i))
		if err := os.MkdirAll(sub, 0o700); err != nil {
			return nil, fmt.Errorf("mkdir: %w", err)
		}
		p := filepath.Join(sub, filepath.Base(u.Filename))
		if err := s.download(ctx, u.StorageKey, p); err != nil {
			return nil, fmt.Errorf("materialize %s: %w", u.Filename, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (s *Service) download(ctx context.Context, key, dst string) error {
	rc, err := s.Store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// List returns the parsed documents of an analysis without their content.
func (s *Service) List(ctx context.Context, analysisID string) ([]ParsedDocument, error) {
	if analysisID == "" {
		return nil, ErrInvalidInput
	}
	docs, err := s.Repo.ListByAnalysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Content = ""
	}
	return docs, nil
}

// Get returns a parsed document including its text.
func (s *Service) Get(ctx context.Context, analysisID, documentID string) (ParsedDocument, error) {
	if analysisID == "" || documentID == "" {
		return ParsedDocument{}, ErrInvalidInput
	}
	return s.Repo.Get(ctx, analysisID, documentID)
}
