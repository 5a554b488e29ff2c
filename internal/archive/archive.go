// Package archive flattens uploaded files and ZIP archives into the list of
// documents the pipeline parses.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
	"github.com/marcobitx/foxdoc/internal/shared/util"
)

const (
	// MaxDepth bounds nested archive recursion.
	MaxDepth = 10
	// maxEntryBytes caps a single decompressed entry.
	maxEntryBytes = 200 << 20
)

var supported = map[string]bool{
	".pdf":  true,
	".docx": true,
	".xlsx": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Supported reports whether filename has a parseable extension.
func Supported(filename string) bool {
	return supported[strings.ToLower(filepath.Ext(filename))]
}

// File is one extracted document.
type File struct {
	Path string
	Name string
}

// Extractor unpacks uploads into a private temp directory.
type Extractor struct {
	// TempRoot is the parent for temp dirs; empty uses os.TempDir.
	TempRoot string
}

// ExtractFiles returns every supported file among paths, descending into ZIP
// archives. Unsupported entries are dropped and unreadable archives skipped.
// The returned cleanup removes extracted files; it is never nil.
func (e Extractor) ExtractFiles(ctx context.Context, paths []string) ([]File, func(), error) {
	dir, err := os.MkdirTemp(e.TempRoot, "foxdoc-unpack-*")
	if err != nil {
		return nil, func() {}, fmt.Errorf("archive: create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	x := &extraction{root: dir}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, func() {}, err
		}
		name := filepath.Base(p)
		switch ext := strings.ToLower(filepath.Ext(name)); {
		case ext == ".zip":
			x.unzip(ctx, p, 0)
		case supported[ext]:
			x.files = append(x.files, File{Path: p, Name: name})
		default:
			telemetry.Debug("archive.skip_unsupported", map[string]any{"file": name})
		}
	}
	return x.files, cleanup, nil
}

type extraction struct {
	root  string
	seq   int
	files []File
}

func (x *extraction) nextDir() (string, error) {
	x.seq++
	d := filepath.Join(x.root, fmt.Sprintf("%04d", x.seq))
	return d, os.MkdirAll(d, 0o700)
}

func (x *extraction) unzip(ctx context.Context, zipPath string, depth int) {
	if depth > MaxDepth {
		telemetry.Warn("archive.depth_exceeded", map[string]any{"archive": filepath.Base(zipPath), "depth": depth})
		return
	}
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		telemetry.Warn("archive.unreadable", map[string]any{"archive": filepath.Base(zipPath), "error": err.Error()})
		return
	}
	defer zr.Close()

	dest, err := x.nextDir()
	if err != nil {
		telemetry.Warn("archive.mkdir_failed", map[string]any{"error": err.Error()})
		return
	}

	for _, f := range zr.File {
		if ctx.Err() != nil {
			return
		}
		if f.FileInfo().IsDir() {
			continue
		}
		rel := util.SanitizeArchivePath(f.Name)
		if rel == "" {
			continue
		}
		ext := strings.ToLower(path.Ext(rel))
		if ext != ".zip" && !supported[ext] {
			continue
		}
		target, err := safeJoin(dest, rel)
		if err != nil {
			telemetry.Warn("archive.unsafe_entry", map[string]any{"entry": f.Name})
			continue
		}
		if err := writeEntry(f, target); err != nil {
			telemetry.Warn("archive.entry_failed", map[string]any{"entry": f.Name, "error": err.Error()})
			continue
		}
		if ext == ".zip" {
			x.unzip(ctx, target, depth+1)
			continue
		}
		x.files = append(x.files, File{Path: target, Name: path.Base(rel)})
	}
}

// safeJoin joins rel under dir and fails if the result escapes dir.
func safeJoin(dir, rel string) (string, error) {
	target := filepath.Join(dir, filepath.FromSlash(rel))
	back, err := filepath.Rel(dir, target)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", errors.New("entry escapes destination")
	}
	return target, nil
}

func writeEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, io.LimitReader(rc, maxEntryBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n > maxEntryBytes {
		_ = os.Remove(target)
		return fmt.Errorf("entry larger than %d bytes", maxEntryBytes)
	}
	return nil
}
