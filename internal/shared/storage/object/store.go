package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/marcobitx/foxdoc/internal/shared/util"
)

// ObjectStore defines the contract for saving and retrieving uploaded originals.
type ObjectStore interface {
	Save(ctx context.Context, analysisID string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

const sniffLen = 3072

// UploadKey returns uploads/<analysis>/<random>_<name> for a sanitized file name.
func UploadKey(analysisID, fileName string) (string, error) {
	name, err := util.SanitizeFileName(fileName)
	if err != nil {
		return "", fmt.Errorf("sanitize file name: %w", err)
	}
	if analysisID == "" {
		return "", fmt.Errorf("analysis id required")
	}
	return path.Join("uploads", analysisID, uuid.NewString()[:8]+"_"+name), nil
}

// Sniff detects the content type from the head of r and returns a reader
// that replays the consumed bytes.
func Sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, fmt.Errorf("read sniff: %w", err)
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Counting wraps r so the number of bytes read is reported by the returned func.
func Counting(r io.Reader) (io.Reader, func() int64) {
	c := &countingReader{r: r}
	return c, func() int64 { return c.n }
}
