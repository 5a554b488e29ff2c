// Package extract turns uploaded files into plain text for the model.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/shared/util"
)

const (
	// charsPerPage approximates one printed page of extracted text.
	charsPerPage = 3000
	// charsPerToken is the rough text-to-token ratio used for estimates.
	charsPerToken = 4
)

// ParseDocument reads the file at path and extracts its text. It never
// fails: unreadable or unsupported files yield content starting with
// documents.ErrorMarker and a page count of zero.
func ParseDocument(ctx context.Context, path, filename string) (doc documents.ParsedDocument) {
	doc = documents.ParsedDocument{
		ID:        uuid.NewString(),
		Filename:  filename,
		Format:    strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."),
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	defer func() {
		if rec := recover(); rec != nil {
			fail(&doc, fmt.Errorf("parser panic: %v", rec))
		}
	}()

	if err := ctx.Err(); err != nil {
		fail(&doc, err)
		return doc
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fail(&doc, err)
		return doc
	}
	doc.FileSizeBytes = int64(len(data))
	doc.ContentHash = util.HashBytes(data)
	if doc.Format == "" || !knownFormat(doc.Format) {
		doc.Format = strings.TrimPrefix(mimetype.Detect(data).Extension(), ".")
	}

	switch doc.Format {
	case "pdf":
		text, pages, err := parsePDF(data)
		if err != nil {
			fail(&doc, err)
			return doc
		}
		doc.Content, doc.PageCount = text, pages
	case "docx":
		text, err := parseDOCX(data)
		if err != nil {
			fail(&doc, err)
			return doc
		}
		doc.Content, doc.PageCount = text, EstimatePages(text)
	case "xlsx":
		text, sheets, err := parseXLSX(data)
		if err != nil {
			fail(&doc, err)
			return doc
		}
		doc.Content, doc.PageCount = text, max(sheets, 1)
	case "png", "jpg", "jpeg":
		doc.Content, doc.PageCount = "[IMAGE] "+filename, 1
	default:
		fail(&doc, fmt.Errorf("unsupported format %q", doc.Format))
		return doc
	}

	doc.TokenEstimate = len(doc.Content) / charsPerToken
	doc.DocType = ClassifyDocument(filename, doc.Content)
	return doc
}

func fail(doc *documents.ParsedDocument, err error) {
	doc.Content = fmt.Sprintf("%s Failed to parse %s: %v", documents.ErrorMarker, doc.Filename, err)
	doc.PageCount = 0
	doc.TokenEstimate = len(doc.Content) / charsPerToken
	doc.DocType = ClassifyDocument(doc.Filename, "")
}

func knownFormat(f string) bool {
	switch f {
	case "pdf", "docx", "xlsx", "png", "jpg", "jpeg":
		return true
	}
	return false
}

// EstimatePages returns ceil(len/3000) for non-empty text, at least 1.
func EstimatePages(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max((n+charsPerPage-1)/charsPerPage, 1)
}

func parsePDF(data []byte) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	pages := r.NumPage()
	plain, err := r.GetPlainText()
	if err != nil {
		return "", 0, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(buf.String()), pages, nil
}

func parseDOCX(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty docx data")
	}
	d, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		// Documents without link relationships are rejected by the docx
		// reader; fall back to reading the body part directly.
		return parseDOCXBody(data)
	}
	defer d.Close()
	return stripDocxXML(d.Editable().GetContent()), nil
}

func parseDOCXBody(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	raw, err := readZipPart(zr, "word/document.xml")
	if err != nil {
		return "", err
	}
	return stripDocxXML(string(raw)), nil
}

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, 100<<20))
	}
	return nil, fmt.Errorf("%s not found", name)
}
