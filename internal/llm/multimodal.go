package llm

import (
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/marcobitx/foxdoc/internal/llm/providers"
)

// MaxAttachmentBytes is the largest file sent inline to the gateway.
const MaxAttachmentBytes = 5 << 20

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".tiff": true, ".webp": true, ".gif": true,
}

// Attachable reports whether filename can be sent as a multimodal part.
func Attachable(filename string, size int) bool {
	if size <= 0 || size > MaxAttachmentBytes {
		return false
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".pdf" || imageExts[ext]
}

// MultimodalContent builds content parts with the file attached. PDFs also
// return the file-parser plugin directive for the configured engine.
func (c *Client) MultimodalContent(text, filename string, data []byte) ([]providers.ContentPart, []Plugin, error) {
	if len(data) > MaxAttachmentBytes {
		return nil, nil, fmt.Errorf("attachment %s exceeds %d bytes", filename, MaxAttachmentBytes)
	}
	parts := []providers.ContentPart{{Type: "text", Text: text}}
	b64 := base64.StdEncoding.EncodeToString(data)
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case ext == ".pdf":
		parts = append(parts, providers.ContentPart{
			Type: "file",
			File: &providers.FileData{
				Filename: filepath.Base(filename),
				FileData: "data:application/pdf;base64," + b64,
			},
		})
		return parts, []Plugin{{ID: "file-parser", PDF: &PDFPlugin{Engine: c.pdfEngine}}}, nil
	case imageExts[ext]:
		parts = append(parts, providers.ContentPart{
			Type:     "image_url",
			ImageURL: &providers.ImageURL{URL: "data:" + imageMime(filename, data) + ";base64," + b64},
		})
		return parts, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported attachment type %q", ext)
	}
}

func imageMime(filename string, data []byte) string {
	if m := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); strings.HasPrefix(m, "image/") {
		return m
	}
	if detected := mimetype.Detect(data); strings.HasPrefix(detected.String(), "image/") {
		return detected.String()
	}
	return "image/png"
}
