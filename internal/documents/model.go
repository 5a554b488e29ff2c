package documents

import (
	"time"

	"github.com/marcobitx/foxdoc/internal/report"
)

// ParsedDocument is one uploaded file after text extraction.
type ParsedDocument struct {
	ID            string              `json:"id"`
	AnalysisID    string              `json:"analysis_id"`
	Position      int                 `json:"position"`
	Filename      string              `json:"filename"`
	Format        string              `json:"format"`
	Content       string              `json:"content,omitempty"`
	PageCount     int                 `json:"page_count"`
	FileSizeBytes int64               `json:"file_size_bytes"`
	DocType       report.DocumentType `json:"doc_type"`
	TokenEstimate int                 `json:"token_estimate"`
	ContentHash   string              `json:"content_hash,omitempty"`
	// Path is the local file the document was parsed from. It is only
	// valid for the lifetime of one pipeline run.
	Path      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Failed reports whether parsing produced the error marker instead of text.
func (d ParsedDocument) Failed() bool {
	return d.PageCount == 0 && len(d.Content) >= len(ErrorMarker) && d.Content[:len(ErrorMarker)] == ErrorMarker
}

// ErrorMarker prefixes the content of documents that could not be parsed.
const ErrorMarker = "[ERROR]"

// Upload is an original file saved to the object store before a run.
type Upload struct {
	Filename   string `json:"filename"`
	StorageKey string `json:"storage_key"`
	SizeBytes  int64  `json:"size_bytes"`
	MimeType   string `json:"mime_type"`
}
