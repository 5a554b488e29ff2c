package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/llm/providers"
	"github.com/marcobitx/foxdoc/internal/report"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

// Extraction is the structured result for one document.
type Extraction struct {
	Doc    documents.ParsedDocument
	Result *report.ExtractionResult
	Usage  llm.Usage
}

// ExtractOptions configures ExtractAll.
type ExtractOptions struct {
	Options
	MaxConcurrent int
	OnStarted     func(doc documents.ParsedDocument, index int)
	OnCompleted   func(doc documents.ParsedDocument, usage llm.Usage)
	OnThinking    func(text string)
	// Canceled is polled before each document starts.
	Canceled func() bool
}

// ExtractAll extracts every document with at most MaxConcurrent requests in
// flight. Results keep the order of docs. The first failure aborts the rest.
func ExtractAll(ctx context.Context, docs []documents.ParsedDocument, client LLM, opts ExtractOptions) ([]Extraction, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	limit := opts.MaxConcurrent
	if limit <= 0 || limit > len(docs) {
		limit = len(docs)
	}

	out := make([]Extraction, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			if opts.Canceled != nil && opts.Canceled() {
				return ErrCanceled
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			if opts.OnStarted != nil {
				opts.OnStarted(doc, i)
			}
			res, usage, err := ExtractDocument(gctx, doc, client, opts)
			if err != nil {
				return fmt.Errorf("extract %s: %w", doc.Filename, err)
			}
			out[i] = Extraction{Doc: doc, Result: res, Usage: usage}
			if opts.OnCompleted != nil {
				opts.OnCompleted(doc, usage)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractDocument runs the extraction prompt for one document. Attachable
// images and PDFs go to the model as files; long text is split into parts
// whose results are merged.
func ExtractDocument(ctx context.Context, doc documents.ParsedDocument, client LLM, opts ExtractOptions) (*report.ExtractionResult, llm.Usage, error) {
	req := llm.StructuredRequest{
		System:   ExtractionSystemPrompt(opts.AnalysisType, opts.CustomInstructions),
		Model:    opts.Model,
		Thinking: ThinkingFor(opts.AnalysisType, opts.Thinking),
	}

	if parts, plugins, ok := attachment(doc, client, client.Provider(opts.Model)); ok {
		req.User, req.Plugins = parts, plugins
		var res report.ExtractionResult
		usage, err := client.CompleteStructuredStreaming(ctx, req, &res, opts.OnThinking)
		if err != nil {
			return nil, usage, err
		}
		return &res, usage, nil
	}

	if doc.Failed() || strings.TrimSpace(doc.Content) == "" {
		note := "Document contains no extractable text."
		if doc.Failed() {
			note = doc.Content
		}
		return &report.ExtractionResult{ConfidenceNotes: []string{note}}, llm.Usage{}, nil
	}

	chunks := splitText(doc.Content, inputBudgetChars(opts.ContextLength))
	var merged *report.ExtractionResult
	var total llm.Usage
	for i, chunk := range chunks {
		part := ""
		if len(chunks) > 1 {
			part = fmt.Sprintf("- Part: %d of %d\n", i+1, len(chunks))
		}
		req.User = fmt.Sprintf(extractionUser, doc.Filename, doc.DocType, doc.PageCount, part, chunk)
		var res report.ExtractionResult
		usage, err := client.CompleteStructuredStreaming(ctx, req, &res, opts.OnThinking)
		total = total.Add(usage)
		if err != nil {
			return nil, total, err
		}
		merged = mergeExtraction(merged, &res)
	}
	return merged, total, nil
}

// attachment decides whether doc is sent as a file. PDFs are attached when
// the provider reads them natively, or when no text could be extracted and
// the gateway has to OCR them.
func attachment(doc documents.ParsedDocument, client LLM, p providers.Provider) ([]providers.ContentPart, []llm.Plugin, bool) {
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	isPDF := ext == ".pdf"
	isImage := ext == ".png" || ext == ".jpg" || ext == ".jpeg"
	if !isPDF && !isImage {
		return nil, nil, false
	}
	if doc.Path == "" || !llm.Attachable(doc.Filename, int(doc.FileSizeBytes)) {
		return nil, nil, false
	}
	native := isPDF && p.SupportsNativePDF()
	scanned := isPDF && (doc.Failed() || strings.TrimSpace(doc.Content) == "")
	if isPDF && !native && !scanned {
		return nil, nil, false
	}

	data, err := os.ReadFile(doc.Path)
	if err != nil {
		telemetry.Warn("extraction.attachment_read_failed", map[string]any{"file": doc.Filename, "error": err})
		return nil, nil, false
	}
	text := fmt.Sprintf(extractionOCRUser, doc.Filename, doc.DocType, doc.PageCount)
	parts, plugins, err := client.MultimodalContent(text, doc.Filename, data)
	if err != nil {
		telemetry.Warn("extraction.attachment_failed", map[string]any{"file": doc.Filename, "error": err})
		return nil, nil, false
	}
	if native {
		plugins = nil
	}
	return parts, plugins, true
}

// splitText cuts text into pieces of at most n bytes, preferring line breaks
// and never splitting a UTF-8 sequence.
func splitText(text string, n int) []string {
	if n <= 0 || len(text) <= n {
		return []string{text}
	}
	var out []string
	for len(text) > n {
		cut := strings.LastIndexByte(text[:n], '\n')
		if cut < n/2 {
			cut = n
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		if cut <= 0 {
			cut = n
		}
		out = append(out, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
