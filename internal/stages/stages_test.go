package stages

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/llm/providers"
	"github.com/marcobitx/foxdoc/internal/report"
)

// fakeLLM answers every structured request with reply(req).
type fakeLLM struct {
	mu       sync.Mutex
	reqs     []llm.StructuredRequest
	reply    func(req llm.StructuredRequest) (string, error)
	usage    llm.Usage
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	registry *providers.Registry
}

func newFake(reply func(req llm.StructuredRequest) (string, error)) *fakeLLM {
	return &fakeLLM{reply: reply, usage: llm.Usage{InputTokens: 100, OutputTokens: 10}, registry: providers.NewRegistry()}
}

func (f *fakeLLM) CompleteStructuredStreaming(ctx context.Context, req llm.StructuredRequest, out llm.Target, onThinking func(string)) (llm.Usage, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if onThinking != nil {
		onThinking("thinking about " + out.SchemaName())
	}
	raw, err := f.reply(req)
	if err != nil {
		return llm.Usage{}, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return llm.Usage{}, err
	}
	return f.usage, nil
}

func (f *fakeLLM) Provider(model string) providers.Provider { return f.registry.For(model) }

func (f *fakeLLM) MultimodalContent(text, filename string, data []byte) ([]providers.ContentPart, []llm.Plugin, error) {
	return []providers.ContentPart{{Type: "text", Text: text}, {Type: "file", File: &providers.FileData{Filename: filename}}},
		[]llm.Plugin{{ID: "file-parser", PDF: &llm.PDFPlugin{Engine: "mistral-ocr"}}}, nil
}

func textDoc(name, content string) documents.ParsedDocument {
	return documents.ParsedDocument{ID: name, Filename: name, Content: content, PageCount: 1, DocType: report.DocOther}
}

func TestExtractAllBoundedAndOrdered(t *testing.T) {
	f := newFake(func(req llm.StructuredRequest) (string, error) {
		user := req.User.(string)
		name := strings.TrimSpace(strings.SplitN(strings.SplitN(user, "File name: ", 2)[1], "\n", 2)[0])
		return `{"project_summary":"` + name + `"}`, nil
	})
	f.delay = 5 * time.Millisecond

	var docs []documents.ParsedDocument
	for i := 0; i < 25; i++ {
		docs = append(docs, textDoc(string(rune('a'+i))+".docx", "text"))
	}
	var started, completed atomic.Int32
	var thoughts atomic.Int32
	res, err := ExtractAll(context.Background(), docs, f, ExtractOptions{
		Options:       Options{Model: "openai/gpt-5.3-codex", ContextLength: 128000},
		MaxConcurrent: 10,
		OnStarted:     func(documents.ParsedDocument, int) { started.Add(1) },
		OnCompleted:   func(documents.ParsedDocument, llm.Usage) { completed.Add(1) },
		OnThinking:    func(string) { thoughts.Add(1) },
	})
	if err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}
	if f.peak.Load() > 10 {
		t.Fatalf("concurrency exceeded: %d", f.peak.Load())
	}
	for i, r := range res {
		if r.Result.ProjectSummary != docs[i].Filename || r.Usage.InputTokens != 100 {
			t.Fatalf("result %d out of order: %+v", i, r)
		}
	}
	if started.Load() != 25 || completed.Load() != 25 || thoughts.Load() != 25 {
		t.Fatalf("callbacks: started=%d completed=%d thinking=%d", started.Load(), completed.Load(), thoughts.Load())
	}
}

func TestExtractAllPropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	f := newFake(func(req llm.StructuredRequest) (string, error) {
		if strings.Contains(req.User.(string), "bad.docx") {
			return "", boom
		}
		return `{}`, nil
	})
	_, err := ExtractAll(context.Background(), []documents.ParsedDocument{textDoc("ok.docx", "x"), textDoc("bad.docx", "y")}, f, ExtractOptions{MaxConcurrent: 1})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "bad.docx") {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
}

func TestExtractAllCanceled(t *testing.T) {
	f := newFake(func(llm.StructuredRequest) (string, error) { return `{}`, nil })
	_, err := ExtractAll(context.Background(), []documents.ParsedDocument{textDoc("a.docx", "x")}, f, ExtractOptions{
		Canceled: func() bool { return true },
	})
	if !errors.Is(err, ErrCanceled) || len(f.reqs) != 0 {
		t.Fatalf("expected cancellation before any request, got %v (%d requests)", err, len(f.reqs))
	}
}

func TestExtractDocumentAttachments(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "scan.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := newFake(func(llm.StructuredRequest) (string, error) { return `{"project_summary":"ok"}`, nil })

	native := documents.ParsedDocument{Filename: "scan.pdf", Path: pdf, FileSizeBytes: 8, Content: "some text", PageCount: 1}
	if _, _, err := ExtractDocument(context.Background(), native, f, ExtractOptions{Options: Options{Model: "anthropic/claude-sonnet-4.6"}}); err != nil {
		t.Fatalf("native: %v", err)
	}
	if _, ok := f.reqs[0].User.([]providers.ContentPart); !ok || f.reqs[0].Plugins != nil {
		t.Fatalf("anthropic PDFs are attached without plugins: %+v", f.reqs[0])
	}

	textual := native
	if _, _, err := ExtractDocument(context.Background(), textual, f, ExtractOptions{Options: Options{Model: "openai/gpt-5.3-codex"}}); err != nil {
		t.Fatalf("text: %v", err)
	}
	if _, ok := f.reqs[1].User.(string); !ok {
		t.Fatalf("PDF with text goes as text to other providers")
	}

	scanned := native
	scanned.Content = ""
	if _, _, err := ExtractDocument(context.Background(), scanned, f, ExtractOptions{Options: Options{Model: "openai/gpt-5.3-codex"}}); err != nil {
		t.Fatalf("scanned: %v", err)
	}
	if len(f.reqs[2].Plugins) != 1 || f.reqs[2].Plugins[0].ID != "file-parser" {
		t.Fatalf("scanned PDFs need the OCR plugin: %+v", f.reqs[2])
	}

	failed := documents.ParsedDocument{Filename: "broken.docx", Content: documents.ErrorMarker + " bad zip"}
	res, usage, err := ExtractDocument(context.Background(), failed, f, ExtractOptions{})
	if err != nil || usage != (llm.Usage{}) || len(res.ConfidenceNotes) != 1 || len(f.reqs) != 3 {
		t.Fatalf("failed documents skip the model: %+v %+v %v", res, usage, err)
	}
}

func TestExtractDocumentSplitsLongText(t *testing.T) {
	calls := 0
	f := newFake(func(req llm.StructuredRequest) (string, error) {
		calls++
		if !strings.Contains(req.User.(string), "Part: ") {
			t.Fatalf("expected part marker")
		}
		if calls == 1 {
			return `{"project_summary":"first","key_requirements":["a","b"],"lots":[{"lot_number":1,"title":"x"}]}`, nil
		}
		return `{"project_summary":"second","key_requirements":["b","c"],"lots":[{"lot_number":1,"title":"x"},{"lot_number":2,"title":"y"}]}`, nil
	})
	long := strings.Repeat("line of text\n", (minInputTokens*charsPerToken)/13+100)
	res, usage, err := ExtractDocument(context.Background(), textDoc("big.docx", long), f, ExtractOptions{Options: Options{ContextLength: 1}})
	if err != nil {
		t.Fatalf("ExtractDocument: %v", err)
	}
	if calls != 2 || usage.InputTokens != 200 {
		t.Fatalf("expected two parts, got %d calls usage %+v", calls, usage)
	}
	if res.ProjectSummary != "first\n\nsecond" || strings.Join(res.KeyRequirements, ",") != "a,b,c" || len(res.Lots) != 2 {
		t.Fatalf("unexpected merge: %+v", res)
	}
}

func TestSplitText(t *testing.T) {
	parts := splitText("ąčęėįšųū", 5)
	if strings.Join(parts, "") != "ąčęėįšųū" {
		t.Fatalf("split lost data: %q", parts)
	}
	for _, p := range parts {
		if len(p) > 5 {
			t.Fatalf("part too long: %q", p)
		}
	}
	if got := splitText("short", 100); len(got) != 1 {
		t.Fatalf("unexpected split: %q", got)
	}
}

func TestAggregateAndEvaluate(t *testing.T) {
	f := newFake(func(req llm.StructuredRequest) (string, error) {
		if strings.Contains(req.System, "quality") {
			return `{"completeness_score":0.75,"missing_fields":["lots"]}`, nil
		}
		if !strings.Contains(req.User.(string), "2 documents") || !strings.Contains(req.System, "USER INSTRUCTIONS\nFocus on lots") {
			t.Fatalf("unexpected aggregation request: %s", req.User)
		}
		return `{"project_summary":"merged","source_documents":[]}`, nil
	})
	ex := []Extraction{
		{Doc: textDoc("a.pdf", "x"), Result: &report.ExtractionResult{ProjectSummary: "a"}},
		{Doc: textDoc("b.pdf", "y"), Result: &report.ExtractionResult{ProjectSummary: "b"}},
	}
	rep, usage, err := Aggregate(context.Background(), ex, f, AggregateOptions{Options: Options{
		AnalysisType: AnalysisCustom, CustomInstructions: " Focus on lots ", Thinking: "high",
	}})
	if err != nil || rep.ProjectSummary != "merged" || usage.OutputTokens != 10 {
		t.Fatalf("Aggregate: %+v %+v %v", rep, usage, err)
	}
	if f.reqs[0].Thinking != providers.ThinkingHigh {
		t.Fatalf("thinking override ignored: %s", f.reqs[0].Thinking)
	}

	qa, _, err := Evaluate(context.Background(), rep, []documents.ParsedDocument{textDoc("a.pdf", "x")}, f, "m", nil)
	if err != nil || qa.CompletenessScore != 0.75 || qa.MissingFields[0] != "lots" {
		t.Fatalf("Evaluate: %+v %v", qa, err)
	}

	if _, _, err := Aggregate(context.Background(), nil, f, AggregateOptions{}); err == nil {
		t.Fatalf("expected error without extractions")
	}
}

func TestAnalysisTypes(t *testing.T) {
	if ParseAnalysisType(" RISKS ") != AnalysisRisks || ParseAnalysisType("weird") != AnalysisDetailed {
		t.Fatalf("unexpected ParseAnalysisType")
	}
	if ThinkingFor(AnalysisQuick, "") != providers.ThinkingOff || ThinkingFor(AnalysisQuick, "medium") != providers.ThinkingMedium {
		t.Fatalf("unexpected ThinkingFor")
	}
	if ThinkingFor(AnalysisDetailed, "ultra") != providers.ThinkingLow {
		t.Fatalf("invalid override must fall back")
	}
	if !strings.Contains(ExtractionSystemPrompt(AnalysisQuick, ""), "QUICK OVERVIEW") {
		t.Fatalf("missing focus section")
	}
	if ExtractionSystemPrompt(AnalysisCustom, "  ") != extractionSystem {
		t.Fatalf("blank custom instructions add nothing")
	}
}

func TestTruncateUTF8KeepsRunesWhole(t *testing.T) {
	text := "Prekės kaina ąčęėįšųūž"
	for n := 0; n <= len(text)+1; n++ {
		got := truncateUTF8(text, n)
		if !utf8.ValidString(got) {
			t.Fatalf("truncateUTF8(%d) split a rune: %q", n, got)
		}
		if len(got) > n || !strings.HasPrefix(text, got) {
			t.Fatalf("truncateUTF8(%d) = %q", n, got)
		}
		if n >= len(text) && got != text {
			t.Fatalf("truncateUTF8(%d) should keep the whole text, got %q", n, got)
		}
	}
	if got := truncateUTF8("ą", 1); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}
