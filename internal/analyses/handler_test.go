package analyses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/shared/storage/object/local"
)

type dispatchStub struct {
	mu   sync.Mutex
	got  []Analysis
	fail error
}

func (d *dispatchStub) Dispatch(_ context.Context, a Analysis) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, a)
	return d.fail
}

type liveStub struct {
	canceled []string
	thinking map[string][]ThinkingEvent
}

func (l *liveStub) Cancel(id string) bool {
	l.canceled = append(l.canceled, id)
	_, ok := l.thinking[id]
	return ok
}

func (l *liveStub) Thinking(id string, since int) ([]ThinkingEvent, bool) {
	events, ok := l.thinking[id]
	if !ok {
		return nil, false
	}
	var out []ThinkingEvent
	for _, ev := range events {
		if ev.Index >= since {
			out = append(out, ev)
		}
	}
	return out, true
}

type catalogStub struct{}

func (catalogStub) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return []llm.ModelInfo{{ID: "openai/gpt-5.3-codex", ContextLength: 400000}}, nil
}

func (catalogStub) ListAllModels(_ context.Context, q string) ([]llm.ModelInfo, error) {
	if q == "none" {
		return nil, nil
	}
	return []llm.ModelInfo{{ID: "vendor/" + q}}, nil
}

type fixture struct {
	router   *gin.Engine
	repo     *MemoryRepo
	dispatch *dispatchStub
	live     *liveStub
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := NewMemoryRepo()
	dispatch := &dispatchStub{}
	live := &liveStub{thinking: map[string][]ThinkingEvent{}}
	svc := &Service{
		Repo:         repo,
		Docs:         &documents.Service{Store: local.New(t.TempDir()), Repo: documents.NewMemoryRepo()},
		Dispatch:     dispatch,
		Live:         live,
		DefaultModel: "anthropic/claude-sonnet-4.6",
	}
	h := NewHandler(svc, catalogStub{}, 1)
	h.limiter = nil
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return fixture{router: r, repo: repo, dispatch: dispatch, live: live}
}

func (f fixture) do(method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for name, content := range files {
		fw, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestStartAnalysisStoresUploadsAndDispatches(t *testing.T) {
	f := newFixture(t)
	body, ct := multipartBody(t,
		map[string]string{"analysis_type": "Quick", "thinking": "off"},
		map[string]string{"sutartis.pdf": "%PDF-1.4", "bundle.zip": "PK"},
	)

	resp := f.do(http.MethodPost, "/api/v1/analyses", body, ct)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil || created.ID == "" {
		t.Fatalf("decode response: %v (%+v)", err, created)
	}

	a, err := f.repo.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Status != StatusPending || a.Model != "anthropic/claude-sonnet-4.6" || a.AnalysisType != "quick" || a.Thinking != "off" {
		t.Fatalf("unexpected analysis: %+v", a)
	}
	if len(a.Uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %+v", a.Uploads)
	}
	for _, u := range a.Uploads {
		if !strings.HasPrefix(u.StorageKey, "uploads/"+a.ID+"/") {
			t.Fatalf("unexpected storage key %q", u.StorageKey)
		}
	}
	if len(f.dispatch.got) != 1 || f.dispatch.got[0].ID != a.ID {
		t.Fatalf("expected one dispatch, got %+v", f.dispatch.got)
	}
}

func TestStartAnalysisRequiresFiles(t *testing.T) {
	f := newFixture(t)
	body, ct := multipartBody(t, map[string]string{"model": "x/y"}, nil)
	resp := f.do(http.MethodPost, "/api/v1/analyses", body, ct)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "validation_error") {
		t.Fatalf("unexpected body: %s", resp.Body.String())
	}
}

func TestStartAnalysisTooLarge(t *testing.T) {
	f := newFixture(t)
	body, ct := multipartBody(t, nil, map[string]string{"big.pdf": strings.Repeat("x", 2<<20)})
	resp := f.do(http.MethodPost, "/api/v1/analyses", body, ct)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
}

func TestStartAnalysisDispatchFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.dispatch.fail = errors.New("queue down")
	body, ct := multipartBody(t, nil, map[string]string{"a.pdf": "%PDF"})

	resp := f.do(http.MethodPost, "/api/v1/analyses", body, ct)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	list, _ := f.repo.List(context.Background(), 10, 0)
	if len(list) != 1 || list[0].Status != StatusFailed || !strings.Contains(list[0].Error, "queue down") {
		t.Fatalf("expected FAILED analysis, got %+v", list)
	}
}

func TestGetAnalysisAndEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.repo.Create(ctx, Analysis{ID: "an-1", Status: StatusExtracting, Model: "m"})
	for i, typ := range []string{EventFileParsed, EventExtractionStarted, EventExtractionCompleted} {
		_ = f.repo.AppendEvent(ctx, "an-1", Event{Index: i, Type: typ, Data: map[string]any{}})
	}

	resp := f.do(http.MethodGet, "/api/v1/analyses/an-1", nil, "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"status":"EXTRACTING"`) {
		t.Fatalf("unexpected get: %d %s", resp.Code, resp.Body.String())
	}

	resp = f.do(http.MethodGet, "/api/v1/analyses/an-1/events?since=1", nil, "")
	var events []Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 2 || events[0].Type != EventExtractionStarted {
		t.Fatalf("unexpected events: %+v", events)
	}

	resp = f.do(http.MethodGet, "/api/v1/analyses/missing/events", nil, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestEventsPollLimited(t *testing.T) {
	f := newFixture(t)
	_ = f.repo.Create(context.Background(), Analysis{ID: "an-1", Status: StatusParsing})
	svc := &Service{Repo: f.repo}
	h := NewHandler(svc, nil, 1)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/an-1/events", nil))
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes: %v", codes)
	}
}

func TestThinkingReturnsLiveBuffer(t *testing.T) {
	f := newFixture(t)
	_ = f.repo.Create(context.Background(), Analysis{ID: "an-1", Status: StatusExtracting})
	_ = f.repo.Create(context.Background(), Analysis{ID: "an-2", Status: StatusExtracting})
	f.live.thinking["an-1"] = []ThinkingEvent{{Index: 0, Phase: "extraction", Text: "a"}, {Index: 1, Phase: "extraction", Text: "b"}}

	resp := f.do(http.MethodGet, "/api/v1/analyses/an-1/thinking?since=1", nil, "")
	var events []ThinkingEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Text != "b" {
		t.Fatalf("unexpected thinking: %+v", events)
	}

	resp = f.do(http.MethodGet, "/api/v1/analyses/an-2/thinking", nil, "")
	if strings.TrimSpace(resp.Body.String()) != "[]" {
		t.Fatalf("expected empty list for non-live run, got %s", resp.Body.String())
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.repo.Create(ctx, Analysis{ID: "run", Status: StatusParsing})
	_ = f.repo.Create(ctx, Analysis{ID: "done", Status: StatusCompleted})

	resp := f.do(http.MethodPost, "/api/v1/analyses/run/cancel", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	a, _ := f.repo.Get(ctx, "run")
	if a.Status != StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", a.Status)
	}
	if len(f.live.canceled) != 1 || f.live.canceled[0] != "run" {
		t.Fatalf("expected live cancel signal, got %v", f.live.canceled)
	}

	resp = f.do(http.MethodPost, "/api/v1/analyses/done/cancel", nil, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestCancelStopsRunningEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.repo.Create(ctx, Analysis{ID: "evaluating", Status: StatusCompleted})
	f.live.thinking["evaluating"] = []ThinkingEvent{}

	resp := f.do(http.MethodPost, "/api/v1/analyses/evaluating/cancel", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(f.live.canceled) != 1 || f.live.canceled[0] != "evaluating" {
		t.Fatalf("expected live cancel signal, got %v", f.live.canceled)
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED in response, got %s", body.Status)
	}
	a, _ := f.repo.Get(ctx, "evaluating")
	if a.Status != StatusCompleted {
		t.Fatalf("status must stay COMPLETED, got %s", a.Status)
	}
}

func TestModelsRoutes(t *testing.T) {
	f := newFixture(t)
	resp := f.do(http.MethodGet, "/api/v1/models", nil, "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "gpt-5.3-codex") {
		t.Fatalf("unexpected models: %d %s", resp.Code, resp.Body.String())
	}
	resp = f.do(http.MethodGet, "/api/v1/models/search?q=none", nil, "")
	if strings.TrimSpace(resp.Body.String()) != "[]" {
		t.Fatalf("expected empty search, got %s", resp.Body.String())
	}
}
