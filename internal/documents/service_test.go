package documents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/marcobitx/foxdoc/internal/shared/storage/object/local"
)

func TestUploadAndMaterialize(t *testing.T) {
	svc := &Service{Store: local.New(t.TempDir()), Repo: NewMemoryRepo()}
	ctx := context.Background()

	var uploads []Upload
	for _, name := range []string{"spec.pdf", "spec.pdf", "bundle.zip"} {
		u, err := svc.Upload(ctx, "an-1", name, strings.NewReader("data-"+name))
		if err != nil {
			t.Fatalf("Upload %s: %v", name, err)
		}
		uploads = append(uploads, u)
	}
	if uploads[0].StorageKey == uploads[1].StorageKey {
		t.Fatalf("duplicate names must get distinct keys")
	}

	paths, err := svc.Materialize(ctx, t.TempDir(), uploads)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if len(paths) != 3 || !strings.HasSuffix(paths[2], "bundle.zip") {
		t.Fatalf("unexpected paths: %v", paths)
	}
	data, err := os.ReadFile(paths[1])
	if err != nil || string(data) != "data-spec.pdf" {
		t.Fatalf("unexpected content %q (%v)", data, err)
	}

	if _, err := svc.Upload(ctx, "", "a.pdf", strings.NewReader("x")); err != ErrInvalidInput {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestHandlerListsWithoutContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Add(ctx, ParsedDocument{ID: "d2", AnalysisID: "an-1", Position: 1, Filename: "b.pdf", Content: "second"})
	_ = repo.Add(ctx, ParsedDocument{ID: "d1", AnalysisID: "an-1", Position: 0, Filename: "a.pdf", Content: "first"})

	r := gin.New()
	NewHandler(&Service{Repo: repo}).RegisterRoutes(r.Group("/api/v1"))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/an-1/documents", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var docs []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(docs) != 2 || docs[0]["filename"] != "a.pdf" {
		t.Fatalf("unexpected list: %v", docs)
	}
	if _, ok := docs[0]["content"]; ok {
		t.Fatalf("content must be omitted from listing")
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/an-1/documents/d2", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"content":"second"`) {
		t.Fatalf("unexpected get: %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/an-1/documents/nope", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
