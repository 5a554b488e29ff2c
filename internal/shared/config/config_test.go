package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORE_TYPE", "MinIO")
	t.Setenv("LLM_MAX_TOKENS", "abc")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.ObjectStoreType != "minio" {
		t.Fatalf("expected minio store, got %q", cfg.ObjectStoreType)
	}
	if cfg.LLMMaxTokens != 32000 {
		t.Fatalf("expected default max tokens, got %d", cfg.LLMMaxTokens)
	}
	if len(cfg.CORSAllowOrigin) != 2 || cfg.CORSAllowOrigin[1] != "http://b.test" {
		t.Fatalf("unexpected origins: %#v", cfg.CORSAllowOrigin)
	}
}

func TestLoadModelOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	body := "models:\n  - id: x/model-a\n    context_length: 64000\n  - id: x/broken\n    context_length: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadModelOverrides(path)
	if err != nil {
		t.Fatalf("LoadModelOverrides: %v", err)
	}
	if len(got) != 1 || got["x/model-a"] != 64000 {
		t.Fatalf("unexpected overrides: %#v", got)
	}

	none, err := LoadModelOverrides("")
	if err != nil || none != nil {
		t.Fatalf("expected nil for empty path, got %#v %v", none, err)
	}
}
