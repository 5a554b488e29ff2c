package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
)

func sseBody(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func deltaLine(field, text string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{field: text}}},
	})
	return "data: " + string(raw)
}

// streamGateway answers streaming requests with sse and others with plain.
type streamGateway struct {
	mu          sync.Mutex
	sse         string
	sseStatus   int
	plain       string
	streamCalls int
	plainCalls  int
}

func (g *streamGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	g.mu.Lock()
	defer g.mu.Unlock()
	if payload["stream"] == true {
		g.streamCalls++
		status := g.sseStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(g.sse))
		return
	}
	g.plainCalls++
	_, _ = w.Write([]byte(g.plain))
}

func TestStructuredStreamingForwardsThinking(t *testing.T) {
	g := &streamGateway{sse: sseBody(
		": keep-alive",
		deltaLine("reasoning", "Looking at the tender. "),
		deltaLine("reasoning_content", "Counting lots."),
		"data: {broken json",
		deltaLine("content", `{"title":"Roads",`),
		deltaLine("content", `"count":4}`),
		`data: {"choices":[],"usage":{"prompt_tokens":11,"completion_tokens":22}}`,
		"data: [DONE]",
	)}
	c := newTestClient(t, g)

	var thoughts []string
	var out testReport
	usage, err := c.CompleteStructuredStreaming(context.Background(), StructuredRequest{System: "s", User: "u"}, &out, func(s string) {
		thoughts = append(thoughts, s)
		panic("callback failure must not abort the stream")
	})
	if err != nil {
		t.Fatalf("CompleteStructuredStreaming: %v", err)
	}
	if out.Title != "Roads" || out.Count != 4 {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if len(thoughts) != 2 || thoughts[1] != "Counting lots." {
		t.Fatalf("unexpected thinking chunks: %#v", thoughts)
	}
	if usage != (Usage{InputTokens: 11, OutputTokens: 22}) {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if g.plainCalls != 0 {
		t.Fatalf("no fallback expected")
	}
}

func TestStructuredStreamingFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		sse    string
		status int
	}{
		{name: "non-200", sse: "overloaded", status: http.StatusServiceUnavailable},
		{name: "empty buffer", sse: sseBody(deltaLine("reasoning", "hmm"), "data: [DONE]")},
		{name: "invalid json", sse: sseBody(deltaLine("content", `{"title": "x",`), "data: [DONE]")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &streamGateway{sse: tt.sse, sseStatus: tt.status, plain: chatBody(`{"title":"plain","count":1}`, 3, 4)}
			c := newTestClient(t, g)
			var out testReport
			usage, err := c.CompleteStructuredStreaming(context.Background(), StructuredRequest{System: "s", User: "u"}, &out, func(string) {})
			if err != nil {
				t.Fatalf("CompleteStructuredStreaming: %v", err)
			}
			if g.streamCalls != 1 || g.plainCalls != 1 {
				t.Fatalf("expected one stream and one fallback call, got %d/%d", g.streamCalls, g.plainCalls)
			}
			if out.Title != "plain" || usage != (Usage{InputTokens: 3, OutputTokens: 4}) {
				t.Fatalf("unexpected fallback result: %+v %+v", out, usage)
			}
		})
	}
}

func TestStructuredStreamingSchemaInvalidUsesCorrection(t *testing.T) {
	g := &streamGateway{
		sse: sseBody(
			deltaLine("content", `{"title":"","count":1}`),
			`data: {"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":5}}`,
			"data: [DONE]",
		),
		plain: chatBody(`{"title":"corrected","count":1}`, 2, 2),
	}
	c := newTestClient(t, g)
	var out testReport
	usage, err := c.CompleteStructuredStreaming(context.Background(), StructuredRequest{System: "s", User: "u"}, &out, func(string) {})
	if err != nil {
		t.Fatalf("CompleteStructuredStreaming: %v", err)
	}
	if out.Title != "corrected" || usage != (Usage{InputTokens: 7, OutputTokens: 7}) {
		t.Fatalf("unexpected corrected result: %+v %+v", out, usage)
	}
}

func TestStructuredStreamingWithoutCallbackDelegates(t *testing.T) {
	g := &streamGateway{plain: chatBody(`{"title":"plain","count":1}`, 1, 1)}
	c := newTestClient(t, g)
	var out testReport
	if _, err := c.CompleteStructuredStreaming(context.Background(), StructuredRequest{System: "s", User: "u"}, &out, nil); err != nil {
		t.Fatalf("CompleteStructuredStreaming: %v", err)
	}
	if g.streamCalls != 0 || g.plainCalls != 1 {
		t.Fatalf("expected delegation to non-streaming path")
	}
}

func TestStreamText(t *testing.T) {
	g := &streamGateway{sse: sseBody(
		deltaLine("content", "Labas"),
		"data: not-json",
		deltaLine("content", ", pasauli"),
		"data: [DONE]",
		deltaLine("content", "ignored"),
	)}
	c := newTestClient(t, g)

	var got strings.Builder
	_, err := c.StreamText(context.Background(), TextRequest{System: "s", User: "hi"}, func(d string) error {
		got.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamText: %v", err)
	}
	if got.String() != "Labas, pasauli" {
		t.Fatalf("unexpected text: %q", got.String())
	}
}

func TestStreamTextNon200(t *testing.T) {
	g := &streamGateway{sse: "quota exceeded", sseStatus: http.StatusPaymentRequired}
	c := newTestClient(t, g)
	_, err := c.StreamText(context.Background(), TextRequest{System: "s", User: "hi"}, func(string) error { return nil })
	if !errors.Is(err, ErrClient) || !strings.Contains(err.Error(), "Streaming request failed (402): quota exceeded") {
		t.Fatalf("unexpected error: %v", err)
	}
}
