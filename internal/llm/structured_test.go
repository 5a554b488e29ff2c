package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCompleteStructuredSuccess(t *testing.T) {
	g := &fakeGateway{script: []scripted{{200, chatBody("```json\n{\"title\":\"Tender\",\"count\":2}\n```", 100, 20)}}}
	c := newTestClient(t, g)

	var out testReport
	usage, err := c.CompleteStructured(context.Background(), StructuredRequest{System: "sys", User: "doc"}, &out)
	if err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	if out.Title != "Tender" || out.Count != 2 {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if usage != (Usage{InputTokens: 100, OutputTokens: 20}) {
		t.Fatalf("unexpected usage: %+v", usage)
	}

	body := g.body(0)
	if body["temperature"] != 0.1 || body["max_tokens"] != float64(32000) {
		t.Fatalf("unexpected defaults: temperature=%v max_tokens=%v", body["temperature"], body["max_tokens"])
	}
	rf, _ := body["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %#v", body["response_format"])
	}
	if _, ok := body["thinking"]; ok {
		t.Fatalf("thinking must be omitted when off")
	}
}

func TestCompleteStructuredRetriesEmptyContent(t *testing.T) {
	g := &fakeGateway{script: []scripted{
		{200, chatBody("", 50, 0)},
		{200, chatBody("   \n", 60, 1)},
		{200, chatBody(`{"title":"ok","count":1}`, 70, 7)},
	}}
	c := newTestClient(t, g)

	var out testReport
	usage, err := c.CompleteStructured(context.Background(), StructuredRequest{System: "s", User: "u"}, &out)
	if err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	if g.callCount() != 3 {
		t.Fatalf("expected 3 calls, got %d", g.callCount())
	}
	if usage != (Usage{InputTokens: 70, OutputTokens: 7}) {
		t.Fatalf("usage must reflect only the final response, got %+v", usage)
	}
}

func TestCompleteStructuredEmptyExhausted(t *testing.T) {
	g := &fakeGateway{fallback: scripted{200, chatBody("", 1, 0)}}
	c := newTestClient(t, g)

	var out testReport
	_, err := c.CompleteStructured(context.Background(), StructuredRequest{System: "s", User: "u"}, &out)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Empty response after 3 attempts for TestReport") {
		t.Fatalf("unexpected message: %v", err)
	}
	if g.callCount() != 3 {
		t.Fatalf("expected 3 calls, got %d", g.callCount())
	}
}

func TestCompleteStructuredCorrectionSumsUsage(t *testing.T) {
	g := &fakeGateway{script: []scripted{
		{200, chatBody(`Here is the data: {"title": "x", "count": }`, 100, 40)},
		{200, chatBody(`{"title":"fixed","count":3}`, 30, 10)},
	}}
	c := newTestClient(t, g)

	var out testReport
	usage, err := c.CompleteStructured(context.Background(), StructuredRequest{
		System:   "s",
		User:     "u",
		Thinking: "high",
	}, &out)
	if err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	if usage != (Usage{InputTokens: 130, OutputTokens: 50}) {
		t.Fatalf("expected summed usage, got %+v", usage)
	}
	if out.Title != "fixed" {
		t.Fatalf("unexpected decode: %+v", out)
	}

	fix := g.body(1)
	if fix["temperature"] != 0.0 {
		t.Fatalf("correction must use temperature 0, got %v", fix["temperature"])
	}
	if _, ok := fix["thinking"]; ok {
		t.Fatalf("correction must disable thinking")
	}
	msgs := fix["messages"].([]any)
	user := msgs[1].(map[string]any)["content"].(string)
	if !strings.Contains(user, `"count": }`) || !strings.Contains(user, `"additionalProperties": false`) {
		t.Fatalf("correction prompt must carry original content and schema: %s", user)
	}
}

func TestCompleteStructuredSchemaInvalidTriggersCorrection(t *testing.T) {
	g := &fakeGateway{script: []scripted{
		{200, chatBody(`{"title":"","count":1}`, 10, 1)},
		{200, chatBody(`{"title":"now valid","count":1}`, 5, 1)},
	}}
	c := newTestClient(t, g)

	var out testReport
	if _, err := c.CompleteStructured(context.Background(), StructuredRequest{System: "s", User: "u"}, &out); err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	if g.callCount() != 2 || out.Title != "now valid" {
		t.Fatalf("expected correction to fix validation failure: calls=%d out=%+v", g.callCount(), out)
	}
}

func TestCompleteStructuredCorrectionFails(t *testing.T) {
	tests := []struct {
		name string
		fix  string
		want string
	}{
		{name: "empty", fix: chatBody("", 1, 0), want: "Empty correction response for TestReport"},
		{name: "still invalid", fix: chatBody("nope", 1, 1), want: "Failed to parse structured output after correction retry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGateway{script: []scripted{{200, chatBody("not json", 1, 1)}, {200, tt.fix}}}
			c := newTestClient(t, g)
			var out testReport
			_, err := c.CompleteStructured(context.Background(), StructuredRequest{System: "s", User: "u"}, &out)
			if !errors.Is(err, ErrParse) || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q parse error, got %v", tt.want, err)
			}
			if g.callCount() != 2 {
				t.Fatalf("expected exactly one correction call, got %d calls", g.callCount())
			}
		})
	}
}

func TestCompleteStructuredAnthropicRequestShape(t *testing.T) {
	g := &fakeGateway{fallback: scripted{200, chatBody(`{"title":"a","count":1}`, 1, 1)}}
	c := newTestClient(t, g)

	var out testReport
	_, err := c.CompleteStructured(context.Background(), StructuredRequest{
		System:   "extract",
		User:     "doc",
		Model:    "anthropic/claude-sonnet-4.6",
		Thinking: "medium",
	}, &out)
	if err != nil {
		t.Fatalf("CompleteStructured: %v", err)
	}
	body := g.body(0)
	if _, ok := body["response_format"]; ok {
		t.Fatalf("anthropic requests must not carry response_format")
	}
	if body["temperature"] != 1.0 {
		t.Fatalf("expected temperature 1.0 with thinking, got %v", body["temperature"])
	}
	provider, _ := body["provider"].(map[string]any)
	if provider["allow_fallbacks"] != false {
		t.Fatalf("expected pinned routing, got %#v", body["provider"])
	}
	system := body["messages"].([]any)[0].(map[string]any)["content"].([]any)[0].(map[string]any)
	if !strings.Contains(system["text"].(string), "Output format") {
		t.Fatalf("expected schema instructions in system block")
	}
}
