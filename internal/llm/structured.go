package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/marcobitx/foxdoc/internal/llm/providers"
	"github.com/marcobitx/foxdoc/internal/llm/schema"
	"github.com/marcobitx/foxdoc/internal/shared/metrics"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

// maxEmptyAttempts bounds full re-issues after blank content. Together with
// the single correction call a structured completion makes at most four
// gateway calls (five when a stream attempt falls back).
const maxEmptyAttempts = 3

const correctionContentLimit = 3000

// Target is implemented by pointer types that can be requested as structured output.
type Target interface {
	SchemaName() string
	JSONSchema() map[string]any
}

type validator interface {
	Validate() error
}

// StructuredRequest describes one structured completion.
type StructuredRequest struct {
	System string
	// User is a string or []providers.ContentPart.
	User        any
	Model       string
	Temperature *float64
	Thinking    providers.ThinkingLevel
	MaxTokens   int
	Plugins     []Plugin
}

// CompleteStructured asks the model for JSON matching out's schema and decodes
// it into out.
func (c *Client) CompleteStructured(ctx context.Context, req StructuredRequest, out Target) (Usage, error) {
	model := c.model(req.Model)
	p := c.providers.For(model)

	for attempt := 0; ; attempt++ {
		body, prepared := c.structuredBody(p, model, req, out)
		raw, err := c.send(ctx, http.MethodPost, "/chat/completions", body)
		if err != nil {
			return Usage{}, err
		}
		content, usage, err := decodeChat(raw)
		if err != nil {
			return Usage{}, err
		}
		if strings.TrimSpace(content) != "" {
			metrics.AddLLMTokens(usage.InputTokens, usage.OutputTokens)
			return c.finishStructured(ctx, p, model, out, prepared, content, usage)
		}
		if attempt+1 >= maxEmptyAttempts {
			return Usage{}, parseError(fmt.Sprintf("Empty response after %d attempts for %s", maxEmptyAttempts, out.SchemaName()), nil)
		}
		wait := time.Duration((1.5 + c.jitter()*1.5) * float64(attempt+1) * float64(time.Second))
		telemetry.Warn("llm.empty_response", map[string]any{
			"schema":   out.SchemaName(),
			"model":    model,
			"attempt":  attempt + 1,
			"delay_ms": wait.Milliseconds(),
		})
		if err := c.sleep(ctx, wait); err != nil {
			return Usage{}, err
		}
	}
}

// structuredBody runs the provider build sequence under the provider's lock
// when it keeps per-request state.
func (c *Client) structuredBody(p providers.Provider, model string, req StructuredRequest, out Target) (chatRequest, map[string]any) {
	if l, ok := p.(sync.Locker); ok {
		l.Lock()
		defer l.Unlock()
	}
	level := req.Thinking
	if level == "" {
		level = providers.ThinkingOff
	}
	temp := req.Temperature
	if temp == nil {
		t := defaultTemperature
		temp = &t
	}

	prepared := p.PrepareSchema(out.JSONSchema())
	format := p.BuildResponseFormat(prepared, out.SchemaName())
	messages := p.BuildMessages(req.System, req.User)
	thinking := p.BuildThinkingConfig(level)
	temperature := p.Temperature(temp, level)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	return chatRequest{
		Model:          model,
		Messages:       messages,
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: format,
		Thinking:       thinking,
		Plugins:        req.Plugins,
		Provider:       p.Routing(),
	}, prepared
}

func (c *Client) finishStructured(ctx context.Context, p providers.Provider, model string, out Target, prepared map[string]any, content string, usage Usage) (Usage, error) {
	err := decodeInto(content, out)
	if err == nil {
		return usage, nil
	}
	telemetry.Warn("llm.structured.correction", map[string]any{
		"schema": out.SchemaName(),
		"model":  model,
		"error":  err.Error(),
	})
	fix, cerr := c.correct(ctx, p, model, out, prepared, content, err)
	if cerr != nil {
		return Usage{}, cerr
	}
	return usage.Add(fix), nil
}

const correctionSystem = "The previous answer was not valid JSON. Convert the content below into a strictly valid " +
	"JSON object that matches the given schema. Reply with JSON only: no markdown, no explanations, no extra text."

// correct re-asks the model to convert its failed output into valid JSON.
func (c *Client) correct(ctx context.Context, p providers.Provider, model string, out Target, prepared map[string]any, original string, cause error) (Usage, error) {
	schemaJSON, _ := json.MarshalIndent(prepared, "", "  ")
	user := "Content to convert into JSON:\n\n" + truncate(original, correctionContentLimit) +
		"\n\nRequired JSON schema:\n" + string(schemaJSON) +
		"\n\nReturn ONLY the valid JSON object."

	zero := 0.0
	body := func() chatRequest {
		if l, ok := p.(sync.Locker); ok {
			l.Lock()
			defer l.Unlock()
		}
		format := p.BuildResponseFormat(prepared, out.SchemaName())
		return chatRequest{
			Model:          model,
			Messages:       p.BuildMessages(correctionSystem, user),
			MaxTokens:      c.maxTokens,
			Temperature:    &zero,
			ResponseFormat: format,
			Provider:       p.Routing(),
		}
	}()

	raw, err := c.send(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return Usage{}, err
	}
	content, usage, err := decodeChat(raw)
	if err != nil {
		return Usage{}, parseError("No content in correction response: "+preview(raw, 300), err)
	}
	metrics.AddLLMTokens(usage.InputTokens, usage.OutputTokens)
	if strings.TrimSpace(content) == "" {
		return Usage{}, parseError("Empty correction response for "+out.SchemaName(), cause)
	}
	if err := decodeInto(content, out); err != nil {
		return Usage{}, parseError(fmt.Sprintf(
			"Failed to parse structured output after correction retry: %v (first attempt: %v)\nContent: %s",
			err, cause, truncate(schema.ExtractJSON(content), 500)), err)
	}
	telemetry.Info("llm.structured.corrected", map[string]any{"schema": out.SchemaName(), "model": model})
	return usage, nil
}

// decodeInto resets out, decodes the JSON object found in content, and runs
// the target's own validation when it has one.
func decodeInto(content string, out Target) error {
	cleaned := schema.ExtractJSON(content)
	if v := reflect.ValueOf(out); v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().SetZero()
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return err
	}
	if v, ok := out.(validator); ok {
		return v.Validate()
	}
	return nil
}
