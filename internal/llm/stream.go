package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/marcobitx/foxdoc/internal/llm/providers"
	"github.com/marcobitx/foxdoc/internal/llm/schema"
	"github.com/marcobitx/foxdoc/internal/shared/metrics"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

const maxSSELine = 4 << 20

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// errStreamFallback marks stream outcomes that are retried on the
// non-streaming path.
var errStreamFallback = errors.New("llm: stream fallback")

// CompleteStructuredStreaming behaves like CompleteStructured but streams the
// response so reasoning deltas reach onThinking as they arrive. Without a
// callback it is CompleteStructured.
func (c *Client) CompleteStructuredStreaming(ctx context.Context, req StructuredRequest, out Target, onThinking func(string)) (Usage, error) {
	if onThinking == nil {
		return c.CompleteStructured(ctx, req, out)
	}
	model := c.model(req.Model)
	p := c.providers.For(model)

	usage, err := c.streamStructured(ctx, p, model, req, out, onThinking)
	if err == nil || !errors.Is(err, errStreamFallback) {
		return usage, err
	}
	telemetry.Warn("llm.stream.fallback", map[string]any{
		"schema": out.SchemaName(),
		"model":  model,
		"reason": err.Error(),
	})
	return c.CompleteStructured(ctx, req, out)
}

func (c *Client) streamStructured(ctx context.Context, p providers.Provider, model string, req StructuredRequest, out Target, onThinking func(string)) (usage Usage, err error) {
	defer func() {
		if r := recover(); r != nil {
			usage, err = Usage{}, fmt.Errorf("%w: panic: %v", errStreamFallback, r)
		}
	}()

	body, prepared := c.structuredBody(p, model, req, out)
	body.Stream = true

	var buf strings.Builder
	usage, err = c.stream(ctx, body, func(delta streamDelta) error {
		if delta.reasoning != "" {
			safeCallback(onThinking, delta.reasoning)
		}
		buf.WriteString(delta.content)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Usage{}, ctx.Err()
		}
		return Usage{}, fmt.Errorf("%w: %v", errStreamFallback, err)
	}

	content := buf.String()
	if strings.TrimSpace(content) == "" {
		return Usage{}, fmt.Errorf("%w: empty stream", errStreamFallback)
	}
	if !json.Valid([]byte(schema.ExtractJSON(content))) {
		return Usage{}, fmt.Errorf("%w: stream produced invalid JSON", errStreamFallback)
	}
	metrics.AddLLMTokens(usage.InputTokens, usage.OutputTokens)
	return c.finishStructured(ctx, p, model, out, prepared, content, usage)
}

func safeCallback(fn func(string), text string) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Debug("llm.stream.callback_panic", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	fn(text)
}

type streamDelta struct {
	content   string
	reasoning string
}

// stream posts body and feeds each SSE delta to fn. Unparseable lines are
// skipped. A non-200 response is a client error carrying a body preview.
func (c *Client) stream(ctx context.Context, body chatRequest, fn func(streamDelta) error) (Usage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Usage{}, fmt.Errorf("llm: encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/completions", raw)
	if err != nil {
		return Usage{}, err
	}
	req.Header.Set("Accept", "text/event-stream")
	metrics.IncLLMRequest()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Usage{}, &Error{Kind: ErrTransport, Msg: "Transport error: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return Usage{}, &Error{
			Kind:       ErrClient,
			StatusCode: resp.StatusCode,
			Body:       string(text),
			Msg:        fmt.Sprintf("Streaming request failed (%d): %s", resp.StatusCode, preview(text, 300)),
		}
	}

	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELine)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimSpace(line[len("data: "):])
		if payload == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			telemetry.Debug("llm.stream.skip_chunk", map[string]any{"payload": truncate(payload, 100)})
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.toUsage()
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		d := chunk.Choices[0].Delta
		delta := streamDelta{content: d.Content, reasoning: d.Reasoning}
		if delta.reasoning == "" {
			delta.reasoning = d.ReasoningContent
		}
		if delta.content == "" && delta.reasoning == "" {
			continue
		}
		if err := fn(delta); err != nil {
			return usage, err
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, &Error{Kind: ErrTransport, Msg: "Transport error: " + err.Error(), Err: err}
	}
	return usage, nil
}
