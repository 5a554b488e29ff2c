package llm

import (
	"context"
	"net/http"

	"github.com/marcobitx/foxdoc/internal/llm/providers"
	"github.com/marcobitx/foxdoc/internal/shared/metrics"
)

// TextRequest describes a plain completion.
type TextRequest struct {
	System string
	User   string
	// History is sent after the system turn in streaming completions.
	History  []providers.Message
	Model    string
	Thinking providers.ThinkingLevel
}

// CompleteText returns the model's plain-text answer. Thinking defaults to high.
func (c *Client) CompleteText(ctx context.Context, req TextRequest) (string, Usage, error) {
	if req.Thinking == "" {
		req.Thinking = providers.ThinkingHigh
	}
	body := c.textBody(req, []providers.Message{
		{Role: "system", Content: req.System},
		{Role: "user", Content: req.User},
	})
	raw, err := c.send(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return "", Usage{}, err
	}
	content, usage, err := decodeChat(raw)
	if err != nil {
		return "", Usage{}, err
	}
	metrics.AddLLMTokens(usage.InputTokens, usage.OutputTokens)
	return content, usage, nil
}

// StreamText streams a chat answer, calling onDelta with each content delta.
// Thinking defaults to medium. An error from onDelta stops the stream.
func (c *Client) StreamText(ctx context.Context, req TextRequest, onDelta func(string) error) (Usage, error) {
	if req.Thinking == "" {
		req.Thinking = providers.ThinkingMedium
	}
	messages := make([]providers.Message, 0, len(req.History)+2)
	messages = append(messages, providers.Message{Role: "system", Content: req.System})
	messages = append(messages, req.History...)
	if req.User != "" {
		messages = append(messages, providers.Message{Role: "user", Content: req.User})
	}
	body := c.textBody(req, messages)
	body.Stream = true

	usage, err := c.stream(ctx, body, func(d streamDelta) error {
		if d.content == "" {
			return nil
		}
		return onDelta(d.content)
	})
	if err != nil {
		return usage, err
	}
	metrics.AddLLMTokens(usage.InputTokens, usage.OutputTokens)
	return usage, nil
}

func (c *Client) textBody(req TextRequest, messages []providers.Message) chatRequest {
	model := c.model(req.Model)
	p := c.providers.For(model)
	return chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
		Thinking:  providers.BudgetFor(req.Thinking),
		Provider:  p.Routing(),
	}
}
