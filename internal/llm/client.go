// Package llm talks to the OpenRouter chat-completions gateway: structured
// output with repair, streaming, plain text, and the model catalog.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/marcobitx/foxdoc/internal/llm/providers"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	defaultMaxTokens   = 32000
	defaultTemperature = 0.1
	requestTimeout     = 300 * time.Second
	connectTimeout     = 10 * time.Second
	appReferer         = "https://foxdoc.app"
	appTitle           = "FoxDoc"
)

// Options configures a Client.
type Options struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	PDFEngine    string
	// Providers is shared so each vendor strategy exists once per process.
	Providers  *providers.Registry
	HTTPClient *http.Client
}

// Client issues gateway requests. It is safe for concurrent use.
type Client struct {
	apiKey       string
	baseURL      string
	defaultModel string
	maxTokens    int
	pdfEngine    string
	providers    *providers.Registry
	httpClient   *http.Client

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewClient constructs a gateway client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	c := &Client{
		apiKey:       opts.APIKey,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		pdfEngine:    opts.PDFEngine,
		providers:    opts.Providers,
		httpClient:   opts.HTTPClient,
		sleep:        sleepContext,
		jitter:       rand.Float64,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.pdfEngine == "" {
		c.pdfEngine = "mistral-ocr"
	}
	if c.providers == nil {
		c.providers = providers.NewRegistry()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
				MaxIdleConnsPerHost: 16,
			},
		}
	}
	return c, nil
}

// Provider returns the strategy used for model.
func (c *Client) Provider(model string) providers.Provider {
	return c.providers.For(c.model(model))
}

// PDFEngine is the gateway file-parser engine used for PDF attachments.
func (c *Client) PDFEngine() string {
	return c.pdfEngine
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) model(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return c.defaultModel
}

// Plugin is a gateway plugin directive.
type Plugin struct {
	ID  string     `json:"id"`
	PDF *PDFPlugin `json:"pdf,omitempty"`
}

type PDFPlugin struct {
	Engine string `json:"engine"`
}

type chatRequest struct {
	Model          string                    `json:"model"`
	Messages       []providers.Message       `json:"messages"`
	MaxTokens      int                       `json:"max_tokens"`
	Temperature    *float64                  `json:"temperature,omitempty"`
	ResponseFormat *providers.ResponseFormat `json:"response_format,omitempty"`
	Thinking       *providers.ThinkingConfig `json:"thinking,omitempty"`
	Plugins        []Plugin                  `json:"plugins,omitempty"`
	Provider       *providers.Routing        `json:"provider,omitempty"`
	Stream         bool                      `json:"stream,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func (u *wireUsage) toUsage() Usage {
	if u == nil {
		return Usage{}
	}
	return Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// decodeChat returns the first choice's content. A response without a choice
// is a parse error; null content is reported as empty.
func decodeChat(raw []byte) (string, Usage, error) {
	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", Usage{}, parseError("No content in response: "+preview(raw, 300), err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, parseError("No content in response: "+preview(raw, 300), nil)
	}
	content := ""
	if c := resp.Choices[0].Message.Content; c != nil {
		content = *c
	}
	return content, resp.Usage.toUsage(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
