// Package providers adapts structured-output requests to each model family
// reachable through the gateway.
package providers

import "encoding/json"

// ThinkingLevel is the requested reasoning effort.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

var thinkingBudgets = map[ThinkingLevel]int{
	ThinkingLow:    2000,
	ThinkingMedium: 5000,
	ThinkingHigh:   10000,
}

// ThinkingConfig is the gateway's reasoning budget directive.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// BudgetFor maps a level to its thinking config. Off and unknown levels yield nil.
func BudgetFor(level ThinkingLevel) *ThinkingConfig {
	budget, ok := thinkingBudgets[level]
	if !ok {
		return nil
	}
	return &ThinkingConfig{Type: "enabled", BudgetTokens: budget}
}

// ResponseFormat requests grammar-constrained output.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *NamedSchema `json:"json_schema,omitempty"`
}

type NamedSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict,omitempty"`
	Schema map[string]any `json:"schema"`
}

// Routing pins a request to specific upstream providers.
type Routing struct {
	Order          []string `json:"order"`
	AllowFallbacks bool     `json:"allow_fallbacks"`
}

// Message is one chat turn. Content is either a string or []ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multipart message.
type ContentPart struct {
	Type         string        `json:"type"`
	Text         string        `json:"text,omitempty"`
	File         *FileData     `json:"file,omitempty"`
	ImageURL     *ImageURL     `json:"image_url,omitempty"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

type FileData struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type CacheControl struct {
	Type string `json:"type"`
}

// Provider hides one model family's request quirks.
type Provider interface {
	Name() string
	// PrepareSchema returns a vendor-acceptable copy of raw. raw is never mutated.
	PrepareSchema(raw map[string]any) map[string]any
	// BuildResponseFormat must run before BuildMessages for the same request.
	BuildResponseFormat(schema map[string]any, name string) *ResponseFormat
	BuildMessages(system string, user any) []Message
	BuildThinkingConfig(level ThinkingLevel) *ThinkingConfig
	Temperature(requested *float64, level ThinkingLevel) *float64
	SupportsNativePDF() bool
	// Routing returns nil when the gateway may route freely.
	Routing() *Routing
}

func plainMessages(system string, user any) []Message {
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func namedFormat(schema map[string]any, name string, strict bool) *ResponseFormat {
	return &ResponseFormat{
		Type:       "json_schema",
		JSONSchema: &NamedSchema{Name: name, Strict: strict, Schema: schema},
	}
}

func indentJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}
