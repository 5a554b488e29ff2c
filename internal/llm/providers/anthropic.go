package providers

import (
	"strings"
	"sync"

	"github.com/marcobitx/foxdoc/internal/llm/schema"
)

// Anthropic embeds the schema in the system prompt instead of requesting a
// compiled grammar, and pins routing to Anthropic's own endpoints.
//
// The pending schema lives between BuildResponseFormat and BuildMessages, so
// callers hold the provider's lock across the build sequence.
type Anthropic struct {
	sync.Mutex
	pending string
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) PrepareSchema(raw map[string]any) map[string]any {
	return schema.Clone(raw)
}

func (a *Anthropic) BuildResponseFormat(s map[string]any, name string) *ResponseFormat {
	a.pending = indentJSON(s)
	return nil
}

func (a *Anthropic) BuildMessages(system string, user any) []Message {
	text := system
	if a.pending != "" {
		text = system + schemaInstructions(a.pending)
		a.pending = ""
	}
	return []Message{
		{
			Role: "system",
			Content: []ContentPart{{
				Type:         "text",
				Text:         text,
				CacheControl: &CacheControl{Type: "ephemeral"},
			}},
		},
		{Role: "user", Content: user},
	}
}

func (a *Anthropic) BuildThinkingConfig(level ThinkingLevel) *ThinkingConfig {
	return BudgetFor(level)
}

// Temperature is fixed at 1.0 while extended thinking is on.
func (a *Anthropic) Temperature(requested *float64, level ThinkingLevel) *float64 {
	if level != ThinkingOff && level != "" {
		one := 1.0
		return &one
	}
	return requested
}

func (a *Anthropic) SupportsNativePDF() bool { return true }

func (a *Anthropic) Routing() *Routing {
	return &Routing{Order: []string{"Anthropic"}, AllowFallbacks: false}
}

func schemaInstructions(schemaJSON string) string {
	var b strings.Builder
	b.WriteString("\n\n## Output format\n")
	b.WriteString("Respond with a single JSON object that validates against this JSON Schema:\n")
	b.WriteString(schemaJSON)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Output only the JSON object. No markdown fences, no commentary.\n")
	b.WriteString("- Include every property defined in the schema; use null when a value is unknown.\n")
	b.WriteString("- Do not add properties that are not in the schema.\n")
	return b.String()
}
