package providers

import "github.com/marcobitx/foxdoc/internal/llm/schema"

// Generic is used for any model family without a dedicated strategy. It
// applies the strictest common rules plus fallback descriptions.
type Generic struct{}

func (Generic) Name() string { return "generic" }

func (Generic) PrepareSchema(raw map[string]any) map[string]any {
	return strictClean(schema.ResolveRefs(raw), "", true)
}

func (Generic) BuildResponseFormat(s map[string]any, name string) *ResponseFormat {
	return namedFormat(s, name, false)
}

func (Generic) BuildMessages(system string, user any) []Message {
	return plainMessages(system, user)
}

func (Generic) BuildThinkingConfig(level ThinkingLevel) *ThinkingConfig { return BudgetFor(level) }

func (Generic) Temperature(requested *float64, _ ThinkingLevel) *float64 { return requested }

func (Generic) SupportsNativePDF() bool { return false }

func (Generic) Routing() *Routing { return nil }
