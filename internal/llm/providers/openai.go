package providers

import "github.com/marcobitx/foxdoc/internal/llm/schema"

// OpenAI targets strict structured outputs: self-contained schemas, closed
// objects, and every property listed in required.
type OpenAI struct{}

func (OpenAI) Name() string { return "openai" }

func (OpenAI) PrepareSchema(raw map[string]any) map[string]any {
	return strictClean(schema.ResolveRefs(raw), "", false)
}

func (OpenAI) BuildResponseFormat(s map[string]any, name string) *ResponseFormat {
	return namedFormat(s, name, true)
}

func (OpenAI) BuildMessages(system string, user any) []Message {
	return plainMessages(system, user)
}

func (OpenAI) BuildThinkingConfig(level ThinkingLevel) *ThinkingConfig { return BudgetFor(level) }

func (OpenAI) Temperature(requested *float64, _ ThinkingLevel) *float64 { return requested }

func (OpenAI) SupportsNativePDF() bool { return false }

func (OpenAI) Routing() *Routing { return nil }

// strictClean applies strict-mode rules. With describe set, properties missing
// a description get one derived from their name.
func strictClean(node map[string]any, field string, describe bool) map[string]any {
	node = schema.FlattenNullableOpenAI(node)

	out := make(map[string]any, len(node)+2)
	for k, v := range node {
		if k == "title" || k == "default" {
			continue
		}
		if k == "properties" {
			if props, ok := v.(map[string]any); ok {
				cleaned := make(map[string]any, len(props))
				for name, pv := range props {
					pm, ok := pv.(map[string]any)
					if !ok {
						cleaned[name] = pv
						continue
					}
					cp := strictClean(pm, name, describe)
					if _, has := cp["description"]; describe && !has {
						cp["description"] = schema.Humanize(name)
					}
					cleaned[name] = cp
				}
				out[k] = cleaned
				continue
			}
		}
		out[k] = cleanChild(v, func(m map[string]any) map[string]any {
			return strictClean(m, field, describe)
		})
	}

	if out["type"] == "object" {
		if _, ok := out["additionalProperties"]; !ok {
			out["additionalProperties"] = false
		}
		if _, ok := out["properties"]; ok {
			out["required"] = schema.PropertyNames(out)
		}
	}
	return out
}

func cleanChild(v any, clean func(map[string]any) map[string]any) any {
	switch tv := v.(type) {
	case map[string]any:
		return clean(tv)
	case []any:
		items := make([]any, len(tv))
		for i, item := range tv {
			if m, ok := item.(map[string]any); ok {
				items[i] = clean(m)
			} else {
				items[i] = item
			}
		}
		return items
	default:
		return v
	}
}
