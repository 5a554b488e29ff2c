package providers

import "github.com/marcobitx/foxdoc/internal/llm/schema"

// Google needs a description on every field and array item, no refs, and no
// anyOf unions.
type Google struct{}

func (Google) Name() string { return "google" }

func (Google) PrepareSchema(raw map[string]any) map[string]any {
	return googleClean(schema.ResolveRefs(raw), "")
}

func (Google) BuildResponseFormat(s map[string]any, name string) *ResponseFormat {
	return namedFormat(s, name, false)
}

func (Google) BuildMessages(system string, user any) []Message {
	return plainMessages(system, user)
}

func (Google) BuildThinkingConfig(level ThinkingLevel) *ThinkingConfig { return BudgetFor(level) }

func (Google) Temperature(requested *float64, _ ThinkingLevel) *float64 { return requested }

func (Google) SupportsNativePDF() bool { return false }

func (Google) Routing() *Routing { return nil }

func googleClean(node map[string]any, field string) map[string]any {
	node = schema.FlattenNullable(node)

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
					cp := googleClean(pm, name)
					if _, has := cp["description"]; !has {
						cp["description"] = schema.Humanize(name)
					}
					cleaned[name] = cp
				}
				out[k] = cleaned
				continue
			}
		}
		childField := field
		if k == "items" {
			childField = ""
		}
		out[k] = cleanChild(v, func(m map[string]any) map[string]any {
			return googleClean(m, childField)
		})
	}

	switch out["type"] {
	case "object":
		if _, ok := out["additionalProperties"]; !ok {
			out["additionalProperties"] = false
		}
		if _, ok := out["properties"]; ok {
			if _, ok := out["required"]; !ok {
				out["required"] = schema.PropertyNames(out)
			}
		}
	case "array":
		if items, ok := out["items"].(map[string]any); ok {
			if _, has := items["description"]; !has {
				if field != "" {
					items["description"] = field + " item"
				} else {
					items["description"] = "array item"
				}
			}
			if items["type"] == "object" {
				if _, ok := items["properties"]; ok {
					if _, ok := items["required"]; !ok {
						items["required"] = schema.PropertyNames(items)
					}
				}
			}
		}
	}

	if field != "" && out["type"] != nil {
		if _, has := out["description"]; !has {
			out["description"] = schema.Humanize(field)
		}
	}
	return out
}
