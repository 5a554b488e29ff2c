// Package schema holds JSON-schema transforms shared by the provider strategies
// and the JSON extraction used on raw model output.
package schema

import (
	"sort"
	"strings"
)

// ExtractJSON isolates the first balanced JSON object in raw model output.
// Markdown fences and surrounding prose are dropped. When no '{' is present the
// trimmed input is returned unchanged so decoding fails explicitly downstream.
func ExtractJSON(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = ""
		}
		trimmed := strings.TrimRight(text, " \t\r\n")
		if strings.HasSuffix(trimmed, "```") {
			text = strings.TrimRight(strings.TrimSuffix(trimmed, "```"), " \t\r\n")
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}

// ResolveRefs returns a copy of s with every $ref into $defs/definitions
// inlined. Cycles are cut with a bare object node that keeps the referencing
// node's sibling keys. Single-member allOf wrappers are merged into their parent.
func ResolveRefs(s map[string]any) map[string]any {
	root := Clone(s)
	defs, _ := root["$defs"].(map[string]any)
	if len(defs) == 0 {
		defs, _ = root["definitions"].(map[string]any)
	}
	delete(root, "$defs")
	delete(root, "definitions")
	if len(defs) == 0 {
		return root
	}
	return inline(root, defs, map[string]bool{})
}

func inline(node map[string]any, defs map[string]any, resolving map[string]bool) map[string]any {
	if ref, ok := node["$ref"].(string); ok {
		name := ref[strings.LastIndex(ref, "/")+1:]
		if resolving[name] {
			fallback := map[string]any{"type": "object"}
			for k, v := range node {
				if k != "$ref" {
					fallback[k] = v
				}
			}
			return fallback
		}
		def, ok := defs[name].(map[string]any)
		if !ok {
			return node
		}
		next := make(map[string]bool, len(resolving)+1)
		for k := range resolving {
			next[k] = true
		}
		next[name] = true
		resolved := inline(Clone(def), defs, next)
		for k, v := range node {
			if _, exists := resolved[k]; !exists && k != "$ref" {
				resolved[k] = v
			}
		}
		return resolved
	}

	if all, ok := node["allOf"].([]any); ok && len(all) == 1 {
		if member, ok := all[0].(map[string]any); ok {
			merged := Clone(member)
			for k, v := range node {
				if _, exists := merged[k]; !exists && k != "allOf" {
					merged[k] = v
				}
			}
			return inline(merged, defs, resolving)
		}
	}

	out := make(map[string]any, len(node))
	for k, v := range node {
		switch tv := v.(type) {
		case map[string]any:
			out[k] = inline(tv, defs, resolving)
		case []any:
			items := make([]any, len(tv))
			for i, item := range tv {
				if m, ok := item.(map[string]any); ok {
					items[i] = inline(m, defs, resolving)
				} else {
					items[i] = item
				}
			}
			out[k] = items
		default:
			out[k] = v
		}
	}
	return out
}

// FlattenNullable collapses {anyOf: [T, {type: null}]} to T, keeping the
// node's sibling keys. Other nodes are returned as-is.
func FlattenNullable(node map[string]any) map[string]any {
	real, ok := nullableVariant(node)
	if !ok {
		return node
	}
	return mergeSiblings(real, node)
}

// FlattenNullableOpenAI collapses a nullable primitive to type: [T, "null"].
// Object, array and typeless variants keep their anyOf form.
func FlattenNullableOpenAI(node map[string]any) map[string]any {
	real, ok := nullableVariant(node)
	if !ok {
		return node
	}
	typ, _ := real["type"].(string)
	if typ == "" || typ == "object" || typ == "array" {
		return node
	}
	merged := mergeSiblings(real, node)
	merged["type"] = []any{typ, "null"}
	return merged
}

func nullableVariant(node map[string]any) (map[string]any, bool) {
	variants, ok := node["anyOf"].([]any)
	if !ok || len(variants) != 2 {
		return nil, false
	}
	var real map[string]any
	hasNull := false
	for _, v := range variants {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if m["type"] == "null" {
			hasNull = true
		} else if real == nil {
			real = m
		}
	}
	if !hasNull || real == nil {
		return nil, false
	}
	return real, true
}

func mergeSiblings(real, node map[string]any) map[string]any {
	merged := Clone(real)
	for k, v := range node {
		if _, exists := merged[k]; !exists && k != "anyOf" {
			merged[k] = v
		}
	}
	return merged
}

// Clone deep-copies a decoded JSON value tree.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return Clone(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), tv...)
	default:
		return v
	}
}

// PropertyNames returns the keys of an object node's properties, sorted.
func PropertyNames(node map[string]any) []any {
	props, ok := node["properties"].(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// Humanize turns a field name into a fallback description.
func Humanize(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}
