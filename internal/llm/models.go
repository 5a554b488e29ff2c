package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

// ModelInfo is one catalog entry. Prices are USD per million tokens.
type ModelInfo struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	ContextLength     int     `json:"context_length"`
	PricingPrompt     float64 `json:"pricing_prompt"`
	PricingCompletion float64 `json:"pricing_completion"`
}

const (
	defaultContextLength = 128000
	searchLimit          = 50
)

// MandatoryModels are always listed, in this order, ahead of all others.
var MandatoryModels = []string{
	"openai/gpt-5.1-codex-mini",
	"openai/gpt-5.3-codex",
	"google/gemini-3.1-pro-preview",
	"anthropic/claude-sonnet-4.6",
	"openai/gpt-5.2-codex",
}

var fallbackModels = map[string]ModelInfo{
	"openai/gpt-5.1-codex-mini":     {Name: "OpenAI: GPT-5.1-Codex-Mini", ContextLength: 400000, PricingPrompt: 0.25, PricingCompletion: 2.00},
	"openai/gpt-5.3-codex":          {Name: "OpenAI: GPT-5.3-Codex", ContextLength: 400000, PricingPrompt: 1.75, PricingCompletion: 14.00},
	"google/gemini-3.1-pro-preview": {Name: "Google: Gemini 3.1 Pro Preview", ContextLength: 1048576, PricingPrompt: 2.00, PricingCompletion: 12.00},
	"anthropic/claude-sonnet-4.6":   {Name: "Anthropic: Claude Sonnet 4.6", ContextLength: 1000000, PricingPrompt: 3.00, PricingCompletion: 15.00},
	"openai/gpt-5.2-codex":          {Name: "OpenAI: GPT-5.2-Codex", ContextLength: 400000, PricingPrompt: 1.75, PricingCompletion: 14.00},
}

type catalogEntry struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	ContextLength       int      `json:"context_length"`
	SupportedParameters []string `json:"supported_parameters"`
	Pricing             struct {
		Prompt     json.RawMessage `json:"prompt"`
		Completion json.RawMessage `json:"completion"`
	} `json:"pricing"`
}

func (e catalogEntry) info() ModelInfo {
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return ModelInfo{
		ID:                e.ID,
		Name:              name,
		ContextLength:     e.ContextLength,
		PricingPrompt:     perMillion(e.Pricing.Prompt),
		PricingCompletion: perMillion(e.Pricing.Completion),
	}
}

// perMillion converts a per-token price (string or number) to USD per million.
func perMillion(raw json.RawMessage) float64 {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return math.Round(v*1_000_000*100) / 100
}

func (c *Client) catalog(ctx context.Context) ([]catalogEntry, error) {
	raw, err := c.send(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []catalogEntry `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, parseError("decode model catalog: "+err.Error(), err)
	}
	return resp.Data, nil
}

// ListModels returns models that support JSON-schema output plus the
// mandatory set. A failed catalog lookup yields the mandatory set alone.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	entries, err := c.catalog(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		telemetry.Warn("llm.models.catalog_failed", map[string]any{"error": err.Error()})
		entries = nil
	}

	mandatory := make(map[string]int, len(MandatoryModels))
	for i, id := range MandatoryModels {
		mandatory[id] = i
	}

	var out []ModelInfo
	seen := make(map[string]bool)
	for _, e := range entries {
		_, isMandatory := mandatory[e.ID]
		if !isMandatory && !supportsJSONSchema(e.SupportedParameters) {
			continue
		}
		out = append(out, e.info())
		seen[e.ID] = true
	}
	for _, id := range MandatoryModels {
		if seen[id] {
			continue
		}
		out = append(out, fallbackInfo(id))
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := mandatory[out[i].ID]
		rj, jok := mandatory[out[j].ID]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out, nil
}

// ListAllModels searches the unfiltered catalog by id or name.
func (c *Client) ListAllModels(ctx context.Context, query string) ([]ModelInfo, error) {
	entries, err := c.catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("list all models: %w", err)
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []ModelInfo
	for _, e := range entries {
		info := e.info()
		if q != "" && !strings.Contains(strings.ToLower(info.ID), q) && !strings.Contains(strings.ToLower(info.Name), q) {
			continue
		}
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > searchLimit {
		out = out[:searchLimit]
	}
	return out, nil
}

// ContextLength looks a model up in the live catalog. It returns 0 when the
// model is not listed.
func (c *Client) ContextLength(ctx context.Context, model string) (int, error) {
	entries, err := c.catalog(ctx)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.ID == model {
			return e.ContextLength, nil
		}
	}
	return 0, nil
}

// FallbackContextLength returns the built-in context window for model, or 0.
func FallbackContextLength(model string) int {
	if m, ok := fallbackModels[model]; ok {
		return m.ContextLength
	}
	return 0
}

func fallbackInfo(id string) ModelInfo {
	m, ok := fallbackModels[id]
	if !ok {
		return ModelInfo{ID: id, Name: id[strings.LastIndex(id, "/")+1:], ContextLength: defaultContextLength}
	}
	m.ID = id
	return m
}

func supportsJSONSchema(params []string) bool {
	for _, p := range params {
		if p == "json_schema" {
			return true
		}
	}
	return false
}
