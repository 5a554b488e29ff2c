package pipeline

import (
	"context"

	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

const defaultContextLength = 128000

// contextLength resolves the model's window: known table, then the live
// catalog, then a fixed default.
func (p *Pipeline) contextLength(ctx context.Context, model string) int {
	if n := p.KnownContext[model]; n > 0 {
		return n
	}
	if n := llm.FallbackContextLength(model); n > 0 {
		return n
	}
	if p.Catalog != nil {
		n, err := p.Catalog.ContextLength(ctx, model)
		if err != nil {
			telemetry.Warn("pipeline.context_lookup_failed", map[string]any{"model": model, "error": err})
		} else if n > 0 {
			return n
		}
	}
	return defaultContextLength
}
