// Package stages holds the model-facing steps of an analysis run: per-document
// extraction, cross-document aggregation and the QA evaluation.
package stages

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/llm/providers"
)

// LLM is the part of *llm.Client the stages use.
type LLM interface {
	CompleteStructuredStreaming(ctx context.Context, req llm.StructuredRequest, out llm.Target, onThinking func(string)) (llm.Usage, error)
	Provider(model string) providers.Provider
	MultimodalContent(text, filename string, data []byte) ([]providers.ContentPart, []llm.Plugin, error)
}

// ErrCanceled is returned when a run is canceled between documents.
var ErrCanceled = errors.New("stages: canceled")

// Options are shared by extraction and aggregation.
type Options struct {
	Model              string
	ContextLength      int
	AnalysisType       AnalysisType
	CustomInstructions string
	// Thinking overrides the analysis type's reasoning level when valid.
	Thinking string
}

const (
	charsPerToken = 4
	// promptReserveTokens covers system prompt, schema and output.
	promptReserveTokens = 40000
	minInputTokens      = 8000
)

// inputBudgetChars is how much document text fits in one request.
func inputBudgetChars(contextLength int) int {
	tokens := contextLength - promptReserveTokens
	if tokens < minInputTokens {
		tokens = minInputTokens
	}
	return tokens * charsPerToken
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
