package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/llm/providers"
	"github.com/marcobitx/foxdoc/internal/report"
)

const evaluationExcerptChars = 1500

// Evaluate asks the model to judge the completeness of rep against its
// source documents.
func Evaluate(ctx context.Context, rep *report.AggregatedReport, docs []documents.ParsedDocument, client LLM, model string, onThinking func(string)) (*report.QAEvaluation, llm.Usage, error) {
	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("evaluate: encode report: %w", err)
	}

	var sources strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&sources, "- %s (%s, %d pages)\n", d.Filename, d.DocType, d.PageCount)
		if excerpt := excerptOf(d.Content, evaluationExcerptChars); excerpt != "" {
			fmt.Fprintf(&sources, "  Excerpt: %s\n", excerpt)
		}
	}

	req := llm.StructuredRequest{
		System:   evaluationSystem,
		User:     fmt.Sprintf(evaluationUser, body, sources.String()),
		Model:    model,
		Thinking: providers.ThinkingLow,
	}
	var qa report.QAEvaluation
	usage, err := client.CompleteStructuredStreaming(ctx, req, &qa, onThinking)
	if err != nil {
		return nil, usage, err
	}
	return &qa, usage, nil
}

func excerptOf(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	if r := []rune(content); len(r) > n {
		return string(r[:n]) + "…"
	}
	return content
}
