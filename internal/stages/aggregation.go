package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/report"
)

// AggregateOptions configures Aggregate.
type AggregateOptions struct {
	Options
	OnThinking func(text string)
}

type aggregationInput struct {
	Filename   string                   `json:"filename"`
	Type       report.DocumentType      `json:"type"`
	Pages      int                      `json:"pages"`
	Extraction *report.ExtractionResult `json:"extraction"`
}

// Aggregate merges the per-document extractions into one report.
func Aggregate(ctx context.Context, extractions []Extraction, client LLM, opts AggregateOptions) (*report.AggregatedReport, llm.Usage, error) {
	if len(extractions) == 0 {
		return nil, llm.Usage{}, errors.New("aggregate: no extractions")
	}

	inputs := make([]aggregationInput, 0, len(extractions))
	for _, e := range extractions {
		inputs = append(inputs, aggregationInput{
			Filename:   e.Doc.Filename,
			Type:       e.Doc.DocType,
			Pages:      e.Doc.PageCount,
			Extraction: e.Result,
		})
	}
	body, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return nil, llm.Usage{}, fmt.Errorf("aggregate: encode extractions: %w", err)
	}
	text := string(body)
	if budget := inputBudgetChars(opts.ContextLength); len(text) > budget {
		compact, _ := json.Marshal(inputs)
		text = string(compact)
		if len(text) > budget {
			text = truncateUTF8(text, budget) + "\n[truncated]"
		}
	}

	req := llm.StructuredRequest{
		System:   AggregationSystemPrompt(opts.AnalysisType, opts.CustomInstructions),
		User:     fmt.Sprintf(aggregationUser, len(extractions), text),
		Model:    opts.Model,
		Thinking: ThinkingFor(opts.AnalysisType, opts.Thinking),
	}
	var rep report.AggregatedReport
	usage, err := client.CompleteStructuredStreaming(ctx, req, &rep, opts.OnThinking)
	if err != nil {
		return nil, usage, err
	}
	return &rep, usage, nil
}
