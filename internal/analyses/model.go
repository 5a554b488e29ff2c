package analyses

import (
	"time"

	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/report"
)

// Status is the lifecycle state of an analysis.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusUnpacking   Status = "UNPACKING"
	StatusParsing     Status = "PARSING"
	StatusExtracting  Status = "EXTRACTING"
	StatusAggregating Status = "AGGREGATING"
	StatusEvaluating  Status = "EVALUATING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCanceled    Status = "CANCELED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Analysis is one run over a set of uploaded procurement documents.
type Analysis struct {
	ID                 string                   `json:"id"`
	Status             Status                   `json:"status"`
	Model              string                   `json:"model"`
	AnalysisType       string                   `json:"analysis_type"`
	Thinking           string                   `json:"thinking,omitempty"`
	CustomInstructions string                   `json:"custom_instructions,omitempty"`
	Uploads            []documents.Upload       `json:"uploads"`
	Report             *report.AggregatedReport `json:"report,omitempty"`
	QA                 *report.QAEvaluation     `json:"qa,omitempty"`
	Metrics            *Metrics                 `json:"metrics,omitempty"`
	Error              string                   `json:"error,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// Metrics is the persisted snapshot of a run's counters.
type Metrics struct {
	TotalFiles              int       `json:"total_files"`
	TotalPages              int       `json:"total_pages"`
	StartTime               time.Time `json:"start_time"`
	ElapsedSeconds          float64   `json:"elapsed_seconds"`
	TokensExtractionInput   int       `json:"tokens_extraction_input"`
	TokensExtractionOutput  int       `json:"tokens_extraction_output"`
	TokensAggregationInput  int       `json:"tokens_aggregation_input"`
	TokensAggregationOutput int       `json:"tokens_aggregation_output"`
	TokensEvaluationInput   int       `json:"tokens_evaluation_input"`
	TokensEvaluationOutput  int       `json:"tokens_evaluation_output"`
	EstimatedCostUSD        float64   `json:"estimated_cost_usd"`
	ModelUsed               string    `json:"model_used"`
}

// TotalInput sums input tokens across phases.
func (m Metrics) TotalInput() int {
	return m.TokensExtractionInput + m.TokensAggregationInput + m.TokensEvaluationInput
}

// TotalOutput sums output tokens across phases.
func (m Metrics) TotalOutput() int {
	return m.TokensExtractionOutput + m.TokensAggregationOutput + m.TokensEvaluationOutput
}

// Event types appended to an analysis log.
const (
	EventFileParsed           = "file_parsed"
	EventExtractionStarted    = "extraction_started"
	EventExtractionCompleted  = "extraction_completed"
	EventAggregationStarted   = "aggregation_started"
	EventAggregationCompleted = "aggregation_completed"
	EventEvaluationStarted    = "evaluation_started"
	EventEvaluationCompleted  = "evaluation_completed"
	EventMetricsUpdate        = "metrics_update"
	EventError                = "error"
	EventCanceled             = "canceled"
)

// Event is one entry of the append-only progress log.
type Event struct {
	Index     int            `json:"index"`
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// ThinkingEvent is a live reasoning chunk. These are never persisted.
type ThinkingEvent struct {
	Index     int       `json:"index"`
	Phase     string    `json:"phase"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Update lists the fields to change; nil fields are left alone.
type Update struct {
	Status  *Status
	Report  *report.AggregatedReport
	QA      *report.QAEvaluation
	Metrics *Metrics
	Error   *string
}
