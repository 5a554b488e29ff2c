package pipeline

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/marcobitx/foxdoc/internal/analyses"
	"github.com/marcobitx/foxdoc/internal/llm"
)

// USD per million tokens.
const (
	inputPricePerMillion  = 3.0
	outputPricePerMillion = 15.0
)

// EstimateCost prices token totals with the flat rate.
func EstimateCost(input, output int) float64 {
	cost := float64(input)/1e6*inputPricePerMillion + float64(output)/1e6*outputPricePerMillion
	return math.Round(cost*1e6) / 1e6
}

// runMetrics accumulates counters from concurrent stage callbacks.
type runMetrics struct {
	mu       sync.Mutex
	m        analyses.Metrics
	finished bool
}

func newRunMetrics(model string, start time.Time) *runMetrics {
	return &runMetrics{m: analyses.Metrics{ModelUsed: model, StartTime: start}}
}

func (r *runMetrics) setFiles(n int) {
	r.mu.Lock()
	r.m.TotalFiles = n
	r.mu.Unlock()
}

func (r *runMetrics) addPages(n int) {
	r.mu.Lock()
	r.m.TotalPages += n
	r.mu.Unlock()
}

func (r *runMetrics) addExtraction(u llm.Usage) {
	r.mu.Lock()
	r.m.TokensExtractionInput += u.InputTokens
	r.m.TokensExtractionOutput += u.OutputTokens
	r.mu.Unlock()
}

func (r *runMetrics) addAggregation(u llm.Usage) {
	r.mu.Lock()
	r.m.TokensAggregationInput += u.InputTokens
	r.m.TokensAggregationOutput += u.OutputTokens
	r.mu.Unlock()
}

func (r *runMetrics) addEvaluation(u llm.Usage) {
	r.mu.Lock()
	r.m.TokensEvaluationInput += u.InputTokens
	r.m.TokensEvaluationOutput += u.OutputTokens
	r.mu.Unlock()
}

// finish freezes elapsed time and returns the snapshot.
func (r *runMetrics) finish(now time.Time) analyses.Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished {
		r.m.ElapsedSeconds = elapsedSeconds(r.m.StartTime, now)
		r.finished = true
	}
	return r.snapshotLocked(now)
}

// snapshot recomputes cost from the running totals.
func (r *runMetrics) snapshot(now time.Time) analyses.Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(now)
}

func (r *runMetrics) snapshotLocked(now time.Time) analyses.Metrics {
	if !r.finished {
		r.m.ElapsedSeconds = elapsedSeconds(r.m.StartTime, now)
	}
	r.m.EstimatedCostUSD = EstimateCost(r.m.TotalInput(), r.m.TotalOutput())
	return r.m
}

// elapsedSeconds rounds to centiseconds. A run always reports at least one
// centisecond so short failures still record that time passed.
func elapsedSeconds(start, now time.Time) float64 {
	return max(math.Round(now.Sub(start).Seconds()*100)/100, 0.01)
}

func metricsData(m analyses.Metrics) map[string]any {
	raw, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}
