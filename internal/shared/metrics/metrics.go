package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	analysisStartedTotal   atomic.Uint64
	analysisCompletedTotal atomic.Uint64
	analysisFailedTotal    atomic.Uint64
	analysisCanceledTotal  atomic.Uint64

	queueJobsReceivedTotal  atomic.Uint64
	queueJobsCompletedTotal atomic.Uint64
	queueJobsFailedTotal    atomic.Uint64
	queueJobsDroppedTotal   atomic.Uint64

	llmRequestsTotal     atomic.Uint64
	llmRetriesTotal      atomic.Uint64
	llmInputTokensTotal  atomic.Uint64
	llmOutputTokensTotal atomic.Uint64

	pipelineDuration = newHistogram([]float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800})
)

// IncAnalysisStarted increments the started counter.
func IncAnalysisStarted() {
	analysisStartedTotal.Add(1)
}

// IncAnalysisCompleted increments the completed counter.
func IncAnalysisCompleted() {
	analysisCompletedTotal.Add(1)
}

// IncAnalysisFailed increments the failed counter.
func IncAnalysisFailed() {
	analysisFailedTotal.Add(1)
}

// IncAnalysisCanceled increments the canceled counter.
func IncAnalysisCanceled() {
	analysisCanceledTotal.Add(1)
}

// IncQueueJobReceived counts a message taken off the queue.
func IncQueueJobReceived() {
	queueJobsReceivedTotal.Add(1)
}

// IncQueueJobCompleted counts a processed and deleted message.
func IncQueueJobCompleted() {
	queueJobsCompletedTotal.Add(1)
}

// IncQueueJobFailed counts a message left for redelivery.
func IncQueueJobFailed() {
	queueJobsFailedTotal.Add(1)
}

// IncQueueJobDropped counts an unrecoverable message deleted unprocessed.
func IncQueueJobDropped() {
	queueJobsDroppedTotal.Add(1)
}

// IncLLMRequest counts one gateway HTTP attempt.
func IncLLMRequest() {
	llmRequestsTotal.Add(1)
}

// IncLLMRetry counts one scheduled retry of a gateway call.
func IncLLMRetry() {
	llmRetriesTotal.Add(1)
}

// AddLLMTokens adds reported token usage.
func AddLLMTokens(input, output int) {
	if input > 0 {
		llmInputTokensTotal.Add(uint64(input))
	}
	if output > 0 {
		llmOutputTokensTotal.Add(uint64(output))
	}
}

// ObservePipelineSeconds records the synchronous duration of a pipeline run.
func ObservePipelineSeconds(value float64) {
	if value < 0 {
		value = 0
	}
	pipelineDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "analysis_started_total", "Total analyses started", analysisStartedTotal.Load())
	writeCounter(&buf, "analysis_completed_total", "Total analyses completed", analysisCompletedTotal.Load())
	writeCounter(&buf, "analysis_failed_total", "Total analyses failed", analysisFailedTotal.Load())
	writeCounter(&buf, "analysis_canceled_total", "Total analyses canceled", analysisCanceledTotal.Load())
	writeCounter(&buf, "queue_jobs_received_total", "Total queue messages received", queueJobsReceivedTotal.Load())
	writeCounter(&buf, "queue_jobs_completed_total", "Total queue messages completed", queueJobsCompletedTotal.Load())
	writeCounter(&buf, "queue_jobs_failed_total", "Total queue messages left for redelivery", queueJobsFailedTotal.Load())
	writeCounter(&buf, "queue_jobs_dropped_total", "Total unrecoverable queue messages deleted", queueJobsDroppedTotal.Load())
	writeCounter(&buf, "llm_requests_total", "Total LLM gateway requests", llmRequestsTotal.Load())
	writeCounter(&buf, "llm_retries_total", "Total LLM gateway retries", llmRetriesTotal.Load())
	writeCounter(&buf, "llm_input_tokens_total", "Total LLM input tokens", llmInputTokensTotal.Load())
	writeCounter(&buf, "llm_output_tokens_total", "Total LLM output tokens", llmOutputTokensTotal.Load())
	writeHistogram(&buf, "pipeline_duration_seconds", "Pipeline duration in seconds", pipelineDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe counts value in the first bucket that holds it; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
