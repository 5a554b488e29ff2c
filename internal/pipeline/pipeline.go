// Package pipeline drives an analysis from uploaded files to a merged report:
// unpack, parse, extract, aggregate, then a background QA evaluation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/marcobitx/foxdoc/internal/analyses"
	"github.com/marcobitx/foxdoc/internal/archive"
	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/llm"
	"github.com/marcobitx/foxdoc/internal/report"
	"github.com/marcobitx/foxdoc/internal/shared/metrics"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
	"github.com/marcobitx/foxdoc/internal/stages"
)

const (
	// MaxConcurrentExtractions caps in-flight extraction requests.
	MaxConcurrentExtractions = 10
	maxErrorLen              = 500
)

var (
	ErrNoSupportedFiles = errors.New("no supported files found in upload")
	ErrCanceled         = errors.New("analysis canceled")
)

// Materializer copies stored uploads to local files.
type Materializer interface {
	Materialize(ctx context.Context, dir string, uploads []documents.Upload) ([]string, error)
}

// Unpacker flattens uploads and archives into parseable files.
type Unpacker interface {
	ExtractFiles(ctx context.Context, paths []string) ([]archive.File, func(), error)
}

// ContextLookup resolves a model's context window from the live catalog.
type ContextLookup interface {
	ContextLength(ctx context.Context, model string) (int, error)
}

type (
	ParseFunc     func(ctx context.Context, path, filename string) documents.ParsedDocument
	ExtractFunc   func(ctx context.Context, docs []documents.ParsedDocument, client stages.LLM, opts stages.ExtractOptions) ([]stages.Extraction, error)
	AggregateFunc func(ctx context.Context, extractions []stages.Extraction, client stages.LLM, opts stages.AggregateOptions) (*report.AggregatedReport, llm.Usage, error)
	EvaluateFunc  func(ctx context.Context, rep *report.AggregatedReport, docs []documents.ParsedDocument, client stages.LLM, model string, onThinking func(string)) (*report.QAEvaluation, llm.Usage, error)
	// ClientFactory builds a fresh LLM client and its release func.
	ClientFactory func() (stages.LLM, func(), error)
)

// Pipeline holds the collaborators of a run. It is shared by all runs.
type Pipeline struct {
	Analyses  analyses.Repo
	Documents documents.Repo
	Uploads   Materializer
	Unpack    Unpacker
	Parse     ParseFunc
	Extract   ExtractFunc
	Aggregate AggregateFunc
	Evaluate  EvaluateFunc
	LLM       stages.LLM
	NewLLM    ClientFactory
	Catalog   ContextLookup
	// KnownContext extends the built-in context-window table.
	KnownContext  map[string]int
	MaxConcurrent int
	TempRoot      string

	now func() time.Time
	bg  sync.WaitGroup
}

// Wait blocks until background evaluations finish.
func (p *Pipeline) Wait() {
	p.bg.Wait()
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now().UTC()
	}
	return time.Now().UTC()
}

// Run executes the synchronous stages of a and, once the analysis is
// COMPLETED, starts the QA evaluation in the background. A canceled run
// returns ErrCanceled and never writes FAILED.
func (p *Pipeline) Run(ctx context.Context, a analyses.Analysis, run *Run) error {
	m := newRunMetrics(a.Model, p.clock())
	ev := newEmitter(ctx, p.Analyses, a.ID, p.clock)
	handedOff := false
	defer func() {
		if !handedOff {
			ev.close()
		}
	}()

	rep, docs, err := p.execute(ctx, a, run, m, ev)
	if err != nil {
		if p.isCanceled(ctx, run, err) {
			p.finishCanceled(ctx, a.ID, m, ev)
			return ErrCanceled
		}
		p.fail(ctx, a.ID, err, m, ev)
		return err
	}

	if err := p.advance(ctx, a.ID, run, analyses.StatusEvaluating); err != nil {
		if p.isCanceled(ctx, run, err) {
			p.finishCanceled(ctx, a.ID, m, ev)
			return ErrCanceled
		}
		p.fail(ctx, a.ID, err, m, ev)
		return err
	}

	snap := m.finish(p.clock())
	completed := analyses.StatusCompleted
	if err := p.Analyses.Update(ctx, a.ID, analyses.Update{Status: &completed, Report: rep, Metrics: &snap}); err != nil {
		p.fail(ctx, a.ID, eris.Wrap(err, "pipeline: persist report"), m, ev)
		return err
	}
	metrics.IncAnalysisCompleted()
	metrics.ObservePipelineSeconds(snap.ElapsedSeconds)
	ev.emit(analyses.EventMetricsUpdate, metricsData(snap))
	telemetry.Info("pipeline.completed", map[string]any{
		"analysis_id":     a.ID,
		"elapsed_seconds": snap.ElapsedSeconds,
		"cost_usd":        snap.EstimatedCostUSD,
		"files":           snap.TotalFiles,
	})

	if run.Canceled() {
		return nil
	}
	handedOff = true
	p.spawnEvaluation(a, rep, docs, run, m, ev)
	return nil
}

func (p *Pipeline) execute(ctx context.Context, a analyses.Analysis, run *Run, m *runMetrics, ev *emitter) (*report.AggregatedReport, []documents.ParsedDocument, error) {
	if err := p.advance(ctx, a.ID, run, analyses.StatusUnpacking); err != nil {
		return nil, nil, err
	}
	dir, err := os.MkdirTemp(p.TempRoot, "foxdoc-run-*")
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: temp dir")
	}
	defer os.RemoveAll(dir)

	paths, err := p.Uploads.Materialize(ctx, dir, a.Uploads)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: fetch uploads")
	}
	files, cleanup, err := p.Unpack.ExtractFiles(ctx, paths)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: unpack")
	}
	defer cleanup()
	if len(files) == 0 {
		return nil, nil, ErrNoSupportedFiles
	}
	m.setFiles(len(files))

	if err := p.advance(ctx, a.ID, run, analyses.StatusParsing); err != nil {
		return nil, nil, err
	}
	docs := make([]documents.ParsedDocument, 0, len(files))
	pages := 0
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		doc := p.Parse(ctx, f.Path, f.Name)
		doc.AnalysisID = a.ID
		doc.Position = i
		docs = append(docs, doc)
		pages += doc.PageCount
		ev.emit(analyses.EventFileParsed, map[string]any{
			"filename": doc.Filename,
			"pages":    doc.PageCount,
			"format":   doc.Format,
			"size_kb":  float64(doc.FileSizeBytes) / 1024,
			"tokens":   doc.TokenEstimate,
		})
	}
	m.addPages(pages)
	if err := p.saveDocuments(ctx, docs); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: save documents")
	}

	contextLength := p.contextLength(ctx, a.Model)
	opts := stages.Options{
		Model:              a.Model,
		ContextLength:      contextLength,
		AnalysisType:       stages.ParseAnalysisType(a.AnalysisType),
		CustomInstructions: a.CustomInstructions,
		Thinking:           a.Thinking,
	}

	if err := p.advance(ctx, a.ID, run, analyses.StatusExtracting); err != nil {
		return nil, nil, err
	}
	limit := p.MaxConcurrent
	if limit <= 0 {
		limit = MaxConcurrentExtractions
	}
	extractions, err := p.Extract(ctx, docs, p.LLM, stages.ExtractOptions{
		Options:       opts,
		MaxConcurrent: min(limit, len(docs)),
		OnStarted: func(doc documents.ParsedDocument, idx int) {
			ev.emit(analyses.EventExtractionStarted, map[string]any{"filename": doc.Filename, "doc_index": idx})
		},
		OnCompleted: func(doc documents.ParsedDocument, usage llm.Usage) {
			m.addExtraction(usage)
			ev.emit(analyses.EventExtractionCompleted, map[string]any{
				"filename":   doc.Filename,
				"tokens_in":  usage.InputTokens,
				"tokens_out": usage.OutputTokens,
			})
		},
		OnThinking: run.thinkingSink("extraction"),
		Canceled:   run.Canceled,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: extract")
	}

	if err := p.advance(ctx, a.ID, run, analyses.StatusAggregating); err != nil {
		return nil, nil, err
	}
	ev.emit(analyses.EventAggregationStarted, map[string]any{})
	rep, usage, err := p.Aggregate(ctx, extractions, p.LLM, stages.AggregateOptions{
		Options:    opts,
		OnThinking: run.thinkingSink("aggregation"),
	})
	m.addAggregation(usage)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: aggregate")
	}
	ev.emit(analyses.EventAggregationCompleted, map[string]any{
		"tokens_in":  usage.InputTokens,
		"tokens_out": usage.OutputTokens,
	})
	backfillSources(rep, docs)
	return rep, docs, nil
}

// advance persists the next status unless the run was canceled.
func (p *Pipeline) advance(ctx context.Context, analysisID string, run *Run, status analyses.Status) error {
	if p.canceled(ctx, analysisID, run) {
		return ErrCanceled
	}
	if err := p.Analyses.Update(ctx, analysisID, analyses.Update{Status: &status}); err != nil {
		return eris.Wrapf(err, "pipeline: set status %s", status)
	}
	telemetry.Info("analysis.status", map[string]any{"analysis_id": analysisID, "status": string(status)})
	return nil
}

// canceled checks the local flag, then the persisted status so a cancel
// issued by another process is seen too.
func (p *Pipeline) canceled(ctx context.Context, analysisID string, run *Run) bool {
	if run.Canceled() {
		return true
	}
	a, err := p.Analyses.Get(ctx, analysisID)
	if err != nil {
		return false
	}
	if a.Status == analyses.StatusCanceled {
		run.Cancel()
		return true
	}
	return false
}

func (p *Pipeline) isCanceled(ctx context.Context, run *Run, err error) bool {
	if errors.Is(err, ErrCanceled) || errors.Is(err, stages.ErrCanceled) {
		return true
	}
	return run.Canceled() || (errors.Is(err, context.Canceled) && ctx.Err() != nil)
}

func (p *Pipeline) saveDocuments(ctx context.Context, docs []documents.ParsedDocument) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			if err := p.Documents.Add(gctx, doc); err != nil {
				return fmt.Errorf("save %s: %w", doc.Filename, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) fail(ctx context.Context, analysisID string, err error, m *runMetrics, ev *emitter) {
	msg := errorMessage(err)
	snap := m.finish(p.clock())
	status := analyses.StatusFailed
	if uerr := p.Analyses.Update(context.WithoutCancel(ctx), analysisID, analyses.Update{Status: &status, Error: &msg, Metrics: &snap}); uerr != nil {
		telemetry.Error("pipeline.persist_failure", map[string]any{"analysis_id": analysisID, "error": uerr})
	}
	ev.emit(analyses.EventError, map[string]any{"message": msg})
	metrics.IncAnalysisFailed()
	metrics.ObservePipelineSeconds(snap.ElapsedSeconds)
	telemetry.Error("pipeline.failed", map[string]any{
		"analysis_id": analysisID,
		"error":       eris.ToString(err, false),
	})
}

func (p *Pipeline) finishCanceled(ctx context.Context, analysisID string, m *runMetrics, ev *emitter) {
	snap := m.finish(p.clock())
	if err := p.Analyses.Update(context.WithoutCancel(ctx), analysisID, analyses.Update{Metrics: &snap}); err != nil {
		telemetry.Warn("pipeline.persist_canceled_metrics", map[string]any{"analysis_id": analysisID, "error": err})
	}
	ev.emit(analyses.EventCanceled, map[string]any{})
	metrics.IncAnalysisCanceled()
	telemetry.Info("pipeline.canceled", map[string]any{"analysis_id": analysisID})
}

func (p *Pipeline) spawnEvaluation(a analyses.Analysis, rep *report.AggregatedReport, docs []documents.ParsedDocument, run *Run, m *runMetrics, ev *emitter) {
	ctx, cancel := context.WithCancel(context.Background())
	run.hold()
	run.setEvalCancel(cancel)
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		defer run.release()
		defer cancel()
		defer ev.close()
		p.evaluate(ctx, a, rep, docs, run, m, ev)
	}()
}

func (p *Pipeline) evaluate(ctx context.Context, a analyses.Analysis, rep *report.AggregatedReport, docs []documents.ParsedDocument, run *Run, m *runMetrics, ev *emitter) {
	client, release := p.LLM, func() {}
	if p.NewLLM != nil {
		c, rel, err := p.NewLLM()
		if err != nil {
			telemetry.Warn("pipeline.evaluation_failed", map[string]any{"analysis_id": a.ID, "error": err})
			return
		}
		client, release = c, rel
	}
	defer release()

	ev.emit(analyses.EventEvaluationStarted, map[string]any{})
	qa, usage, err := p.Evaluate(ctx, rep, docs, client, a.Model, run.thinkingSink("evaluation"))
	if err != nil {
		telemetry.Warn("pipeline.evaluation_failed", map[string]any{"analysis_id": a.ID, "error": err})
		return
	}
	m.addEvaluation(usage)
	snap := m.snapshot(p.clock())
	if err := p.Analyses.Update(ctx, a.ID, analyses.Update{QA: qa, Metrics: &snap}); err != nil {
		telemetry.Warn("pipeline.evaluation_persist_failed", map[string]any{"analysis_id": a.ID, "error": err})
		return
	}
	ev.emit(analyses.EventEvaluationCompleted, map[string]any{"completeness_score": qa.CompletenessScore})
	ev.emit(analyses.EventMetricsUpdate, metricsData(snap))
	telemetry.Info("pipeline.evaluation_completed", map[string]any{
		"analysis_id":        a.ID,
		"completeness_score": qa.CompletenessScore,
	})
}

// backfillSources lists every parsed document when the model returned none.
func backfillSources(rep *report.AggregatedReport, docs []documents.ParsedDocument) {
	if rep == nil || len(rep.SourceDocuments) > 0 {
		return
	}
	rep.SourceDocuments = make([]report.SourceDocument, 0, len(docs))
	for _, d := range docs {
		rep.SourceDocuments = append(rep.SourceDocuments, report.SourceDocument{
			Filename: d.Filename,
			Type:     d.DocType,
			Pages:    d.PageCount,
		})
	}
}

// errorMessage is the root cause of err, trimmed for storage.
func errorMessage(err error) string {
	msg := eris.Cause(err).Error()
	if r := []rune(msg); len(r) > maxErrorLen {
		msg = string(r[:maxErrorLen])
	}
	return msg
}
