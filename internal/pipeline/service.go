package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/marcobitx/foxdoc/internal/analyses"
	"github.com/marcobitx/foxdoc/internal/shared/metrics"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

// ErrAlreadyRunning is returned when the analysis is executing in this process.
var ErrAlreadyRunning = errors.New("analysis already running")

// Service runs analyses in-process and keeps the registry of live runs so
// cancel and thinking requests can reach them.
type Service struct {
	Pipeline *Pipeline

	mu   sync.Mutex
	runs map[string]*Run
	wg   sync.WaitGroup
}

// NewService constructs a Service.
func NewService(p *Pipeline) *Service {
	return &Service{Pipeline: p, runs: make(map[string]*Run)}
}

// Dispatch starts the analysis on a background goroutine.
func (s *Service) Dispatch(ctx context.Context, a analyses.Analysis) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Execute(ctx, a); err != nil && !errors.Is(err, ErrCanceled) {
			telemetry.Warn("pipeline.run_failed", map[string]any{
				"analysis_id": a.ID,
				"request_id":  analyses.RequestIDFromContext(ctx),
				"error":       err,
			})
		}
	}()
	return nil
}

// ProcessAnalysis loads a queued analysis and runs it. Analyses that already
// finished are skipped.
func (s *Service) ProcessAnalysis(ctx context.Context, analysisID string) error {
	a, err := s.Pipeline.Analyses.Get(ctx, analysisID)
	if err != nil {
		return err
	}
	if a.Status.Terminal() {
		telemetry.Info("pipeline.skip_finished", map[string]any{"analysis_id": a.ID, "status": string(a.Status)})
		return nil
	}
	return s.Execute(ctx, a)
}

// Execute runs a to completion of its synchronous stages.
func (s *Service) Execute(ctx context.Context, a analyses.Analysis) error {
	run, ok := s.register(a.ID)
	if !ok {
		return ErrAlreadyRunning
	}
	defer run.release()

	metrics.IncAnalysisStarted()
	telemetry.Info("pipeline.started", map[string]any{
		"analysis_id": a.ID,
		"request_id":  analyses.RequestIDFromContext(ctx),
		"model":       a.Model,
		"uploads":     len(a.Uploads),
	})
	return s.Pipeline.Run(ctx, a, run)
}

// Cancel signals a live run. It reports whether one was found.
func (s *Service) Cancel(analysisID string) bool {
	s.mu.Lock()
	run := s.runs[analysisID]
	s.mu.Unlock()
	if run == nil {
		return false
	}
	run.Cancel()
	return true
}

// Thinking returns buffered reasoning chunks of a live run.
func (s *Service) Thinking(analysisID string, since int) ([]analyses.ThinkingEvent, bool) {
	s.mu.Lock()
	run := s.runs[analysisID]
	s.mu.Unlock()
	if run == nil {
		return nil, false
	}
	return run.Thinking(since), true
}

// Wait blocks until dispatched runs and their evaluations finish.
func (s *Service) Wait() {
	s.wg.Wait()
	s.Pipeline.Wait()
}

func (s *Service) register(analysisID string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[analysisID]; exists {
		return nil, false
	}
	var run *Run
	run = newRun(analysisID, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.runs[analysisID] == run {
			delete(s.runs, analysisID)
		}
	})
	s.runs[analysisID] = run
	return run, true
}

var (
	_ analyses.Dispatcher = (*Service)(nil)
	_ analyses.LiveRuns   = (*Service)(nil)
)
