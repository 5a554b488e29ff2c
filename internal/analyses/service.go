package analyses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcobitx/foxdoc/internal/documents"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

// Dispatcher hands a created analysis to whatever runs it: an in-process
// pipeline or the job queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, a Analysis) error
}

// LiveRuns exposes runs executing in this process.
type LiveRuns interface {
	Cancel(analysisID string) bool
	Thinking(analysisID string, since int) ([]ThinkingEvent, bool)
}

// Service contains business logic for analyses.
type Service struct {
	Repo         Repo
	Docs         *documents.Service
	Dispatch     Dispatcher
	Live         LiveRuns
	DefaultModel string
	now          func() time.Time
}

// FileInput is one uploaded file of a start request.
type FileInput struct {
	Name   string
	Reader io.Reader
}

// StartInput holds the form fields of a start request.
type StartInput struct {
	Model              string
	Thinking           string
	AnalysisType       string
	CustomInstructions string
	Files              []FileInput
}

// Start stores the uploads, records a PENDING analysis and dispatches it.
func (s *Service) Start(ctx context.Context, in StartInput) (Analysis, error) {
	if len(in.Files) == 0 {
		return Analysis{}, ErrNoFiles
	}
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.DefaultModel
	}
	analysisType := strings.ToLower(strings.TrimSpace(in.AnalysisType))
	if analysisType == "" {
		analysisType = "detailed"
	}

	now := s.clock()
	a := Analysis{
		ID:                 uuid.NewString(),
		Status:             StatusPending,
		Model:              model,
		AnalysisType:       analysisType,
		Thinking:           strings.ToLower(strings.TrimSpace(in.Thinking)),
		CustomInstructions: strings.TrimSpace(in.CustomInstructions),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, f := range in.Files {
		up, err := s.Docs.Upload(ctx, a.ID, f.Name, f.Reader)
		if err != nil {
			if errors.Is(err, documents.ErrInvalidInput) {
				return Analysis{}, fmt.Errorf("%w: %s", ErrInvalidInput, f.Name)
			}
			return Analysis{}, fmt.Errorf("store upload %s: %w", f.Name, err)
		}
		a.Uploads = append(a.Uploads, up)
	}

	if err := s.Repo.Create(ctx, a); err != nil {
		return Analysis{}, err
	}
	telemetry.Info("analysis.created", map[string]any{
		"request_id":  RequestIDFromContext(ctx),
		"analysis_id": a.ID,
		"model":       a.Model,
		"files":       len(a.Uploads),
	})

	if err := s.Dispatch.Dispatch(backgroundWithRequestID(ctx), a); err != nil {
		status, msg := StatusFailed, "dispatch failed: "+err.Error()
		if uerr := s.Repo.Update(ctx, a.ID, Update{Status: &status, Error: &msg}); uerr != nil {
			telemetry.Error("analysis.dispatch_mark_failed", map[string]any{"analysis_id": a.ID, "error": uerr})
		}
		return Analysis{}, fmt.Errorf("dispatch analysis: %w", err)
	}
	return a, nil
}

// Get returns an analysis by ID.
func (s *Service) Get(ctx context.Context, analysisID string) (Analysis, error) {
	if analysisID == "" {
		return Analysis{}, ErrInvalidInput
	}
	return s.Repo.Get(ctx, analysisID)
}

// List returns analyses newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Analysis, error) {
	return s.Repo.List(ctx, limit, offset)
}

// Events returns the persisted progress log from index since.
func (s *Service) Events(ctx context.Context, analysisID string, since int) ([]Event, error) {
	if _, err := s.Get(ctx, analysisID); err != nil {
		return nil, err
	}
	return s.Repo.EventsSince(ctx, analysisID, max(since, 0))
}

// Thinking returns buffered reasoning chunks of a live run. A run that is not
// executing in this process has none.
func (s *Service) Thinking(ctx context.Context, analysisID string, since int) ([]ThinkingEvent, error) {
	if _, err := s.Get(ctx, analysisID); err != nil {
		return nil, err
	}
	if s.Live == nil {
		return []ThinkingEvent{}, nil
	}
	events, ok := s.Live.Thinking(analysisID, since)
	if !ok || events == nil {
		return []ThinkingEvent{}, nil
	}
	return events, nil
}

// Cancel signals a live run and marks the analysis CANCELED. A COMPLETED
// analysis whose QA evaluation is still running keeps its status; only the
// evaluation is stopped. It returns the status the analysis ends up in.
// Other finished analyses return ErrFinished.
func (s *Service) Cancel(ctx context.Context, analysisID string) (Status, error) {
	a, err := s.Get(ctx, analysisID)
	if err != nil {
		return "", err
	}
	if a.Status == StatusCompleted {
		if s.Live == nil || !s.Live.Cancel(analysisID) {
			return a.Status, ErrFinished
		}
		telemetry.Info("analysis.cancel_evaluation", map[string]any{
			"request_id":  RequestIDFromContext(ctx),
			"analysis_id": analysisID,
		})
		return a.Status, nil
	}
	if a.Status.Terminal() {
		return a.Status, ErrFinished
	}
	live := s.Live != nil && s.Live.Cancel(analysisID)
	changed, err := s.Repo.MarkCanceled(ctx, analysisID)
	if err != nil {
		return "", err
	}
	telemetry.Info("analysis.cancel", map[string]any{
		"request_id":  RequestIDFromContext(ctx),
		"analysis_id": analysisID,
		"live":        live,
		"status_from": string(a.Status),
	})
	if !changed {
		return a.Status, ErrFinished
	}
	return StatusCanceled, nil
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
