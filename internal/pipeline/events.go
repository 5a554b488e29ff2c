package pipeline

import (
	"context"
	"time"

	"github.com/marcobitx/foxdoc/internal/analyses"
	"github.com/marcobitx/foxdoc/internal/shared/telemetry"
)

type pendingEvent struct {
	typ  string
	data map[string]any
	at   time.Time
}

// emitter serializes progress events through one consumer goroutine, which
// owns the event index.
type emitter struct {
	repo       analyses.Repo
	analysisID string
	ch         chan pendingEvent
	done       chan struct{}
	now        func() time.Time
}

func newEmitter(ctx context.Context, repo analyses.Repo, analysisID string, now func() time.Time) *emitter {
	e := &emitter{
		repo:       repo,
		analysisID: analysisID,
		ch:         make(chan pendingEvent, 256),
		done:       make(chan struct{}),
		now:        now,
	}
	ctx = context.WithoutCancel(ctx)
	next := 0
	if existing, err := repo.EventsSince(ctx, analysisID, 0); err == nil && len(existing) > 0 {
		next = existing[len(existing)-1].Index + 1
	}
	go e.consume(ctx, next)
	return e
}

func (e *emitter) emit(typ string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	e.ch <- pendingEvent{typ: typ, data: data, at: e.now()}
}

// close stops accepting events and waits until all are stored.
func (e *emitter) close() {
	close(e.ch)
	<-e.done
}

func (e *emitter) consume(ctx context.Context, next int) {
	defer close(e.done)
	for p := range e.ch {
		ev := analyses.Event{Index: next, Type: p.typ, Data: p.data, Timestamp: p.at}
		if err := e.repo.AppendEvent(ctx, e.analysisID, ev); err != nil {
			telemetry.Warn("pipeline.event_append_failed", map[string]any{
				"analysis_id": e.analysisID,
				"event_type":  p.typ,
				"error":       err,
			})
			continue
		}
		next++
	}
}
