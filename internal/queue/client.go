package queue

import (
	"context"
	"time"

	"github.com/marcobitx/foxdoc/internal/analyses"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher enqueues analyses for the worker process.
type Dispatcher struct {
	Client Client
	now    func() time.Time
}

// Dispatch sends a job message for a.
func (d *Dispatcher) Dispatch(ctx context.Context, a analyses.Analysis) error {
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	return d.Client.Send(ctx, Message{
		AnalysisID: a.ID,
		RequestID:  analyses.RequestIDFromContext(ctx),
		EnqueuedAt: now().UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	})
}

var _ analyses.Dispatcher = (*Dispatcher)(nil)
