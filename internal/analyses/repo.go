package analyses

import "context"

// Repo defines persistence operations for analyses and their event logs.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	Get(ctx context.Context, analysisID string) (Analysis, error)
	List(ctx context.Context, limit, offset int) ([]Analysis, error)
	Update(ctx context.Context, analysisID string, u Update) error
	// MarkCanceled sets CANCELED unless the analysis already finished.
	MarkCanceled(ctx context.Context, analysisID string) (bool, error)
	AppendEvent(ctx context.Context, analysisID string, ev Event) error
	// EventsSince returns events with Index >= since in index order.
	EventsSince(ctx context.Context, analysisID string, since int) ([]Event, error)
}
