package analyses

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores analyses and events in memory. One mutex guards every
// map so read-modify-write sequences stay atomic.
type MemoryRepo struct {
	mu     sync.Mutex
	byID   map[string]Analysis
	events map[string][]Event
	now    func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]Analysis),
		events: make(map[string][]Event),
		now:    time.Now,
	}
}

// Create stores the analysis.
func (r *MemoryRepo) Create(ctx context.Context, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if analysis.ID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[analysis.ID] = analysis
	return nil
}

// Get returns an analysis by its ID.
func (r *MemoryRepo) Get(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return a, nil
}

// List returns analyses newest first, honoring limit/offset.
func (r *MemoryRepo) List(ctx context.Context, limit, offset int) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	all := make([]Analysis, 0, len(r.byID))
	for _, a := range r.byID {
		all = append(all, a)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []Analysis{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// Update applies the non-nil fields of u.
func (r *MemoryRepo) Update(ctx context.Context, analysisID string, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[analysisID]
	if !ok {
		return ErrNotFound
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Report != nil {
		a.Report = u.Report
	}
	if u.QA != nil {
		a.QA = u.QA
	}
	if u.Metrics != nil {
		m := *u.Metrics
		a.Metrics = &m
	}
	if u.Error != nil {
		a.Error = *u.Error
	}
	a.UpdatedAt = r.now().UTC()
	r.byID[analysisID] = a
	return nil
}

// MarkCanceled sets CANCELED unless the analysis is already terminal.
func (r *MemoryRepo) MarkCanceled(ctx context.Context, analysisID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[analysisID]
	if !ok {
		return false, ErrNotFound
	}
	if a.Status.Terminal() {
		return false, nil
	}
	a.Status = StatusCanceled
	a.UpdatedAt = r.now().UTC()
	r.byID[analysisID] = a
	return true, nil
}

// AppendEvent adds ev to the analysis log.
func (r *MemoryRepo) AppendEvent(ctx context.Context, analysisID string, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[analysisID]; !ok {
		return ErrNotFound
	}
	r.events[analysisID] = append(r.events[analysisID], ev)
	return nil
}

// EventsSince returns events with Index >= since.
func (r *MemoryRepo) EventsSince(ctx context.Context, analysisID string, since int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Event{}
	for _, ev := range r.events[analysisID] {
		if ev.Index >= since {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
