package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcobitx/foxdoc/internal/analyses"
)

const thinkingCapacity = 500

// Run is the live state of one executing analysis.
type Run struct {
	AnalysisID string

	canceled atomic.Bool
	refs     atomic.Int32
	onDone   func()
	thinking *thinkingBuffer

	mu         sync.Mutex
	evalCancel context.CancelFunc
}

func newRun(analysisID string, onDone func()) *Run {
	r := &Run{
		AnalysisID: analysisID,
		onDone:     onDone,
		thinking:   newThinkingBuffer(thinkingCapacity, time.Now),
	}
	r.refs.Store(1)
	return r
}

// Cancel flags the run and stops a background evaluation in flight.
func (r *Run) Cancel() {
	if r == nil {
		return
	}
	r.canceled.Store(true)
	r.mu.Lock()
	cancel := r.evalCancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Canceled reports whether Cancel was called.
func (r *Run) Canceled() bool {
	return r != nil && r.canceled.Load()
}

// Thinking returns buffered reasoning chunks with Index >= since.
func (r *Run) Thinking(since int) []analyses.ThinkingEvent {
	return r.thinking.since(since)
}

func (r *Run) setEvalCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.evalCancel = cancel
	r.mu.Unlock()
	if r.Canceled() {
		cancel()
	}
}

func (r *Run) thinkingSink(phase string) func(string) {
	return func(text string) {
		if text != "" {
			r.thinking.add(phase, text)
		}
	}
}

func (r *Run) hold() {
	r.refs.Add(1)
}

// release drops one reference; the last one deregisters the run.
func (r *Run) release() {
	if r.refs.Add(-1) == 0 && r.onDone != nil {
		r.onDone()
	}
}

// thinkingBuffer keeps the newest reasoning chunks, dropping the oldest.
type thinkingBuffer struct {
	mu    sync.Mutex
	items []analyses.ThinkingEvent
	size  int
	next  int
	now   func() time.Time
}

func newThinkingBuffer(size int, now func() time.Time) *thinkingBuffer {
	return &thinkingBuffer{items: make([]analyses.ThinkingEvent, 0, size), size: size, now: now}
}

func (b *thinkingBuffer) add(phase, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := analyses.ThinkingEvent{Index: b.next, Phase: phase, Text: text, Timestamp: b.now().UTC()}
	b.next++
	if len(b.items) == b.size {
		copy(b.items, b.items[1:])
		b.items[len(b.items)-1] = ev
		return
	}
	b.items = append(b.items, ev)
}

func (b *thinkingBuffer) since(index int) []analyses.ThinkingEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []analyses.ThinkingEvent{}
	for _, ev := range b.items {
		if ev.Index >= index {
			out = append(out, ev)
		}
	}
	return out
}
