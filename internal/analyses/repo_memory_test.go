package analyses

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryRepoListNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := repo.Create(ctx, Analysis{ID: id, Status: StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	list, err := repo.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("unexpected order: %+v", list)
	}
	rest, _ := repo.List(ctx, 2, 2)
	if len(rest) != 1 || rest[0].ID != "a" {
		t.Fatalf("unexpected page: %+v", rest)
	}
}

func TestMemoryRepoMarkCanceledRespectsTerminal(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Create(ctx, Analysis{ID: "run", Status: StatusExtracting})
	_ = repo.Create(ctx, Analysis{ID: "done", Status: StatusCompleted})

	if changed, err := repo.MarkCanceled(ctx, "run"); err != nil || !changed {
		t.Fatalf("expected cancel, got %v %v", changed, err)
	}
	if changed, err := repo.MarkCanceled(ctx, "done"); err != nil || changed {
		t.Fatalf("expected no-op on completed, got %v %v", changed, err)
	}
	if _, err := repo.MarkCanceled(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	a, _ := repo.Get(ctx, "done")
	if a.Status != StatusCompleted {
		t.Fatalf("completed analysis changed to %s", a.Status)
	}
}

func TestMemoryRepoConcurrentEvents(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	_ = repo.Create(ctx, Analysis{ID: "an"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.AppendEvent(ctx, "an", Event{Index: i, Type: EventFileParsed})
		}(i)
	}
	wg.Wait()

	events, err := repo.EventsSince(ctx, "an", 45)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 5 || events[0].Index != 45 || events[4].Index != 49 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if err := repo.AppendEvent(ctx, "missing", Event{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
