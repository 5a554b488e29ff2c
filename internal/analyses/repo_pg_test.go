package analyses

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/marcobitx/foxdoc/internal/documents"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Analysis{
		ID:           "an-1",
		Status:       StatusPending,
		Model:        "anthropic/claude-sonnet-4.6",
		AnalysisType: "detailed",
		Uploads:      []documents.Upload{{Filename: "a.pdf", StorageKey: "uploads/an-1/x_a.pdf", SizeBytes: 3}},
		CreatedAt:    created,
	}

	mock.ExpectExec("INSERT INTO analyses").
		WithArgs("an-1", "PENDING", a.Model, "detailed", "", "", sqlmock.AnyArg(), created, created).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetDecodesJSONColumns(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "status", "model", "analysis_type", "thinking", "custom_instructions",
		"uploads", "report", "qa", "metrics", "error", "created_at", "updated_at",
	}).AddRow(
		"an-1", "COMPLETED", "openai/gpt-5.3-codex", "quick", nil, nil,
		[]byte(`[{"filename":"a.pdf","storage_key":"k","size_bytes":3,"mime_type":"application/pdf"}]`),
		[]byte(`{"project_summary":"Road works","source_documents":[{"filename":"a.pdf","type":"contract","pages":2}]}`),
		nil,
		[]byte(`{"total_files":1,"total_pages":2,"estimated_cost_usd":0.01}`),
		nil, now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM analyses WHERE id = \\$1").
		WithArgs("an-1").
		WillReturnRows(rows)

	a, err := repo.Get(context.Background(), "an-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Status != StatusCompleted || len(a.Uploads) != 1 || a.Uploads[0].StorageKey != "k" {
		t.Fatalf("unexpected analysis: %+v", a)
	}
	if a.Report == nil || a.Report.ProjectSummary != "Road works" || len(a.Report.SourceDocuments) != 1 {
		t.Fatalf("unexpected report: %+v", a.Report)
	}
	if a.QA != nil {
		t.Fatalf("expected nil qa, got %+v", a.QA)
	}
	if a.Metrics == nil || a.Metrics.TotalPages != 2 {
		t.Fatalf("unexpected metrics: %+v", a.Metrics)
	}
}

func TestPGRepoGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM analyses").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoUpdateOrdersColumns(t *testing.T) {
	repo, mock := newMockRepo(t)
	status := StatusFailed
	msg := "boom"
	metrics := &Metrics{TotalFiles: 2}

	mock.ExpectExec(`UPDATE analyses SET updated_at = \$2, status = \$3, metrics = \$4, error = \$5 WHERE id = \$1`).
		WithArgs("an-1", sqlmock.AnyArg(), "FAILED", sqlmock.AnyArg(), "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Update(context.Background(), "an-1", Update{Status: &status, Metrics: metrics, Error: &msg}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateMissingRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	status := StatusParsing
	mock.ExpectExec("UPDATE analyses SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.Update(context.Background(), "gone", Update{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoMarkCanceled(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE analyses SET status = \\$2").
		WithArgs("an-1", "CANCELED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.MarkCanceled(context.Background(), "an-1")
	if err != nil || !changed {
		t.Fatalf("MarkCanceled = %v, %v", changed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoEvents(t *testing.T) {
	repo, mock := newMockRepo(t)
	ts := time.Now().UTC()

	mock.ExpectExec("INSERT INTO analysis_events").
		WithArgs("an-1", 0, EventFileParsed, []byte(`{"filename":"a.pdf"}`), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT idx, event_type, data, created_at").
		WithArgs("an-1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"idx", "event_type", "data", "created_at"}).
			AddRow(1, EventAggregationStarted, []byte(`{}`), ts).
			AddRow(2, EventError, []byte(`{"message":"x"}`), ts))

	ctx := context.Background()
	if err := repo.AppendEvent(ctx, "an-1", Event{Index: 0, Type: EventFileParsed, Data: map[string]any{"filename": "a.pdf"}, Timestamp: ts}); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	events, err := repo.EventsSince(ctx, "an-1", 1)
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 2 || events[1].Data["message"] != "x" {
		t.Fatalf("unexpected events: %+v", events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
