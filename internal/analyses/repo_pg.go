package analyses

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const analysisColumns = `id, status, model, analysis_type, thinking, custom_instructions, uploads, report, qa, metrics, error, created_at, updated_at`

// Create inserts a new analysis.
func (r *PGRepo) Create(ctx context.Context, a Analysis) error {
	const query = `
INSERT INTO analyses (
	id, status, model, analysis_type, thinking, custom_instructions, uploads, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	uploads, err := json.Marshal(a.Uploads)
	if err != nil {
		return fmt.Errorf("marshal uploads: %w", err)
	}
	updated := a.UpdatedAt
	if updated.IsZero() {
		updated = a.CreatedAt
	}
	_, err = r.DB.ExecContext(ctx, query,
		a.ID,
		string(a.Status),
		a.Model,
		a.AnalysisType,
		a.Thinking,
		a.CustomInstructions,
		uploads,
		a.CreatedAt,
		updated,
	)
	return err
}

// Get returns an analysis by ID.
func (r *PGRepo) Get(ctx context.Context, analysisID string) (Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`
	a, err := scanAnalysis(r.DB.QueryRowContext(ctx, query, analysisID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return a, nil
}

// List returns analyses newest first.
func (r *PGRepo) List(ctx context.Context, limit, offset int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + analysisColumns + `
FROM analyses
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`
	rows, err := r.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Update applies the non-nil fields of u in one statement.
func (r *PGRepo) Update(ctx context.Context, analysisID string, u Update) error {
	args := []any{analysisID, time.Now().UTC()}
	sets := []string{"updated_at = $2"}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Status != nil {
		add("status", string(*u.Status))
	}
	addJSON := func(column string, value any) error {
		payload, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", column, err)
		}
		add(column, payload)
		return nil
	}
	if u.Report != nil {
		if err := addJSON("report", u.Report); err != nil {
			return err
		}
	}
	if u.QA != nil {
		if err := addJSON("qa", u.QA); err != nil {
			return err
		}
	}
	if u.Metrics != nil {
		if err := addJSON("metrics", u.Metrics); err != nil {
			return err
		}
	}
	if u.Error != nil {
		add("error", *u.Error)
	}

	query := `UPDATE analyses SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCanceled sets CANCELED unless the analysis already finished.
func (r *PGRepo) MarkCanceled(ctx context.Context, analysisID string) (bool, error) {
	const query = `
UPDATE analyses SET status = $2, updated_at = $3
WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELED')`
	res, err := r.DB.ExecContext(ctx, query, analysisID, string(StatusCanceled), time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := r.Get(ctx, analysisID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// AppendEvent inserts ev into analysis_events.
func (r *PGRepo) AppendEvent(ctx context.Context, analysisID string, ev Event) error {
	const query = `
INSERT INTO analysis_events (analysis_id, idx, event_type, data, created_at)
VALUES ($1, $2, $3, $4, $5)`
	data, err := marshalJSONB(ev.Data)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query, analysisID, ev.Index, ev.Type, data, ev.Timestamp)
	return err
}

// EventsSince returns events with idx >= since.
func (r *PGRepo) EventsSince(ctx context.Context, analysisID string, since int) ([]Event, error) {
	const query = `
SELECT idx, event_type, data, created_at
FROM analysis_events
WHERE analysis_id = $1 AND idx >= $2
ORDER BY idx ASC`
	rows, err := r.DB.QueryContext(ctx, query, analysisID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var ev Event
		var data []byte
		if err := rows.Scan(&ev.Index, &ev.Type, &data, &ev.Timestamp); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("decode event %d: %w", ev.Index, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(s scanner) (Analysis, error) {
	var a Analysis
	var status string
	var uploads, rep, qa, metrics []byte
	var thinking, custom, errMsg sql.NullString
	if err := s.Scan(
		&a.ID,
		&status,
		&a.Model,
		&a.AnalysisType,
		&thinking,
		&custom,
		&uploads,
		&rep,
		&qa,
		&metrics,
		&errMsg,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return Analysis{}, err
	}
	a.Status = Status(status)
	a.Thinking = thinking.String
	a.CustomInstructions = custom.String
	a.Error = errMsg.String

	for _, field := range []struct {
		raw  []byte
		dest any
	}{
		{uploads, &a.Uploads},
		{rep, &a.Report},
		{qa, &a.QA},
		{metrics, &a.Metrics},
	} {
		if len(field.raw) == 0 || string(field.raw) == "null" {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return Analysis{}, fmt.Errorf("decode analysis %s: %w", a.ID, err)
		}
	}
	return a, nil
}

func marshalJSONB(value map[string]any) ([]byte, error) {
	if value == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(value)
}
