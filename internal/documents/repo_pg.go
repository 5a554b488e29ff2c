package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcobitx/foxdoc/internal/report"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Add inserts a parsed document.
func (r *PGRepo) Add(ctx context.Context, doc ParsedDocument) error {
	const query = `
INSERT INTO parsed_documents (
    id,
    analysis_id,
    position,
    filename,
    format,
    content,
    page_count,
    file_size_bytes,
    doc_type,
    token_estimate,
    content_hash,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO NOTHING`

	var hash sql.NullString
	if doc.ContentHash != "" {
		hash = sql.NullString{String: doc.ContentHash, Valid: true}
	}

	_, err := r.DB.ExecContext(
		ctx,
		query,
		doc.ID,
		doc.AnalysisID,
		doc.Position,
		doc.Filename,
		doc.Format,
		doc.Content,
		doc.PageCount,
		doc.FileSizeBytes,
		string(doc.DocType),
		doc.TokenEstimate,
		hash,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert parsed document: %w", err)
	}
	return nil
}

const selectColumns = `id, analysis_id, position, filename, format, content, page_count, file_size_bytes, doc_type, token_estimate, content_hash, created_at`

// ListByAnalysis returns documents in parse order.
func (r *PGRepo) ListByAnalysis(ctx context.Context, analysisID string) ([]ParsedDocument, error) {
	query := `SELECT ` + selectColumns + `
FROM parsed_documents
WHERE analysis_id = $1
ORDER BY position ASC, created_at ASC`

	rows, err := r.DB.QueryContext(ctx, query, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParsedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one document of an analysis.
func (r *PGRepo) Get(ctx context.Context, analysisID, documentID string) (ParsedDocument, error) {
	query := `SELECT ` + selectColumns + `
FROM parsed_documents
WHERE analysis_id = $1 AND id = $2
LIMIT 1`

	doc, err := scanDocument(r.DB.QueryRowContext(ctx, query, analysisID, documentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ParsedDocument{}, ErrNotFound
		}
		return ParsedDocument{}, err
	}
	return doc, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (ParsedDocument, error) {
	var doc ParsedDocument
	var docType string
	var hash sql.NullString
	err := s.Scan(
		&doc.ID,
		&doc.AnalysisID,
		&doc.Position,
		&doc.Filename,
		&doc.Format,
		&doc.Content,
		&doc.PageCount,
		&doc.FileSizeBytes,
		&docType,
		&doc.TokenEstimate,
		&hash,
		&doc.CreatedAt,
	)
	if err != nil {
		return ParsedDocument{}, err
	}
	doc.DocType = report.DocumentType(docType)
	if hash.Valid {
		doc.ContentHash = hash.String
	}
	return doc, nil
}
