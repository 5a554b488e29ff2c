package documents

import "context"

// Repo defines persistence operations for parsed documents.
type Repo interface {
	Add(ctx context.Context, doc ParsedDocument) error
	ListByAnalysis(ctx context.Context, analysisID string) ([]ParsedDocument, error)
	Get(ctx context.Context, analysisID, documentID string) (ParsedDocument, error)
}
