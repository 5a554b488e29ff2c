package documents

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.Mutex
	data map[string][]ParsedDocument // analysisId -> documents
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		data: make(map[string][]ParsedDocument),
	}
}

// Add stores a parsed document, replacing one with the same ID.
func (r *MemoryRepo) Add(ctx context.Context, doc ParsedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" || doc.AnalysisID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := r.data[doc.AnalysisID]
	for i := range docs {
		if docs[i].ID == doc.ID {
			docs[i] = doc
			return nil
		}
	}
	r.data[doc.AnalysisID] = append(docs, doc)
	return nil
}

// ListByAnalysis returns documents in parse order.
func (r *MemoryRepo) ListByAnalysis(ctx context.Context, analysisID string) ([]ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	docs := make([]ParsedDocument, len(r.data[analysisID]))
	copy(docs, r.data[analysisID])
	r.mu.Unlock()

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Position < docs[j].Position })
	return docs, nil
}

// Get returns one document of an analysis.
func (r *MemoryRepo) Get(ctx context.Context, analysisID, documentID string) (ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return ParsedDocument{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.data[analysisID] {
		if d.ID == documentID {
			return d, nil
		}
	}
	return ParsedDocument{}, ErrNotFound
}
