package rag

import (
	"context"
	"time"

	"github.com/hrygo/clinote/plugin/ai/vector"
	"github.com/hrygo/clinote/store"
)

// VectorSearcher is the store capability the retriever needs.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.NoteWithDistance, error)
}

// Retriever turns a query vector and spec into ranked chunks.
type Retriever struct {
	searcher VectorSearcher
	model    string
}

// NewRetriever creates a retriever over embeddings produced by model.
func NewRetriever(searcher VectorSearcher, model string) *Retriever {
	return &Retriever{searcher: searcher, model: model}
}

// Search returns at most spec.TopK chunks, most similar first. Metadata filters narrow
// the candidates before any distance is computed.
func (r *Retriever) Search(ctx context.Context, queryVector []float32, spec QuerySpec) ([]RetrievedChunk, error) {
	opts := &store.VectorSearchOptions{
		Vector:      queryVector,
		Model:       r.model,
		MaxDistance: vector.DistanceThreshold(spec.SimilarityThreshold),
		Limit:       spec.TopK,
	}
	if spec.PatientID != "" {
		opts.PatientID = &spec.PatientID
	}
	if spec.SessionID != "" {
		opts.SessionID = &spec.SessionID
	}
	if spec.ProfessionalID != "" {
		opts.ProfessionalID = &spec.ProfessionalID
	}
	if spec.DateFrom != nil {
		ts := spec.DateFrom.Unix()
		opts.VisitAfter = &ts
	}
	if spec.DateTo != nil {
		ts := spec.DateTo.Unix()
		opts.VisitBefore = &ts
	}

	hits, err := r.searcher.VectorSearch(ctx, opts)
	if err != nil {
		return nil, err
	}

	chunks := make([]RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		n := hit.Note
		chunks = append(chunks, RetrievedChunk{
			NoteID:     n.ID,
			NoteUID:    n.UID,
			Content:    n.Content,
			Similarity: vector.SimilarityFromDistance(hit.Distance),
			NoteType:   n.NoteType,
			PatientID:  n.PatientID,
			SessionID:  n.SessionID,
			VisitDate:  time.Unix(n.VisitTs, 0).UTC(),
		})
	}
	return chunks, nil
}
