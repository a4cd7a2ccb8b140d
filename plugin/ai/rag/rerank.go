package rag

import (
	"context"
	"log/slog"
	"sort"

	"github.com/hrygo/clinote/plugin/ai"
)

// PositionPenalty is the per-rank score discount of the positional reranker.
const PositionPenalty = 0.1

// Reranker reorders retrieved chunks and keeps the best topN.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []RetrievedChunk, topN int) ([]RetrievedChunk, error)
}

// PositionalReranker sorts by similarity and discounts each chunk by its rank:
// score × (1 − rank × PositionPenalty).
type PositionalReranker struct{}

func (PositionalReranker) Rerank(_ context.Context, _ string, chunks []RetrievedChunk, topN int) ([]RetrievedChunk, error) {
	out := make([]RetrievedChunk, len(chunks))
	copy(out, chunks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})

	for i := range out {
		factor := max(0, 1-float64(i)*PositionPenalty)
		score := out[i].Similarity * factor
		out[i].RerankScore = &score
	}

	if topN > 0 && topN < len(out) {
		out = out[:topN]
	}
	return out, nil
}

// CrossEncoderReranker scores chunks with a rerank model. When the model is disabled
// or fails, it falls back to the positional reranker.
type CrossEncoderReranker struct {
	service  ai.RerankerService
	fallback PositionalReranker
	logger   *slog.Logger
}

// NewCrossEncoderReranker creates a reranker backed by service.
func NewCrossEncoderReranker(service ai.RerankerService, logger *slog.Logger) *CrossEncoderReranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrossEncoderReranker{service: service, logger: logger}
}

func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, chunks []RetrievedChunk, topN int) ([]RetrievedChunk, error) {
	if len(chunks) == 0 {
		return []RetrievedChunk{}, nil
	}
	if r.service == nil || !r.service.IsEnabled() {
		return r.fallback.Rerank(ctx, query, chunks, topN)
	}

	documents := make([]string, len(chunks))
	for i, c := range chunks {
		documents[i] = c.Content
	}

	results, err := r.service.Rerank(ctx, query, documents, topN)
	if err != nil || len(results) == 0 {
		r.logger.Warn("rerank model unavailable, using positional ranking", "error", err, "chunks", len(chunks))
		return r.fallback.Rerank(ctx, query, chunks, topN)
	}

	out := make([]RetrievedChunk, 0, len(results))
	for _, res := range results {
		c := chunks[res.Index]
		score := float64(res.Score)
		c.RerankScore = &score
		out = append(out, c)
	}
	if topN > 0 && topN < len(out) {
		out = out[:topN]
	}
	return out, nil
}
