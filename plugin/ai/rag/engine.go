package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// NoResultsAnswer is returned when nothing matches the query.
const NoResultsAnswer = "No relevant notes were found for this question."

// QueryEmbedder embeds query text into the same space as stored notes.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Observer is notified of each completed query.
type Observer interface {
	ObserveQuery(chunks int, confidence float64, elapsed time.Duration)
}

// QueryResult is the answer to a query and the evidence behind it.
type QueryResult struct {
	Answer     string           `json:"answer"`
	Sources    []string         `json:"sources"`
	Chunks     []RetrievedChunk `json:"chunks"`
	Confidence float64          `json:"confidence"`
}

// Engine runs validate → embed → retrieve → rerank → synthesize.
type Engine struct {
	embedder    QueryEmbedder
	retriever   *Retriever
	reranker    Reranker
	synthesizer *Synthesizer
	observer    Observer
	logger      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver attaches an observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a query engine. A nil reranker uses PositionalReranker.
func NewEngine(embedder QueryEmbedder, retriever *Retriever, reranker Reranker, synthesizer *Synthesizer, opts ...EngineOption) *Engine {
	if reranker == nil {
		reranker = PositionalReranker{}
	}
	e := &Engine{
		embedder:    embedder,
		retriever:   retriever,
		reranker:    reranker,
		synthesizer: synthesizer,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query answers spec. Invalid specs fail with ErrInvalidQuery before any model call.
// When nothing matches, the result is empty with zero confidence, not an error.
func (e *Engine) Query(ctx context.Context, spec QuerySpec) (*QueryResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	queryVector, err := e.embedder.Embed(ctx, spec.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	chunks, err := e.retriever.Search(ctx, queryVector, spec)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	if len(chunks) == 0 {
		e.observe(0, 0, start)
		return &QueryResult{
			Answer:  NoResultsAnswer,
			Sources: []string{},
			Chunks:  []RetrievedChunk{},
		}, nil
	}

	chunks, err = e.reranker.Rerank(ctx, spec.Query, chunks, spec.RerankTopN)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}

	answer, err := e.synthesizer.Synthesize(ctx, chunks, spec.SubjectContext, spec.Query)
	if err != nil {
		return nil, err
	}

	confidence := meanSimilarity(chunks)
	e.observe(len(chunks), confidence, start)
	e.logger.Debug("query answered", "chunks", len(chunks), "confidence", confidence)

	return &QueryResult{
		Answer:     answer,
		Sources:    Citations(chunks),
		Chunks:     chunks,
		Confidence: confidence,
	}, nil
}

func (e *Engine) observe(chunks int, confidence float64, start time.Time) {
	if e.observer != nil {
		e.observer.ObserveQuery(chunks, confidence, time.Since(start))
	}
}

func meanSimilarity(chunks []RetrievedChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Similarity
	}
	return sum / float64(len(chunks))
}
