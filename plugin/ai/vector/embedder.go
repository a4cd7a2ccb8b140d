package vector

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/clinote/plugin/ai"
	"github.com/hrygo/clinote/plugin/ai/note"
)

const (
	DefaultBatchSize   = 8
	DefaultMaxParallel = 4
)

// BatchItem is one text to embed, keyed by the caller.
type BatchItem struct {
	Key  string
	Text string
}

// BatchEmbedding is a successfully embedded item.
type BatchEmbedding struct {
	Key    string
	Vector []float32
}

// BatchFailure records why an item was not embedded.
type BatchFailure struct {
	Key string
	Err error
}

// BatchResult holds successes in input order plus per-item failures.
type BatchResult struct {
	Embeddings  []BatchEmbedding
	Failures    []BatchFailure
	FailedCount int
}

// Embedder produces (optionally normalized) vectors of a fixed dimension.
type Embedder struct {
	service     ai.EmbeddingService
	normalize   bool
	batchSize   int
	maxParallel int
}

// NewEmbedder creates an Embedder. Non-positive batch settings fall back to defaults.
func NewEmbedder(service ai.EmbeddingService, normalize bool, batchSize, maxParallel int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Embedder{
		service:     service,
		normalize:   normalize,
		batchSize:   batchSize,
		maxParallel: maxParallel,
	}
}

// Model returns the embedding model identifier.
func (e *Embedder) Model() string {
	return e.service.Model()
}

// Dimensions returns the configured vector dimension.
func (e *Embedder) Dimensions() int {
	return e.service.Dimensions()
}

// Normalized reports whether vectors are scaled to unit length.
func (e *Embedder) Normalized() bool {
	return e.normalize
}

// Embed embeds a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.service.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.finish(v)
}

// EmbedNote embeds the canonical section text of a note.
func (e *Embedder) EmbedNote(ctx context.Context, n *note.StructuredNote) ([]float32, error) {
	text := n.CanonicalText()
	if text == "" {
		return nil, fmt.Errorf("note has no content to embed")
	}
	return e.Embed(ctx, text)
}

// EmbedBatch embeds items in sequential groups of batchSize. Within a group at most
// maxParallel items are in flight. A failed item is counted and skipped.
func (e *Embedder) EmbedBatch(ctx context.Context, items []BatchItem) *BatchResult {
	vectors := make([][]float32, len(items))
	errs := make([]error, len(items))

	for start := 0; start < len(items); start += e.batchSize {
		end := min(start+e.batchSize, len(items))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxParallel)
		for i := start; i < end; i++ {
			g.Go(func() error {
				v, err := e.Embed(gctx, items[i].Text)
				if err != nil {
					errs[i] = err
					return nil
				}
				vectors[i] = v
				return nil
			})
		}
		// Workers never return errors; failures are tracked per item.
		_ = g.Wait()
	}

	result := &BatchResult{}
	for i, item := range items {
		if errs[i] != nil {
			result.Failures = append(result.Failures, BatchFailure{Key: item.Key, Err: errs[i]})
			slog.Warn("embedding batch item failed", "key", item.Key, "error", errs[i])
			continue
		}
		result.Embeddings = append(result.Embeddings, BatchEmbedding{Key: item.Key, Vector: vectors[i]})
	}
	result.FailedCount = len(result.Failures)
	return result
}

func (e *Embedder) finish(v []float32) ([]float32, error) {
	if want := e.service.Dimensions(); want > 0 && len(v) != want {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(v), want)
	}
	out := make([]float32, len(v))
	copy(out, v)
	if e.normalize {
		Normalize(out)
	}
	return out, nil
}
