package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hrygo/clinote/plugin/ai"
)

// DefaultEmbeddingTTL bounds how long a query vector is reused.
const DefaultEmbeddingTTL = 30 * time.Minute

// EmbeddingService memoizes vectors of an ai.EmbeddingService keyed by model and text.
type EmbeddingService struct {
	inner  ai.EmbeddingService
	cache  *LRUCache[[]float32]
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// NewEmbeddingService wraps inner with an LRU cache of the given capacity.
func NewEmbeddingService(inner ai.EmbeddingService, capacity int, ttl time.Duration) *EmbeddingService {
	if ttl <= 0 {
		ttl = DefaultEmbeddingTTL
	}
	return &EmbeddingService{
		inner: inner,
		cache: NewLRUCache[[]float32](capacity, ttl),
		ttl:   ttl,
	}
}

func (s *EmbeddingService) key(text string) string {
	return s.inner.Model() + "\x00" + text
}

// Embed returns a cached vector or calls the wrapped service.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	key := s.key(text)
	if v, ok := s.cache.Get(key); ok {
		s.hits.Add(1)
		return clone(v), nil
	}
	s.misses.Add(1)

	v, err := s.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, clone(v), s.ttl)
	return v, nil
}

// EmbedBatch only sends texts that are not cached to the wrapped service.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := s.cache.Get(s.key(text)); ok {
			s.hits.Add(1)
			out[i] = clone(v)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 && len(texts) > 0 {
		return out, nil
	}

	s.misses.Add(int64(len(missing)))
	vectors, err := s.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		s.cache.Set(s.key(missing[j]), clone(v), s.ttl)
		out[missingIdx[j]] = v
	}
	return out, nil
}

func (s *EmbeddingService) Dimensions() int {
	return s.inner.Dimensions()
}

func (s *EmbeddingService) Model() string {
	return s.inner.Model()
}

// Stats returns cache hit and miss counts.
func (s *EmbeddingService) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

var _ ai.EmbeddingService = (*EmbeddingService)(nil)
