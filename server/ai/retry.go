package ai

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	aiplugin "github.com/hrygo/clinote/plugin/ai"
)

// RetryingEmbeddingService retries transient embedding failures with exponential backoff.
// Chat calls are not wrapped: a failed generation or judge call consumes the note retry budget instead.
type RetryingEmbeddingService struct {
	inner      aiplugin.EmbeddingService
	maxRetries int
	baseDelay  time.Duration
}

// NewRetryingEmbeddingService wraps inner. maxRetries counts total attempts.
func NewRetryingEmbeddingService(inner aiplugin.EmbeddingService, maxRetries int, baseDelay time.Duration) *RetryingEmbeddingService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &RetryingEmbeddingService{inner: inner, maxRetries: maxRetries, baseDelay: baseDelay}
}

func (s *RetryingEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := s.doWithRetry(ctx, func() error {
		v, err := s.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	return result, nil
}

func (s *RetryingEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := s.doWithRetry(ctx, func() error {
		v, err := s.inner.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return result, nil
}

func (s *RetryingEmbeddingService) Dimensions() int {
	return s.inner.Dimensions()
}

func (s *RetryingEmbeddingService) Model() string {
	return s.inner.Model()
}

// doWithRetry executes a function with exponential backoff retry.
func (s *RetryingEmbeddingService) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == s.maxRetries-1 {
			break
		}
		waitTime := time.Duration(math.Pow(2, float64(attempt))) * s.baseDelay
		slog.Debug("embedding request failed, retrying",
			"attempt", attempt+1,
			"wait_time", waitTime,
			"error", err)
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
