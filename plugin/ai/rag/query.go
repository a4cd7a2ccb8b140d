// Package rag answers questions over approved clinical notes: embed the question,
// retrieve similar notes under metadata filters, rerank, and synthesize a cited answer.
package rag

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidQuery is returned for out-of-range query parameters, before any model call.
var ErrInvalidQuery = errors.New("invalid query")

const (
	DefaultTopK                = 5
	MaxTopK                    = 50
	DefaultRerankTopN          = 3
	MaxRerankTopN              = 10
	DefaultSimilarityThreshold = 0.7
)

// QuerySpec describes one retrieval request.
type QuerySpec struct {
	Query string

	// Optional filters, combined with AND.
	PatientID      string
	SessionID      string
	ProfessionalID string
	DateFrom       *time.Time
	DateTo         *time.Time

	TopK                int
	RerankTopN          int
	SimilarityThreshold float64

	// SubjectContext is an optional one-line descriptor of the subject, e.g. the patient.
	SubjectContext string
}

// NewQuerySpec returns a spec with default ranking parameters.
func NewQuerySpec(query string) QuerySpec {
	return QuerySpec{
		Query:               query,
		TopK:                DefaultTopK,
		RerankTopN:          DefaultRerankTopN,
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

// Validate checks parameter ranges.
func (q QuerySpec) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("%w: query text is required", ErrInvalidQuery)
	}
	if q.TopK < 1 || q.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d, got %d", ErrInvalidQuery, MaxTopK, q.TopK)
	}
	if q.RerankTopN < 1 || q.RerankTopN > MaxRerankTopN {
		return fmt.Errorf("%w: rerank_top_n must be between 1 and %d, got %d", ErrInvalidQuery, MaxRerankTopN, q.RerankTopN)
	}
	if q.SimilarityThreshold < 0 || q.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be between 0 and 1, got %g", ErrInvalidQuery, q.SimilarityThreshold)
	}
	if q.DateFrom != nil && q.DateTo != nil && q.DateFrom.After(*q.DateTo) {
		return fmt.Errorf("%w: date_from is after date_to", ErrInvalidQuery)
	}
	return nil
}
