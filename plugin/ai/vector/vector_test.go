package vector

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/clinote/plugin/ai/note"
)

// fakeEmbeddingService derives a deterministic vector from the text.
type fakeEmbeddingService struct {
	dim      int
	failOn   string
	inFlight atomic.Int32
	peak     atomic.Int32

	mu       sync.Mutex
	lastText string
}

func (f *fakeEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("embedding model unavailable")
	}
	f.mu.Lock()
	f.lastText = text
	f.mu.Unlock()
	v := make([]float32, f.dim)
	h := fnv.New64a()
	for i := range v {
		h.Write([]byte(text))
		v[i] = float32(h.Sum64()%1000) + 1
	}
	return v, nil
}

func (f *fakeEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbeddingService) Dimensions() int { return f.dim }
func (f *fakeEmbeddingService) Model() string   { return "fake-embed" }

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Norm(v), 1e-6)

	zero := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0}
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
	assert.InDelta(t, 0.0, CosineDistance(a, a), 1e-9)
	assert.InDelta(t, 2.0, CosineDistance(a, []float32{-1, 0}), 1e-9)
	assert.InDelta(t, 1.0, CosineDistance(a, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity(a, []float32{1, 0, 0}))
	assert.Zero(t, CosineSimilarity(a, []float32{0, 0}))
}

func TestDistanceThreshold(t *testing.T) {
	assert.InDelta(t, 0.6, DistanceThreshold(0.7), 1e-9)
	assert.InDelta(t, 2.0, DistanceThreshold(0), 1e-9)
	assert.InDelta(t, 0.0, DistanceThreshold(1), 1e-9)
	assert.Less(t, DistanceThreshold(0.9), DistanceThreshold(0.5))

	assert.Equal(t, 1.0, SimilarityFromDistance(-0.1))
	assert.Equal(t, 0.0, SimilarityFromDistance(1.5))
}

func TestEmbedder_NormalizedIsUnitLength(t *testing.T) {
	e := NewEmbedder(&fakeEmbeddingService{dim: 16}, true, 0, 0)

	for range 2 {
		v, err := e.Embed(context.Background(), "patient reports improved sleep")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, Norm(v), 1e-5)
	}

	a, _ := e.Embed(context.Background(), "same text")
	b, _ := e.Embed(context.Background(), "same text")
	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-6)
}

// shortEmbeddingService promises more dimensions than it returns.
type shortEmbeddingService struct{ fakeEmbeddingService }

func (s *shortEmbeddingService) Dimensions() int { return s.dim * 2 }

func TestEmbedder_DimensionMismatch(t *testing.T) {
	e := NewEmbedder(&shortEmbeddingService{fakeEmbeddingService{dim: 4}}, false, 0, 0)
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestEmbedder_EmbedNoteUsesCanonicalText(t *testing.T) {
	svc := &fakeEmbeddingService{dim: 4}
	e := NewEmbedder(svc, true, 0, 0)

	n := &note.StructuredNote{
		Subjective: note.Section{Content: "Feels anxious"},
		Objective:  note.Section{Content: "Restless"},
		Assessment: note.Section{Content: "GAD"},
		Plan:       note.Section{Content: "CBT weekly"},
	}
	_, err := e.EmbedNote(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, n.CanonicalText(), svc.lastText)
	assert.True(t, strings.HasPrefix(svc.lastText, "SUBJECTIVE:"))

	_, err = e.EmbedNote(context.Background(), &note.StructuredNote{})
	assert.Error(t, err)
}

func TestEmbedder_EmbedBatchPartialFailure(t *testing.T) {
	svc := &fakeEmbeddingService{dim: 4, failOn: "bad"}
	e := NewEmbedder(svc, true, 3, 2)

	items := []BatchItem{
		{Key: "a", Text: "first"},
		{Key: "b", Text: "bad one"},
		{Key: "c", Text: "third"},
		{Key: "d", Text: "fourth"},
		{Key: "e", Text: "another bad"},
		{Key: "f", Text: "sixth"},
		{Key: "g", Text: "seventh"},
	}
	result := e.EmbedBatch(context.Background(), items)

	assert.Equal(t, 2, result.FailedCount)
	require.Len(t, result.Embeddings, 5)
	keys := make([]string, 0, len(result.Embeddings))
	for _, emb := range result.Embeddings {
		keys = append(keys, emb.Key)
		assert.InDelta(t, 1.0, Norm(emb.Vector), 1e-5)
	}
	assert.Equal(t, []string{"a", "c", "d", "f", "g"}, keys)
	assert.Equal(t, "b", result.Failures[0].Key)
	assert.LessOrEqual(t, svc.peak.Load(), int32(2))
}

func TestEmbedder_EmbedBatchEmpty(t *testing.T) {
	e := NewEmbedder(&fakeEmbeddingService{dim: 4}, false, 0, 0)
	result := e.EmbedBatch(context.Background(), nil)
	assert.Zero(t, result.FailedCount)
	assert.Empty(t, result.Embeddings)
}
