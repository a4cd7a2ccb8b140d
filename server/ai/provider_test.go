package ai

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/clinote/internal/profile"
	aiplugin "github.com/hrygo/clinote/plugin/ai"
	"github.com/hrygo/clinote/plugin/ai/note"
	"github.com/hrygo/clinote/plugin/ai/rag"
	"github.com/hrygo/clinote/server/internal/observability"
	"github.com/hrygo/clinote/store"
	storetest "github.com/hrygo/clinote/store/test"
)

const noteJSON = `{
  "subjective": {"content": "Reports poor sleep for two weeks.", "confidence": 0.9, "word_count": 6},
  "objective":  {"content": "Tired appearance, alert and oriented.", "confidence": 0.8, "word_count": 5},
  "assessment": {"content": "Insomnia related to work stress.", "confidence": 0.8, "word_count": 5},
  "plan":       {"content": "Sleep hygiene plan, review in two weeks.", "confidence": 0.85, "word_count": 7}
}`

type fakeLLM struct {
	model    string
	chatFunc func(messages []aiplugin.Message) (string, error)
	calls    atomic.Int32
}

func (f *fakeLLM) Chat(_ context.Context, messages []aiplugin.Message) (string, error) {
	f.calls.Add(1)
	return f.chatFunc(messages)
}

func (f *fakeLLM) Model() string { return f.model }

// keywordEmbeddings maps texts mentioning sleep and texts that do not to orthogonal vectors.
type keywordEmbeddings struct {
	calls     atomic.Int32
	failFirst atomic.Int32
}

func (k *keywordEmbeddings) Embed(_ context.Context, text string) ([]float32, error) {
	k.calls.Add(1)
	if k.failFirst.Load() > 0 {
		k.failFirst.Add(-1)
		return nil, errors.New("transient upstream error")
	}
	if strings.Contains(strings.ToLower(text), "sleep") {
		return []float32{2, 0, 0, 0}, nil
	}
	return []float32{0, 2, 0, 0}, nil
}

func (k *keywordEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := k.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (k *keywordEmbeddings) Dimensions() int { return 4 }
func (k *keywordEmbeddings) Model() string   { return "keyword-embed" }

func TestRetryingEmbeddingService(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers from transient failures", func(t *testing.T) {
		inner := &keywordEmbeddings{}
		inner.failFirst.Store(2)
		svc := NewRetryingEmbeddingService(inner, 3, time.Millisecond)

		v, err := svc.Embed(ctx, "sleep")
		require.NoError(t, err)
		assert.Equal(t, []float32{2, 0, 0, 0}, v)
		assert.Equal(t, int32(3), inner.calls.Load())
		assert.Equal(t, 4, svc.Dimensions())
		assert.Equal(t, "keyword-embed", svc.Model())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		inner := &keywordEmbeddings{}
		inner.failFirst.Store(10)
		svc := NewRetryingEmbeddingService(inner, 2, time.Millisecond)

		_, err := svc.EmbedBatch(ctx, []string{"a", "b"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "transient upstream error")
		assert.Equal(t, int32(2), inner.calls.Load())
	})

	t.Run("stops on cancel", func(t *testing.T) {
		inner := &keywordEmbeddings{}
		inner.failFirst.Store(10)
		svc := NewRetryingEmbeddingService(inner, 5, time.Hour)

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := svc.Embed(cctx, "x")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int32(1), inner.calls.Load())
	})
}

func TestNewProvider_Config(t *testing.T) {
	_, err := NewProvider(&profile.Profile{}, nil, nil)
	assert.ErrorIs(t, err, ErrDisabled)

	p := &profile.Profile{
		AIEnabled:             true,
		AIEmbeddingProvider:   "siliconflow",
		AILLMProvider:         "deepseek",
		AIEmbeddingDimensions: 1024,
	}
	_, err = NewProvider(p, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid AI config")
}

func TestNewProvider_Ollama(t *testing.T) {
	p := &profile.Profile{
		AIEnabled:             true,
		AIEmbeddingProvider:   "ollama",
		AILLMProvider:         "ollama",
		AIOllamaBaseURL:       "http://localhost:11434",
		AIEmbeddingModel:      "nomic-embed-text",
		AIEmbeddingDimensions: 768,
		AIEmbeddingNormalize:  true,
		AIEmbedBatchSize:      8,
		AIEmbedMaxParallel:    4,
		AILLMModel:            "llama3",
		AIMaxRegenerations:    2,
	}
	pr, err := NewProvider(p, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "llama3", pr.LLM.Model())
	assert.Equal(t, "llama3", pr.Judge.Model())
	assert.Equal(t, "nomic-embed-text", pr.NoteEmbedder.Model())
	assert.IsType(t, rag.PositionalReranker{}, pr.Reranker)
	assert.Equal(t, 2, pr.Controller.MaxRegenerations())
}

func TestAssemble_GenerateEmbedQuery(t *testing.T) {
	ctx := context.Background()
	st := storetest.NewTestingStore(ctx, t, "sqlite")
	metrics := observability.NewMetrics()

	llm := &fakeLLM{model: "gen", chatFunc: func(messages []aiplugin.Message) (string, error) {
		if strings.Contains(messages[len(messages)-1].Content, "Session text:") {
			return noteJSON, nil
		}
		return "Sleep has been poor for two weeks [1].", nil
	}}
	judgeCalls := 0
	judge := &fakeLLM{model: "judge", chatFunc: func([]aiplugin.Message) (string, error) {
		judgeCalls++
		if judgeCalls == 1 {
			return `{"approved": false, "reason": "too vague", "confidence": 0.4, "suggestions": ["Add duration"]}`, nil
		}
		return `{"approved": true, "reason": "specific and actionable", "confidence": 0.9, "suggestions": []}`, nil
	}}
	embeddings := &keywordEmbeddings{}

	cfg := &aiplugin.Config{
		Enabled:    true,
		Embedding:  aiplugin.EmbeddingConfig{Normalize: true, BatchSize: 2, MaxParallel: 2},
		Generation: aiplugin.GenerationConfig{MaxRegenerations: 2},
	}
	pr := assemble(cfg, llm, judge, embeddings, nil, st, metrics)

	result := pr.Controller.Run(ctx, "Client says they cannot sleep.", note.NewContext(nil))
	require.True(t, result.Approved)
	assert.Equal(t, 1, result.RegenerationCount)
	assert.Equal(t, "specific and actionable", result.Feedback)
	assert.Equal(t, "gen", result.Note.ModelVersion)

	saved, err := st.CreateNote(ctx, &store.Note{
		UID:        "n1",
		PatientID:  "p1",
		VisitTs:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Unix(),
		Content:    result.Note.CanonicalText(),
		Structured: result.Note,
		AIApproved: true,
	})
	require.NoError(t, err)

	vec, err := pr.NoteEmbedder.EmbedNote(ctx, result.Note)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec)
	_, err = st.UpsertNoteEmbedding(ctx, &store.NoteEmbedding{NoteID: saved.ID, Embedding: vec, Model: embeddings.Model(), Normalized: true})
	require.NoError(t, err)

	spec := rag.NewQuerySpec("How is their sleep?")
	spec.PatientID = "p1"
	answer, err := pr.Engine.Query(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "Sleep has been poor for two weeks [1].", answer.Answer)
	require.Len(t, answer.Chunks, 1)
	assert.Equal(t, "n1", answer.Chunks[0].NoteUID)
	assert.InDelta(t, 1.0, answer.Confidence, 1e-6)
	assert.Equal(t, []string{"[1] soap_note from 2024-03-01 (id: n1)"}, answer.Sources)

	// Other patients see nothing and the model is not asked to answer.
	before := llm.calls.Load()
	spec.PatientID = "p2"
	empty, err := pr.Engine.Query(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, rag.NoResultsAnswer, empty.Answer)
	assert.Zero(t, empty.Confidence)
	assert.Equal(t, before, llm.calls.Load())

	// The repeated question was served from the query cache.
	hits, _ := pr.QueryCache.Stats()
	assert.Equal(t, int64(1), hits)
}
