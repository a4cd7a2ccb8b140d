package note

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ainote "github.com/hrygo/clinote/plugin/ai/note"
	"github.com/hrygo/clinote/plugin/ai/preprocess"
	aierrors "github.com/hrygo/clinote/server/internal/errors"
	"github.com/hrygo/clinote/store"
	storetest "github.com/hrygo/clinote/store/test"
)

const testModel = "test-embed"

func fullNote() ainote.StructuredNote {
	return ainote.StructuredNote{
		Subjective:   ainote.Section{Content: "Reports poor sleep for two weeks.", Confidence: 0.9, WordCount: 6},
		Objective:    ainote.Section{Content: "Flat affect, BP 120/80.", Confidence: 0.8, WordCount: 4},
		Assessment:   ainote.Section{Content: "Adjustment disorder with low mood.", Confidence: 0.8, WordCount: 5},
		Plan:         ainote.Section{Content: "Sleep hygiene, follow up in one week.", Confidence: 0.85, WordCount: 7},
		ModelVersion: "test-llm",
	}
}

type recordingGenerator struct {
	texts    []string
	contexts []ainote.Context
}

func (g *recordingGenerator) Generate(_ context.Context, text string, c ainote.Context) (*ainote.Generated, error) {
	g.texts = append(g.texts, text)
	g.contexts = append(g.contexts, c)
	return &ainote.Generated{Note: fullNote()}, nil
}

// scriptedValidator approves once it has rejected rejectFirst candidates.
type scriptedValidator struct {
	rejectFirst int
	calls       int
}

func (v *scriptedValidator) Validate(context.Context, *ainote.StructuredNote) ainote.Verdict {
	v.calls++
	if v.calls <= v.rejectFirst {
		return ainote.Verdict{Reason: "plan is generic", Suggestions: []string{"Name a follow-up date"}}
	}
	return ainote.Verdict{Approved: true, Reason: "meets criteria", Confidence: 0.9}
}

type fakeEmbedder struct {
	embedFunc func(ctx context.Context, n *ainote.StructuredNote) ([]float32, error)
	calls     int
}

func (e *fakeEmbedder) EmbedNote(ctx context.Context, n *ainote.StructuredNote) ([]float32, error) {
	e.calls++
	if e.embedFunc != nil {
		return e.embedFunc(ctx, n)
	}
	return []float32{0.6, 0.8, 0}, nil
}

func (e *fakeEmbedder) Model() string    { return testModel }
func (e *fakeEmbedder) Normalized() bool { return true }

type countingRecorder struct {
	success, failure int
}

func (r *countingRecorder) RecordEmbedding(success bool, n int) {
	if success {
		r.success += n
	} else {
		r.failure += n
	}
}

type failingMasker struct{}

func (failingMasker) MaskPII(context.Context, string) (preprocess.MaskResult, error) {
	return preprocess.MaskResult{}, errors.New("masking backend down")
}

type staticExtractor struct {
	entities map[string]any
	err      error
}

func (e staticExtractor) ExtractEntities(context.Context, string) (map[string]any, error) {
	return e.entities, e.err
}

type fixture struct {
	store     *store.Store
	generator *recordingGenerator
	validator *scriptedValidator
	embedder  *fakeEmbedder
	recorder  *countingRecorder
	service   *Service
}

func newFixture(t *testing.T, rejectFirst, maxRegenerations int, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     storetest.NewTestingStore(t.Context(), t, "sqlite"),
		generator: &recordingGenerator{},
		validator: &scriptedValidator{rejectFirst: rejectFirst},
		embedder:  &fakeEmbedder{},
		recorder:  &countingRecorder{},
	}
	controller := ainote.NewController(f.generator, f.validator, ainote.WithMaxRegenerations(maxRegenerations))
	opts = append([]Option{WithEmbeddingRecorder(f.recorder)}, opts...)
	f.service = NewService(f.store, controller, f.embedder, opts...)
	return f
}

func TestGenerateAndValidate_ApprovedIsSavedAndEmbedded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, 3)

	result, err := f.service.GenerateAndValidate(ctx, &GenerateRequest{
		Text:      "Client reports poor sleep.",
		PatientID: "p1",
		SessionID: "s1",
		VisitTs:   1700000000,
	})
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Equal(t, 0, result.RegenerationCount)
	assert.True(t, result.Embedded)
	require.NotNil(t, result.Note)
	assert.NotEmpty(t, result.NoteUID)
	assert.Equal(t, result.Note.UID, result.NoteUID)

	saved, err := f.store.GetNote(ctx, &store.FindNote{UID: &result.NoteUID})
	require.NoError(t, err)
	assert.True(t, saved.AIApproved)
	assert.Equal(t, "p1", saved.PatientID)
	assert.Equal(t, store.DefaultNoteType, saved.NoteType)
	assert.Equal(t, int64(1700000000), saved.VisitTs)
	assert.Equal(t, "meets criteria", saved.ValidationFeedback)
	require.NotNil(t, saved.Structured)
	assert.Equal(t, fullNote().Plan.Content, saved.Structured.Plan.Content)

	embedding, err := f.store.GetNoteEmbedding(ctx, saved.ID, testModel)
	require.NoError(t, err)
	require.NotNil(t, embedding)
	assert.Equal(t, 3, embedding.Dimension)
	assert.True(t, embedding.Normalized)
	assert.Equal(t, 1, f.recorder.success)
}

func TestGenerateAndValidate_RetryFoldsFeedback(t *testing.T) {
	f := newFixture(t, 1, 3)

	result, err := f.service.GenerateAndValidate(context.Background(), &GenerateRequest{Text: "session text"})
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Equal(t, 1, result.RegenerationCount)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "rejected", result.Attempts[0].Verdict)
	assert.Equal(t, "plan is generic", result.Attempts[0].Feedback)
	assert.Equal(t, "approved", result.Attempts[1].Verdict)

	require.Len(t, f.generator.contexts, 2)
	feedback, ok := f.generator.contexts[1].Get(ainote.ContextKeyValidationFeedback)
	require.True(t, ok)
	assert.Equal(t, "plan is generic", feedback)

	saved, err := f.store.GetNote(context.Background(), &store.FindNote{UID: &result.NoteUID})
	require.NoError(t, err)
	assert.Equal(t, 1, saved.RegenerationCount)
}

func TestGenerateAndValidate_ExhaustedPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 2)

	result, err := f.service.GenerateAndValidate(ctx, &GenerateRequest{Text: "session text"})
	require.NoError(t, err)

	assert.False(t, result.Approved)
	assert.Equal(t, 3, result.RegenerationCount)
	assert.Len(t, result.Attempts, 3)
	assert.Nil(t, result.Note)
	assert.Empty(t, result.NoteUID)
	assert.Equal(t, "plan is generic", result.Feedback)

	notes, err := f.store.ListNotes(ctx, &store.FindNote{})
	require.NoError(t, err)
	assert.Empty(t, notes)
	assert.Zero(t, f.embedder.calls)
}

func TestGenerateAndValidate_EmptyText(t *testing.T) {
	f := newFixture(t, 0, 3)

	_, err := f.service.GenerateAndValidate(context.Background(), &GenerateRequest{Text: "   "})
	require.Error(t, err)
	assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeInvalidArgument))
	assert.Empty(t, f.generator.texts)
}

func TestGenerateAndValidate_MasksBeforeGeneration(t *testing.T) {
	f := newFixture(t, 0, 3, WithMasker(preprocess.PatternMasker{}))

	result, err := f.service.GenerateAndValidate(context.Background(), &GenerateRequest{
		Text: "Contact jane@example.com or 555-123-4567 about the visit.",
	})
	require.NoError(t, err)

	assert.True(t, result.PIIMasked)
	assert.Equal(t, 2, result.PIICount)
	require.Len(t, f.generator.texts, 1)
	assert.NotContains(t, f.generator.texts[0], "jane@example.com")
	assert.NotContains(t, f.generator.texts[0], "555-123-4567")
}

func TestGenerateAndValidate_MaskingFailureAborts(t *testing.T) {
	f := newFixture(t, 0, 3, WithMasker(failingMasker{}))

	_, err := f.service.GenerateAndValidate(context.Background(), &GenerateRequest{Text: "session text"})
	require.Error(t, err)
	assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeServiceUnavailable))
	assert.Empty(t, f.generator.texts)
}

func TestGenerateAndValidate_Entities(t *testing.T) {
	t.Run("added to context", func(t *testing.T) {
		entities := map[string]any{"medications": []string{"sertraline"}}
		f := newFixture(t, 0, 3, WithExtractor(staticExtractor{entities: entities}))

		_, err := f.service.GenerateAndValidate(context.Background(), &GenerateRequest{
			Text:    "session text",
			Context: map[string]any{"session_type": "intake"},
		})
		require.NoError(t, err)

		require.Len(t, f.generator.contexts, 1)
		got, ok := f.generator.contexts[0].Get(ainote.ContextKeyEntities)
		require.True(t, ok)
		assert.Equal(t, entities, got)
		sessionType, ok := f.generator.contexts[0].Get("session_type")
		require.True(t, ok)
		assert.Equal(t, "intake", sessionType)
	})

	t.Run("failure is not fatal", func(t *testing.T) {
		f := newFixture(t, 0, 3, WithExtractor(staticExtractor{err: errors.New("ner down")}))

		result, err := f.service.GenerateAndValidate(context.Background(), &GenerateRequest{Text: "session text"})
		require.NoError(t, err)
		assert.True(t, result.Approved)

		_, ok := f.generator.contexts[0].Get(ainote.ContextKeyEntities)
		assert.False(t, ok)
	})
}

func TestGenerateAndValidate_EmbeddingFailureKeepsApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, 3)
	f.embedder.embedFunc = func(context.Context, *ainote.StructuredNote) ([]float32, error) {
		return nil, errors.New("embedding model unavailable")
	}

	result, err := f.service.GenerateAndValidate(ctx, &GenerateRequest{Text: "session text"})
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.False(t, result.Embedded)
	require.NotNil(t, result.Note)

	embedding, err := f.store.GetNoteEmbedding(ctx, result.Note.ID, testModel)
	require.NoError(t, err)
	assert.Nil(t, embedding)
	assert.Equal(t, 1, f.recorder.failure)
}

func TestEmbedNote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, 3)

	result, err := f.service.GenerateAndValidate(ctx, &GenerateRequest{Text: "session text"})
	require.NoError(t, err)
	require.Equal(t, 1, f.embedder.calls)

	t.Run("existing vector is kept", func(t *testing.T) {
		embedded, err := f.service.EmbedNote(ctx, result.NoteUID, false)
		require.NoError(t, err)
		assert.True(t, embedded.Skipped)
		assert.Equal(t, 3, embedded.Dimension)
		assert.Equal(t, 1, f.embedder.calls)
	})

	t.Run("force recomputes", func(t *testing.T) {
		f.embedder.embedFunc = func(context.Context, *ainote.StructuredNote) ([]float32, error) {
			return []float32{1, 0, 0, 0}, nil
		}
		embedded, err := f.service.EmbedNote(ctx, result.NoteUID, true)
		require.NoError(t, err)
		assert.False(t, embedded.Skipped)
		assert.Equal(t, 4, embedded.Dimension)
		assert.Equal(t, testModel, embedded.Model)
		assert.Equal(t, 2, f.embedder.calls)

		list, err := f.store.ListNoteEmbeddings(ctx, &store.FindNoteEmbedding{NoteID: &result.Note.ID})
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("embedding failure", func(t *testing.T) {
		f.embedder.embedFunc = func(context.Context, *ainote.StructuredNote) ([]float32, error) {
			return nil, errors.New("boom")
		}
		_, err := f.service.EmbedNote(ctx, result.NoteUID, true)
		require.Error(t, err)
		assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeEmbeddingFailed))
	})

	t.Run("unknown note", func(t *testing.T) {
		_, err := f.service.EmbedNote(ctx, "missing", false)
		require.Error(t, err)
		assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeNotFound))
	})
}

func TestEmbedNote_NoEmbedder(t *testing.T) {
	ts := storetest.NewTestingStore(t.Context(), t, "sqlite")
	controller := ainote.NewController(&recordingGenerator{}, &scriptedValidator{})
	svc := NewService(ts, controller, nil)

	result, err := svc.GenerateAndValidate(context.Background(), &GenerateRequest{Text: "session text"})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.False(t, result.Embedded)

	_, err = svc.EmbedNote(context.Background(), result.NoteUID, false)
	require.Error(t, err)
	assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeServiceUnavailable))
}

func TestGetNote(t *testing.T) {
	f := newFixture(t, 0, 3)

	_, err := f.service.GetNote(context.Background(), "")
	assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeInvalidArgument))

	_, err = f.service.GetNote(context.Background(), "nope")
	assert.True(t, aierrors.IsCode(err, aierrors.ErrCodeNotFound))
}
