package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/clinote/internal/profile"
	ainote "github.com/hrygo/clinote/plugin/ai/note"
	"github.com/hrygo/clinote/plugin/ai/rag"
	aierrors "github.com/hrygo/clinote/server/internal/errors"
	"github.com/hrygo/clinote/server/internal/observability"
	notesvc "github.com/hrygo/clinote/server/service/note"
	"github.com/hrygo/clinote/store"
)

type fakeNoteService struct {
	generateFunc func(ctx context.Context, req *notesvc.GenerateRequest) (*notesvc.GenerateResult, error)
	embedFunc    func(ctx context.Context, uid string, force bool) (*notesvc.EmbedResult, error)
	getFunc      func(ctx context.Context, uid string) (*store.Note, error)
}

func (f *fakeNoteService) GenerateAndValidate(ctx context.Context, req *notesvc.GenerateRequest) (*notesvc.GenerateResult, error) {
	return f.generateFunc(ctx, req)
}

func (f *fakeNoteService) EmbedNote(ctx context.Context, uid string, force bool) (*notesvc.EmbedResult, error) {
	return f.embedFunc(ctx, uid, force)
}

func (f *fakeNoteService) GetNote(ctx context.Context, uid string) (*store.Note, error) {
	return f.getFunc(ctx, uid)
}

type fakeQueryEngine struct {
	queryFunc func(ctx context.Context, spec rag.QuerySpec) (*rag.QueryResult, error)
	calls     int
}

func (f *fakeQueryEngine) Query(ctx context.Context, spec rag.QuerySpec) (*rag.QueryResult, error) {
	f.calls++
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return f.queryFunc(ctx, spec)
}

func newTestServer(notes NoteService, engine QueryEngine) *echo.Echo {
	e := echo.New()
	svc := NewAPIV1Service(&profile.Profile{Version: "test"}, notes, engine, observability.NewMetrics())
	svc.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthzAndMetrics(t *testing.T) {
	e := newTestServer(&fakeNoteService{}, nil)

	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"status": "ok", "version": "test"}, decodeBody[map[string]string](t, rec))

	rec = doJSON(t, e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestGenerateNote(t *testing.T) {
	var got *notesvc.GenerateRequest
	notes := &fakeNoteService{
		generateFunc: func(_ context.Context, req *notesvc.GenerateRequest) (*notesvc.GenerateResult, error) {
			got = req
			if req.Text == "exhaust" {
				return &notesvc.GenerateResult{
					RegenerationCount: 4,
					Feedback:          "plan is generic",
					Attempts:          []notesvc.AttemptSummary{{Index: 0, Verdict: "rejected"}},
				}, nil
			}
			return &notesvc.GenerateResult{
				NoteUID:    "uid-1",
				Structured: &ainote.StructuredNote{Plan: ainote.Section{Content: "Follow up."}},
				Approved:   true,
				Embedded:   true,
			}, nil
		},
	}
	e := newTestServer(notes, nil)

	t.Run("approved", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/v1/notes/generate",
			`{"text":"session text","patient_id":"p1","visit_ts":1700000000,"context":{"session_type":"intake"}}`)
		require.Equal(t, http.StatusOK, rec.Code)

		require.NotNil(t, got)
		assert.Equal(t, "p1", got.PatientID)
		assert.Equal(t, int64(1700000000), got.VisitTs)
		assert.Equal(t, "intake", got.Context["session_type"])

		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, true, body["approved"])
		assert.Equal(t, "uid-1", body["note_uid"])
		assert.Equal(t, true, body["embedded"])
	})

	t.Run("exhausted is still 200", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/v1/notes/generate", `{"text":"exhaust"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody[map[string]any](t, rec)
		assert.Equal(t, false, body["approved"])
		assert.Equal(t, float64(4), body["regeneration_count"])
		assert.Equal(t, "plan is generic", body["validation_feedback"])
		assert.NotContains(t, body, "note_uid")
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/v1/notes/generate", `{"text":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_ARGUMENT", decodeBody[errorResponse](t, rec).Code)
	})
}

func TestGenerateNote_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid", aierrors.InvalidArgument("text is required"), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"masking down", aierrors.ServiceUnavailable("pii masking failed"), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "TIMEOUT"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notes := &fakeNoteService{
				generateFunc: func(context.Context, *notesvc.GenerateRequest) (*notesvc.GenerateResult, error) {
					return nil, tt.err
				},
			}
			rec := doJSON(t, newTestServer(notes, nil), http.MethodPost, "/api/v1/notes/generate", `{"text":"x"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeBody[errorResponse](t, rec).Code)
		})
	}
}

func TestGetNote(t *testing.T) {
	notes := &fakeNoteService{
		getFunc: func(_ context.Context, uid string) (*store.Note, error) {
			if uid != "uid-1" {
				return nil, aierrors.NotFound("note not found")
			}
			return &store.Note{
				UID:        uid,
				PatientID:  "p1",
				NoteType:   store.DefaultNoteType,
				VisitTs:    1700000000,
				Content:    "Subjective: ...",
				AIApproved: true,
			}, nil
		},
	}
	e := newTestServer(notes, nil)

	rec := doJSON(t, e, http.MethodGet, "/api/v1/notes/uid-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[NoteResponse](t, rec)
	assert.Equal(t, "uid-1", got.UID)
	assert.True(t, got.AIApproved)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.VisitDate)

	rec = doJSON(t, e, http.MethodGet, "/api/v1/notes/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmbedNote(t *testing.T) {
	var gotForce bool
	notes := &fakeNoteService{
		embedFunc: func(_ context.Context, uid string, force bool) (*notesvc.EmbedResult, error) {
			gotForce = force
			return &notesvc.EmbedResult{NoteUID: uid, Model: "bge-m3", Dimension: 1024, Skipped: !force}, nil
		},
	}
	e := newTestServer(notes, nil)

	rec := doJSON(t, e, http.MethodPost, "/api/v1/notes/uid-1/embed?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gotForce)
	assert.False(t, decodeBody[notesvc.EmbedResult](t, rec).Skipped)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/notes/uid-1/embed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gotForce)
	assert.True(t, decodeBody[notesvc.EmbedResult](t, rec).Skipped)

	rec = doJSON(t, e, http.MethodPost, "/api/v1/notes/uid-1/embed?force=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery(t *testing.T) {
	var got rag.QuerySpec
	engine := &fakeQueryEngine{
		queryFunc: func(_ context.Context, spec rag.QuerySpec) (*rag.QueryResult, error) {
			got = spec
			return &rag.QueryResult{
				Answer:     "Sleep improved after CBT [1].",
				Sources:    []string{"[1] soap_note from 2023-11-14 (id: uid-1)"},
				Chunks:     []rag.RetrievedChunk{{NoteUID: "uid-1", Similarity: 0.9}},
				Confidence: 0.9,
			}, nil
		},
	}
	e := newTestServer(&fakeNoteService{}, engine)

	t.Run("defaults and filters", func(t *testing.T) {
		rec := doJSON(t, e, http.MethodPost, "/api/v1/query",
			`{"query":"how is sleep?","patient_id":"p1","date_from":"2023-11-01","date_to":"2023-11-30"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, "p1", got.PatientID)
		assert.Equal(t, rag.DefaultTopK, got.TopK)
		assert.Equal(t, rag.DefaultRerankTopN, got.RerankTopN)
		assert.InDelta(t, rag.DefaultSimilarityThreshold, got.SimilarityThreshold, 1e-9)
		require.NotNil(t, got.DateFrom)
		require.NotNil(t, got.DateTo)
		assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), *got.DateFrom)
		assert.Equal(t, time.Date(2023, 11, 30, 23, 59, 59, 0, time.UTC), *got.DateTo)

		body := decodeBody[rag.QueryResult](t, rec)
		assert.Equal(t, "Sleep improved after CBT [1].", body.Answer)
		assert.Len(t, body.Sources, 1)
		assert.InDelta(t, 0.9, body.Confidence, 1e-9)
	})

	t.Run("explicit out of range is rejected", func(t *testing.T) {
		for _, body := range []string{
			`{"query":"q","top_k":0}`,
			`{"query":"q","top_k":51}`,
			`{"query":"q","rerank_top_n":11}`,
			`{"query":"q","similarity_threshold":1.5}`,
			`{"query":""}`,
		} {
			rec := doJSON(t, e, http.MethodPost, "/api/v1/query", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
			assert.Equal(t, "INVALID_ARGUMENT", decodeBody[errorResponse](t, rec).Code)
		}
	})

	t.Run("bad date", func(t *testing.T) {
		before := engine.calls
		rec := doJSON(t, e, http.MethodPost, "/api/v1/query", `{"query":"q","date_from":"yesterday"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, before, engine.calls)
	})
}

func TestQuery_NotConfigured(t *testing.T) {
	rec := doJSON(t, newTestServer(&fakeNoteService{}, nil), http.MethodPost, "/api/v1/query", `{"query":"q"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
