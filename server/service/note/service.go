// Package note turns raw session text into a persisted, approved SOAP note.
//
// A request is masked for PII, enriched with extracted entities, run through the
// generate/validate retry loop and, once approved, saved and embedded for retrieval.
// Nothing is persisted when the loop exhausts its budget.
package note

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	ainote "github.com/hrygo/clinote/plugin/ai/note"
	"github.com/hrygo/clinote/plugin/ai/preprocess"
	aierrors "github.com/hrygo/clinote/server/internal/errors"
	"github.com/hrygo/clinote/server/internal/observability"
	"github.com/hrygo/clinote/store"
)

// Store is the interface for store operations needed by the note service.
type Store interface {
	CreateNote(ctx context.Context, create *store.Note) (*store.Note, error)
	GetNote(ctx context.Context, find *store.FindNote) (*store.Note, error)
	UpsertNoteEmbedding(ctx context.Context, embedding *store.NoteEmbedding) (*store.NoteEmbedding, error)
	GetNoteEmbedding(ctx context.Context, noteID int32, model string) (*store.NoteEmbedding, error)
}

// NoteEmbedder embeds the canonical text of a structured note.
type NoteEmbedder interface {
	EmbedNote(ctx context.Context, n *ainote.StructuredNote) ([]float32, error)
	Model() string
	Normalized() bool
}

// EmbeddingRecorder counts embedding outcomes.
type EmbeddingRecorder interface {
	RecordEmbedding(success bool, n int)
}

// GenerateRequest is the input of GenerateAndValidate.
type GenerateRequest struct {
	Text           string         `json:"text"`
	PatientID      string         `json:"patient_id"`
	SessionID      string         `json:"session_id"`
	ProfessionalID string         `json:"professional_id"`
	NoteType       string         `json:"note_type"`
	VisitTs        int64          `json:"visit_ts"`
	Context        map[string]any `json:"context"`
}

// AttemptSummary is the client-facing view of one retry attempt.
type AttemptSummary struct {
	Index       int      `json:"attempt_index"`
	Verdict     string   `json:"verdict"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// GenerateResult is the outcome of GenerateAndValidate. Exhaustion is reported
// here with Approved=false, not as an error.
type GenerateResult struct {
	Note              *store.Note            `json:"-"`
	NoteUID           string                 `json:"note_uid,omitempty"`
	Structured        *ainote.StructuredNote `json:"structured_note,omitempty"`
	Approved          bool                   `json:"approved"`
	RegenerationCount int                    `json:"regeneration_count"`
	Feedback          string                 `json:"validation_feedback"`
	Attempts          []AttemptSummary       `json:"attempts"`
	PIIMasked         bool                   `json:"pii_masked"`
	PIICount          int                    `json:"pii_count"`
	Embedded          bool                   `json:"embedded"`
}

// Service orchestrates note generation, persistence and embedding.
type Service struct {
	store      Store
	controller *ainote.Controller
	embedder   NoteEmbedder
	masker     preprocess.PIIMasker
	extractor  preprocess.EntityExtractor
	recorder   EmbeddingRecorder
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMasker sets the PII masker. The default passes text through unchanged.
func WithMasker(m preprocess.PIIMasker) Option {
	return func(s *Service) { s.masker = m }
}

// WithExtractor sets the entity extractor. The default extracts nothing.
func WithExtractor(e preprocess.EntityExtractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithEmbeddingRecorder attaches an embedding outcome recorder.
func WithEmbeddingRecorder(r EmbeddingRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// NewService creates a note service. A nil controller disables generation. A nil
// embedder saves approved notes without a vector and leaves them to the backfill runner.
func NewService(st Store, controller *ainote.Controller, embedder NoteEmbedder, opts ...Option) *Service {
	s := &Service{
		store:      st,
		controller: controller,
		embedder:   embedder,
		masker:     preprocess.PassthroughMasker{},
		extractor:  preprocess.NoopExtractor{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAndValidate masks, structures and validates text, then saves and embeds
// the note when it is approved.
func (s *Service) GenerateAndValidate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, aierrors.InvalidArgument("text is required")
	}
	if s.controller == nil {
		return nil, aierrors.ServiceUnavailable("note generation is not configured")
	}
	logger := observability.LoggerFromContext(ctx)

	masked, err := s.masker.MaskPII(ctx, req.Text)
	if err != nil {
		return nil, aierrors.Wrap(err, aierrors.ErrCodeServiceUnavailable, "pii masking failed")
	}

	base := ainote.NewContext(req.Context)
	entities, err := s.extractor.ExtractEntities(ctx, masked.Text)
	if err != nil {
		logger.Warn("entity extraction failed, generating without entities", "error", err)
	} else if len(entities) > 0 {
		base = base.With(ainote.ContextKeyEntities, entities)
	}

	run := s.controller.Run(ctx, masked.Text, base)

	result := &GenerateResult{
		Approved:          run.Approved,
		RegenerationCount: run.RegenerationCount,
		Feedback:          run.Feedback,
		Attempts:          summarize(run.Attempts),
		PIIMasked:         masked.HadPII,
		PIICount:          masked.Count,
	}
	if !run.Approved {
		logger.Info("note not approved", "attempts", len(run.Attempts), "feedback", run.Feedback)
		return result, nil
	}

	visitTs := req.VisitTs
	if visitTs == 0 {
		visitTs = s.now().Unix()
	}
	created, err := s.store.CreateNote(ctx, &store.Note{
		UID:                shortuuid.New(),
		PatientID:          req.PatientID,
		SessionID:          req.SessionID,
		ProfessionalID:     req.ProfessionalID,
		NoteType:           req.NoteType,
		VisitTs:            visitTs,
		Content:            run.Note.CanonicalText(),
		Structured:         run.Note,
		AIApproved:         true,
		ValidationFeedback: run.Feedback,
		RegenerationCount:  run.RegenerationCount,
	})
	if err != nil {
		return nil, aierrors.Wrap(err, aierrors.ErrCodeInternal, "failed to save note")
	}
	result.Note = created
	result.NoteUID = created.UID
	result.Structured = created.Structured

	// Embedding failure never undoes approval; the runner retries later.
	if err := s.embed(ctx, created); err != nil {
		logger.Warn("failed to embed approved note", observability.LogFieldNoteUID, created.UID, "error", err)
	} else if s.embedder != nil {
		result.Embedded = true
	}

	logger.Info("note approved and saved",
		observability.LogFieldNoteUID, created.UID,
		"regenerations", run.RegenerationCount,
		"embedded", result.Embedded,
	)
	return result, nil
}

// EmbedResult reports what EmbedNote did.
type EmbedResult struct {
	NoteUID   string `json:"note_uid"`
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
	Skipped   bool   `json:"skipped"`
}

// EmbedNote (re)computes the vector of an approved note. Without force an existing
// vector for the configured model is kept.
func (s *Service) EmbedNote(ctx context.Context, uid string, force bool) (*EmbedResult, error) {
	if s.embedder == nil {
		return nil, aierrors.ServiceUnavailable("embedding is not configured")
	}
	n, err := s.GetNote(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !n.AIApproved {
		return nil, aierrors.InvalidArgument("only approved notes can be embedded")
	}

	result := &EmbedResult{NoteUID: uid, Model: s.embedder.Model()}
	if !force {
		existing, err := s.store.GetNoteEmbedding(ctx, n.ID, s.embedder.Model())
		if err != nil {
			return nil, aierrors.Wrap(err, aierrors.ErrCodeInternal, "failed to load embedding")
		}
		if existing != nil {
			result.Dimension = existing.Dimension
			result.Skipped = true
			return result, nil
		}
	}

	if err := s.embed(ctx, n); err != nil {
		return nil, aierrors.EmbeddingFailed("failed to embed note", err)
	}
	stored, err := s.store.GetNoteEmbedding(ctx, n.ID, s.embedder.Model())
	if err != nil {
		return nil, aierrors.Wrap(err, aierrors.ErrCodeInternal, "failed to load embedding")
	}
	if stored != nil {
		result.Dimension = stored.Dimension
	}
	return result, nil
}

// GetNote returns a note by UID.
func (s *Service) GetNote(ctx context.Context, uid string) (*store.Note, error) {
	if uid == "" {
		return nil, aierrors.InvalidArgument("note uid is required")
	}
	n, err := s.store.GetNote(ctx, &store.FindNote{UID: &uid})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, aierrors.NotFound(fmt.Sprintf("note %s not found", uid))
		}
		return nil, aierrors.Wrap(err, aierrors.ErrCodeInternal, "failed to get note")
	}
	return n, nil
}

func (s *Service) embed(ctx context.Context, n *store.Note) error {
	if s.embedder == nil {
		return nil
	}
	if n.Structured == nil {
		return errors.New("note has no structured content")
	}
	vector, err := s.embedder.EmbedNote(ctx, n.Structured)
	if err == nil {
		_, err = s.store.UpsertNoteEmbedding(ctx, &store.NoteEmbedding{
			NoteID:     n.ID,
			Embedding:  vector,
			Model:      s.embedder.Model(),
			Normalized: s.embedder.Normalized(),
		})
	}
	s.record(err == nil)
	return err
}

func (s *Service) record(success bool) {
	if s.recorder != nil {
		s.recorder.RecordEmbedding(success, 1)
	}
}

func summarize(attempts []ainote.Attempt) []AttemptSummary {
	out := make([]AttemptSummary, len(attempts))
	for i, a := range attempts {
		out[i] = AttemptSummary{
			Index:       a.Index,
			Verdict:     string(a.Verdict),
			Feedback:    a.Feedback,
			Suggestions: a.Suggestions,
		}
	}
	return out
}

