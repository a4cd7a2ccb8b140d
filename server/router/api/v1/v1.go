package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/clinote/internal/profile"
	"github.com/hrygo/clinote/plugin/ai/rag"
	aierrors "github.com/hrygo/clinote/server/internal/errors"
	"github.com/hrygo/clinote/server/internal/observability"
	notesvc "github.com/hrygo/clinote/server/service/note"
	"github.com/hrygo/clinote/store"
)

// NoteService is the note operations the API exposes.
type NoteService interface {
	GenerateAndValidate(ctx context.Context, req *notesvc.GenerateRequest) (*notesvc.GenerateResult, error)
	EmbedNote(ctx context.Context, uid string, force bool) (*notesvc.EmbedResult, error)
	GetNote(ctx context.Context, uid string) (*store.Note, error)
}

// QueryEngine answers retrieval questions.
type QueryEngine interface {
	Query(ctx context.Context, spec rag.QuerySpec) (*rag.QueryResult, error)
}

type APIV1Service struct {
	Profile     *profile.Profile
	NoteService NoteService
	QueryEngine QueryEngine
	Metrics     *observability.Metrics
}

func NewAPIV1Service(profile *profile.Profile, noteService NoteService, queryEngine QueryEngine, metrics *observability.Metrics) *APIV1Service {
	return &APIV1Service{
		Profile:     profile,
		NoteService: noteService,
		QueryEngine: queryEngine,
		Metrics:     metrics,
	}
}

// Register mounts the API routes on the given Echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	e.GET("/healthz", s.Healthz)
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}

	g := e.Group("/api/v1")
	g.POST("/notes/generate", s.GenerateNote)
	g.GET("/notes/:uid", s.GetNote)
	g.POST("/notes/:uid/embed", s.EmbedNote)
	g.POST("/query", s.Query)
}

// Healthz reports liveness.
// GET /healthz
func (s *APIV1Service) Healthz(c echo.Context) error {
	version := ""
	if s.Profile != nil {
		version = s.Profile.Version
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps err to its status code and a JSON body.
func writeError(c echo.Context, err error) error {
	code := aierrors.GetCodeFromError(err, aierrors.ErrCodeInternal)
	switch {
	case errors.Is(err, rag.ErrInvalidQuery):
		code = aierrors.ErrCodeInvalidArgument
	case errors.Is(err, store.ErrNotFound):
		code = aierrors.ErrCodeNotFound
	}

	status := aierrors.HTTPStatus(code)
	logger := observability.LoggerFromContext(c.Request().Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", observability.LogFieldErrorCode, string(code), "error", err)
	} else {
		logger.Debug("request rejected", observability.LogFieldErrorCode, string(code), "error", err)
	}
	return c.JSON(status, errorResponse{Code: string(code), Message: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return writeError(c, aierrors.InvalidArgument(msg))
}
