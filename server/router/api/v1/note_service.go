package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	ainote "github.com/hrygo/clinote/plugin/ai/note"
	notesvc "github.com/hrygo/clinote/server/service/note"
	"github.com/hrygo/clinote/store"
)

// NoteResponse is the JSON view of a stored note.
type NoteResponse struct {
	UID                string                 `json:"uid"`
	PatientID          string                 `json:"patient_id"`
	SessionID          string                 `json:"session_id"`
	ProfessionalID     string                 `json:"professional_id"`
	NoteType           string                 `json:"note_type"`
	VisitDate          time.Time              `json:"visit_date"`
	Content            string                 `json:"content"`
	StructuredNote     *ainote.StructuredNote `json:"structured_note,omitempty"`
	AIApproved         bool                   `json:"ai_approved"`
	ValidationFeedback string                 `json:"validation_feedback"`
	RegenerationCount  int                    `json:"regeneration_count"`
	CreatedTs          int64                  `json:"created_ts"`
	UpdatedTs          int64                  `json:"updated_ts"`
}

func convertNote(n *store.Note) *NoteResponse {
	return &NoteResponse{
		UID:                n.UID,
		PatientID:          n.PatientID,
		SessionID:          n.SessionID,
		ProfessionalID:     n.ProfessionalID,
		NoteType:           n.NoteType,
		VisitDate:          time.Unix(n.VisitTs, 0).UTC(),
		Content:            n.Content,
		StructuredNote:     n.Structured,
		AIApproved:         n.AIApproved,
		ValidationFeedback: n.ValidationFeedback,
		RegenerationCount:  n.RegenerationCount,
		CreatedTs:          n.CreatedTs,
		UpdatedTs:          n.UpdatedTs,
	}
}

// GenerateNote runs generate-and-validate. An exhausted run is a 200 with approved=false.
// POST /api/v1/notes/generate
func (s *APIV1Service) GenerateNote(c echo.Context) error {
	var req notesvc.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	result, err := s.NoteService.GenerateAndValidate(c.Request().Context(), &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetNote returns a stored note.
// GET /api/v1/notes/:uid
func (s *APIV1Service) GetNote(c echo.Context) error {
	n, err := s.NoteService.GetNote(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, convertNote(n))
}

// EmbedNote (re)computes a note vector; ?force=true replaces an existing one.
// POST /api/v1/notes/:uid/embed
func (s *APIV1Service) EmbedNote(c echo.Context) error {
	force := false
	if raw := c.QueryParam("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return badRequest(c, "force must be a boolean")
		}
		force = v
	}

	result, err := s.NoteService.EmbedNote(c.Request().Context(), c.Param("uid"), force)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
