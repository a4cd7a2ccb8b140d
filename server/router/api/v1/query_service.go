package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/clinote/plugin/ai/rag"
	aierrors "github.com/hrygo/clinote/server/internal/errors"
)

// QueryRequest is the body of POST /api/v1/query. Omitted ranking fields take
// their defaults; explicit out-of-range values are rejected.
type QueryRequest struct {
	Query               string   `json:"query"`
	PatientID           string   `json:"patient_id"`
	SessionID           string   `json:"session_id"`
	ProfessionalID      string   `json:"professional_id"`
	DateFrom            string   `json:"date_from"` // RFC 3339 or YYYY-MM-DD
	DateTo              string   `json:"date_to"`
	TopK                *int     `json:"top_k"`
	RerankTopN          *int     `json:"rerank_top_n"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	SubjectContext      string   `json:"subject_context"`
}

// ToSpec converts the request into a query spec.
func (r *QueryRequest) ToSpec() (rag.QuerySpec, error) {
	spec := rag.NewQuerySpec(r.Query)
	spec.PatientID = r.PatientID
	spec.SessionID = r.SessionID
	spec.ProfessionalID = r.ProfessionalID
	spec.SubjectContext = r.SubjectContext
	if r.TopK != nil {
		spec.TopK = *r.TopK
	}
	if r.RerankTopN != nil {
		spec.RerankTopN = *r.RerankTopN
	}
	if r.SimilarityThreshold != nil {
		spec.SimilarityThreshold = *r.SimilarityThreshold
	}

	var err error
	if spec.DateFrom, err = parseDate(r.DateFrom, false); err != nil {
		return spec, err
	}
	if spec.DateTo, err = parseDate(r.DateTo, true); err != nil {
		return spec, err
	}
	return spec, nil
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return &t, nil
}

// Query answers a question over approved notes.
// POST /api/v1/query
func (s *APIV1Service) Query(c echo.Context) error {
	if s.QueryEngine == nil {
		return writeError(c, aierrors.ServiceUnavailable("query engine is not configured"))
	}

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	spec, err := req.ToSpec()
	if err != nil {
		return badRequest(c, "dates must be RFC 3339 or YYYY-MM-DD")
	}

	result, err := s.QueryEngine.Query(c.Request().Context(), spec)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
