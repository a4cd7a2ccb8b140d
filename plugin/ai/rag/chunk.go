package rag

import "time"

// RetrievedChunk is a note returned for a query, with its source attribution.
type RetrievedChunk struct {
	NoteID     int32   `json:"-"`
	NoteUID    string  `json:"note_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity_score"`
	// RerankScore is set once a reranker has scored the chunk.
	RerankScore *float64  `json:"rerank_score,omitempty"`
	NoteType    string    `json:"note_type"`
	PatientID   string    `json:"patient_id"`
	SessionID   string    `json:"session_id"`
	VisitDate   time.Time `json:"visit_date"`
}

// Score returns the rerank score when present, else the similarity.
func (c RetrievedChunk) Score() float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.Similarity
}
