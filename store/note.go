package store

import (
	"context"
	"errors"

	"github.com/hrygo/clinote/plugin/ai/note"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultNoteType is the note type assigned when none is given.
const DefaultNoteType = "soap_note"

// Note is a persisted clinical note.
type Note struct {
	ID             int32
	UID            string
	PatientID      string
	SessionID      string
	ProfessionalID string
	NoteType       string
	// VisitTs is the visit time in unix seconds.
	VisitTs int64
	// Content is the canonical section text.
	Content            string
	Structured         *note.StructuredNote
	AIApproved         bool
	ValidationFeedback string
	RegenerationCount  int
	CreatedTs          int64
	UpdatedTs          int64
}

type FindNote struct {
	ID             *int32
	UID            *string
	PatientID      *string
	SessionID      *string
	ProfessionalID *string
	AIApproved     *bool
	VisitAfter     *int64
	VisitBefore    *int64

	// Pagination
	Limit  *int
	Offset *int
}

type UpdateNote struct {
	ID                 int32
	Content            *string
	Structured         *note.StructuredNote
	AIApproved         *bool
	ValidationFeedback *string
	RegenerationCount  *int
	UpdatedTs          *int64
}

type DeleteNote struct {
	ID int32
}

func (s *Store) CreateNote(ctx context.Context, create *Note) (*Note, error) {
	if create.NoteType == "" {
		create.NoteType = DefaultNoteType
	}
	return s.driver.CreateNote(ctx, create)
}

func (s *Store) ListNotes(ctx context.Context, find *FindNote) ([]*Note, error) {
	return s.driver.ListNotes(ctx, find)
}

// GetNote returns the first note matching find, or ErrNotFound.
func (s *Store) GetNote(ctx context.Context, find *FindNote) (*Note, error) {
	limit := 1
	find.Limit = &limit
	list, err := s.driver.ListNotes(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

func (s *Store) UpdateNote(ctx context.Context, update *UpdateNote) error {
	return s.driver.UpdateNote(ctx, update)
}

func (s *Store) DeleteNote(ctx context.Context, delete *DeleteNote) error {
	return s.driver.DeleteNote(ctx, delete)
}
