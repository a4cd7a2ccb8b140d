package store

import "context"

// NoteEmbedding is the vector embedding of a note for one model.
type NoteEmbedding struct {
	ID         int32
	NoteID     int32
	Embedding  []float32
	Model      string // Model identifier, e.g., "BAAI/bge-m3"
	Dimension  int
	Normalized bool
	CreatedTs  int64
	UpdatedTs  int64
}

// FindNoteEmbedding is the find condition for note embeddings.
type FindNoteEmbedding struct {
	NoteID *int32
	Model  *string
}

// FindNotesWithoutEmbedding selects approved notes lacking an embedding for Model.
type FindNotesWithoutEmbedding struct {
	Model string
	Limit int
}

// NoteWithDistance is a vector search hit.
type NoteWithDistance struct {
	Note *Note
	// Distance is the cosine distance in [0, 2].
	Distance float64
}

// VectorSearchOptions represents the options for vector search.
// Set filters are combined with AND and applied before distance ranking.
type VectorSearchOptions struct {
	Vector []float32 // Query vector
	Model  string    // Only embeddings produced by this model are compared

	PatientID      *string
	SessionID      *string
	ProfessionalID *string
	VisitAfter     *int64 // inclusive, unix seconds
	VisitBefore    *int64 // inclusive, unix seconds

	MaxDistance float64 // hits farther than this are dropped
	Limit       int     // Number of results to return, default 10
}

// UpsertNoteEmbedding inserts or replaces the embedding of a note for its model.
func (s *Store) UpsertNoteEmbedding(ctx context.Context, embedding *NoteEmbedding) (*NoteEmbedding, error) {
	if embedding.Dimension == 0 {
		embedding.Dimension = len(embedding.Embedding)
	}
	return s.driver.UpsertNoteEmbedding(ctx, embedding)
}

// GetNoteEmbedding gets the embedding of a note for a model, or nil if there is none.
func (s *Store) GetNoteEmbedding(ctx context.Context, noteID int32, model string) (*NoteEmbedding, error) {
	list, err := s.driver.ListNoteEmbeddings(ctx, &FindNoteEmbedding{
		NoteID: &noteID,
		Model:  &model,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (s *Store) ListNoteEmbeddings(ctx context.Context, find *FindNoteEmbedding) ([]*NoteEmbedding, error) {
	return s.driver.ListNoteEmbeddings(ctx, find)
}

func (s *Store) DeleteNoteEmbedding(ctx context.Context, noteID int32) error {
	return s.driver.DeleteNoteEmbedding(ctx, noteID)
}

func (s *Store) FindNotesWithoutEmbedding(ctx context.Context, find *FindNotesWithoutEmbedding) ([]*Note, error) {
	return s.driver.FindNotesWithoutEmbedding(ctx, find)
}

// VectorSearch performs vector similarity search.
func (s *Store) VectorSearch(ctx context.Context, opts *VectorSearchOptions) ([]*NoteWithDistance, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	return s.driver.VectorSearch(ctx, opts)
}
