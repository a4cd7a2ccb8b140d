package postgres

import (
	"context"
	"strings"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/clinote/store"
)

// UpsertNoteEmbedding inserts or updates a note embedding.
func (d *DB) UpsertNoteEmbedding(ctx context.Context, embedding *store.NoteEmbedding) (*store.NoteEmbedding, error) {
	stmt := `
		INSERT INTO note_embedding (note_id, embedding, model, dimension, normalized)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (note_id, model)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dimension = EXCLUDED.dimension,
			normalized = EXCLUDED.normalized,
			updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT
		RETURNING id, created_ts, updated_ts
	`

	err := d.db.QueryRowContext(ctx, stmt,
		embedding.NoteID,
		pgvector.NewVector(embedding.Embedding),
		embedding.Model,
		embedding.Dimension,
		embedding.Normalized,
	).Scan(&embedding.ID, &embedding.CreatedTs, &embedding.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert note embedding")
	}

	return embedding, nil
}

// ListNoteEmbeddings lists note embeddings.
func (d *DB) ListNoteEmbeddings(ctx context.Context, find *store.FindNoteEmbedding) ([]*store.NoteEmbedding, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.NoteID != nil {
		where, args = append(where, "note_id = "+placeholder(len(args)+1)), append(args, *find.NoteID)
	}
	if find.Model != nil {
		where, args = append(where, "model = "+placeholder(len(args)+1)), append(args, *find.Model)
	}

	query := `
		SELECT id, note_id, embedding, model, dimension, normalized, created_ts, updated_ts
		FROM note_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list note embeddings")
	}
	defer rows.Close()

	list := []*store.NoteEmbedding{}
	for rows.Next() {
		var embedding store.NoteEmbedding
		var vector pgvector.Vector
		if err := rows.Scan(
			&embedding.ID,
			&embedding.NoteID,
			&vector,
			&embedding.Model,
			&embedding.Dimension,
			&embedding.Normalized,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan note embedding")
		}
		embedding.Embedding = vector.Slice()
		list = append(list, &embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteNoteEmbedding deletes every embedding of a note.
func (d *DB) DeleteNoteEmbedding(ctx context.Context, noteID int32) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM note_embedding WHERE note_id = `+placeholder(1), noteID)
	if err != nil {
		return errors.Wrap(err, "failed to delete note embedding")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// VectorSearch filters on metadata first, then ranks by pgvector cosine distance.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.NoteWithDistance, error) {
	vector := pgvector.NewVector(opts.Vector)
	args := []any{vector, opts.Model}
	where := []string{"n.ai_approved", "e.model = " + placeholder(2)}

	if v := opts.PatientID; v != nil {
		where, args = append(where, "n.patient_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := opts.SessionID; v != nil {
		where, args = append(where, "n.session_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := opts.ProfessionalID; v != nil {
		where, args = append(where, "n.professional_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := opts.VisitAfter; v != nil {
		where, args = append(where, "n.visit_ts >= "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := opts.VisitBefore; v != nil {
		where, args = append(where, "n.visit_ts <= "+placeholder(len(args)+1)), append(args, *v)
	}
	where, args = append(where, "(e.embedding <=> "+placeholder(1)+") <= "+placeholder(len(args)+1)), append(args, opts.MaxDistance)

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	args = append(args, limit)

	query := `
		SELECT ` + noteColumns + `, e.embedding <=> ` + placeholder(1) + ` AS distance
		FROM note n
		INNER JOIN note_embedding e ON n.id = e.note_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY distance ASC, n.id ASC
		LIMIT ` + placeholder(len(args))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.NoteWithDistance{}
	for rows.Next() {
		var distance float64
		n, err := scanNote(rows, &distance)
		if err != nil {
			return nil, err
		}
		results = append(results, &store.NoteWithDistance{Note: n, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// FindNotesWithoutEmbedding finds approved notes that have no embedding for the model.
func (d *DB) FindNotesWithoutEmbedding(ctx context.Context, find *store.FindNotesWithoutEmbedding) ([]*store.Note, error) {
	limit := find.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + noteColumns + `
		FROM note n
		LEFT JOIN note_embedding e ON n.id = e.note_id AND e.model = ` + placeholder(1) + `
		WHERE e.id IS NULL
			AND n.ai_approved
			AND LENGTH(n.content) > 0
		ORDER BY n.created_ts DESC
		LIMIT ` + placeholder(2)

	rows, err := d.db.QueryContext(ctx, query, find.Model, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find notes without embedding")
	}
	defer rows.Close()

	list := []*store.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
