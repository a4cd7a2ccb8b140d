package sqlite

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/clinote/plugin/ai/vector"
	"github.com/hrygo/clinote/store"
)

// UpsertNoteEmbedding inserts or updates a note embedding.
func (d *DB) UpsertNoteEmbedding(ctx context.Context, embedding *store.NoteEmbedding) (*store.NoteEmbedding, error) {
	stmt := `
		INSERT INTO note_embedding (note_id, embedding, model, dimension, normalized)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (note_id, model)
		DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			normalized = excluded.normalized,
			updated_ts = strftime('%s', 'now')
		RETURNING id, created_ts, updated_ts
	`

	err := d.db.QueryRowContext(ctx, stmt,
		embedding.NoteID,
		encodeVector(embedding.Embedding),
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
		where, args = append(where, "note_id = ?"), append(args, *find.NoteID)
	}
	if find.Model != nil {
		where, args = append(where, "model = ?"), append(args, *find.Model)
	}

	query := `
		SELECT id, note_id, embedding, model, dimension, normalized, created_ts, updated_ts
		FROM note_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list note embeddings")
	}
	defer rows.Close()

	list := []*store.NoteEmbedding{}
	for rows.Next() {
		var embedding store.NoteEmbedding
		var blob []byte
		if err := rows.Scan(
			&embedding.ID,
			&embedding.NoteID,
			&blob,
			&embedding.Model,
			&embedding.Dimension,
			&embedding.Normalized,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan note embedding")
		}
		if embedding.Embedding, err = decodeVector(blob); err != nil {
			return nil, err
		}
		list = append(list, &embedding)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteNoteEmbedding deletes every embedding of a note.
func (d *DB) DeleteNoteEmbedding(ctx context.Context, noteID int32) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM note_embedding WHERE note_id = ?`, noteID)
	if err != nil {
		return errors.Wrap(err, "failed to delete note embedding")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// VectorSearch applies metadata filters in SQL, then computes cosine distance for the
// remaining candidates.
func (d *DB) VectorSearch(ctx context.Context, opts *store.VectorSearchOptions) ([]*store.NoteWithDistance, error) {
	approved := true
	where, args := noteFilters(nil, nil, opts.PatientID, opts.SessionID, opts.ProfessionalID, &approved, opts.VisitAfter, opts.VisitBefore)
	where, args = append(where, "e.model = ?"), append(args, opts.Model)

	query := `
		SELECT ` + noteColumns + `, e.embedding
		FROM note n
		INNER JOIN note_embedding e ON n.id = e.note_id
		WHERE ` + strings.Join(where, " AND ")

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to vector search")
	}
	defer rows.Close()

	results := []*store.NoteWithDistance{}
	for rows.Next() {
		var blob []byte
		n, err := scanNote(rows, &blob)
		if err != nil {
			return nil, err
		}
		v, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		if len(v) != len(opts.Vector) {
			continue
		}
		distance := vector.CosineDistance(opts.Vector, v)
		if distance > opts.MaxDistance {
			continue
		}
		results = append(results, &store.NoteWithDistance{Note: n, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Note.ID < results[j].Note.ID
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(results) > limit {
		results = results[:limit]
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
		LEFT JOIN note_embedding e ON n.id = e.note_id AND e.model = ?
		WHERE e.id IS NULL
			AND n.ai_approved = 1
			AND LENGTH(n.content) > 0
		ORDER BY n.created_ts DESC, n.id DESC
		LIMIT ?`

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
