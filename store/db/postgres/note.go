package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/clinote/plugin/ai/note"
	"github.com/hrygo/clinote/store"
)

const noteColumns = `n.id, n.uid, n.patient_id, n.session_id, n.professional_id, n.note_type, n.visit_ts,
	n.content, n.structured, n.ai_approved, n.validation_feedback, n.regeneration_count,
	n.created_ts, n.updated_ts`

func (d *DB) CreateNote(ctx context.Context, create *store.Note) (*store.Note, error) {
	structured, err := marshalStructured(create.Structured)
	if err != nil {
		return nil, err
	}

	fields := []string{
		"uid", "patient_id", "session_id", "professional_id", "note_type", "visit_ts",
		"content", "structured", "ai_approved", "validation_feedback", "regeneration_count",
	}
	args := []any{
		create.UID, create.PatientID, create.SessionID, create.ProfessionalID, create.NoteType, create.VisitTs,
		create.Content, string(structured), create.AIApproved, create.ValidationFeedback, create.RegenerationCount,
	}

	stmt := `INSERT INTO note (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id, created_ts, updated_ts`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&create.ID,
		&create.CreatedTs,
		&create.UpdatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create note")
	}
	return create, nil
}

func (d *DB) ListNotes(ctx context.Context, find *store.FindNote) ([]*store.Note, error) {
	where, args := []string{"1 = 1"}, []any{}

	if v := find.ID; v != nil {
		where, args = append(where, "n.id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.UID; v != nil {
		where, args = append(where, "n.uid = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.PatientID; v != nil {
		where, args = append(where, "n.patient_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.SessionID; v != nil {
		where, args = append(where, "n.session_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.ProfessionalID; v != nil {
		where, args = append(where, "n.professional_id = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.AIApproved; v != nil {
		where, args = append(where, "n.ai_approved = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.VisitAfter; v != nil {
		where, args = append(where, "n.visit_ts >= "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := find.VisitBefore; v != nil {
		where, args = append(where, "n.visit_ts <= "+placeholder(len(args)+1)), append(args, *v)
	}

	query := `SELECT ` + noteColumns + ` FROM note n WHERE ` + strings.Join(where, " AND ") + ` ORDER BY n.visit_ts DESC, n.id DESC`
	if find.Limit != nil {
		query = fmt.Sprintf("%s LIMIT %d", query, *find.Limit)
		if find.Offset != nil {
			query = fmt.Sprintf("%s OFFSET %d", query, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list notes")
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

func (d *DB) UpdateNote(ctx context.Context, update *store.UpdateNote) error {
	set, args := []string{}, []any{}
	if v := update.Content; v != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.Structured; v != nil {
		structured, err := marshalStructured(v)
		if err != nil {
			return err
		}
		set, args = append(set, "structured = "+placeholder(len(args)+1)), append(args, string(structured))
	}
	if v := update.AIApproved; v != nil {
		set, args = append(set, "ai_approved = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.ValidationFeedback; v != nil {
		set, args = append(set, "validation_feedback = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.RegenerationCount; v != nil {
		set, args = append(set, "regeneration_count = "+placeholder(len(args)+1)), append(args, *v)
	}
	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, *v)
	} else {
		set = append(set, "updated_ts = EXTRACT(EPOCH FROM NOW())::BIGINT")
	}

	stmt := `UPDATE note SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, update.ID)
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return errors.Wrap(err, "failed to update note")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *DB) DeleteNote(ctx context.Context, delete *store.DeleteNote) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM note WHERE id = `+placeholder(1), delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete note")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner, extra ...any) (*store.Note, error) {
	var n store.Note
	var structured []byte
	dest := []any{
		&n.ID, &n.UID, &n.PatientID, &n.SessionID, &n.ProfessionalID, &n.NoteType, &n.VisitTs,
		&n.Content, &structured, &n.AIApproved, &n.ValidationFeedback, &n.RegenerationCount,
		&n.CreatedTs, &n.UpdatedTs,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, errors.Wrap(err, "failed to scan note")
	}
	s, err := unmarshalStructured(structured)
	if err != nil {
		return nil, err
	}
	n.Structured = s
	return &n, nil
}

func marshalStructured(s *note.StructuredNote) ([]byte, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	bytes, err := json.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal structured note")
	}
	return bytes, nil
}

func unmarshalStructured(bytes []byte) (*note.StructuredNote, error) {
	if len(bytes) == 0 || string(bytes) == "{}" {
		return nil, nil
	}
	var s note.StructuredNote
	if err := json.Unmarshal(bytes, &s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal structured note")
	}
	return &s, nil
}
