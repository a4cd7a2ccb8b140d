package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

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
		create.Content, structured, create.AIApproved, create.ValidationFeedback, create.RegenerationCount,
	}
	if create.CreatedTs != 0 {
		fields, args = append(fields, "created_ts"), append(args, create.CreatedTs)
	}
	if create.UpdatedTs != 0 {
		fields, args = append(fields, "updated_ts"), append(args, create.UpdatedTs)
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

// noteFilters builds the shared metadata predicates for note queries.
func noteFilters(id *int32, uid, patientID, sessionID, professionalID *string, approved *bool, visitAfter, visitBefore *int64) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if id != nil {
		where, args = append(where, "n.id = ?"), append(args, *id)
	}
	if uid != nil {
		where, args = append(where, "n.uid = ?"), append(args, *uid)
	}
	if patientID != nil {
		where, args = append(where, "n.patient_id = ?"), append(args, *patientID)
	}
	if sessionID != nil {
		where, args = append(where, "n.session_id = ?"), append(args, *sessionID)
	}
	if professionalID != nil {
		where, args = append(where, "n.professional_id = ?"), append(args, *professionalID)
	}
	if approved != nil {
		where, args = append(where, "n.ai_approved = ?"), append(args, *approved)
	}
	if visitAfter != nil {
		where, args = append(where, "n.visit_ts >= ?"), append(args, *visitAfter)
	}
	if visitBefore != nil {
		where, args = append(where, "n.visit_ts <= ?"), append(args, *visitBefore)
	}
	return where, args
}

func (d *DB) ListNotes(ctx context.Context, find *store.FindNote) ([]*store.Note, error) {
	where, args := noteFilters(find.ID, find.UID, find.PatientID, find.SessionID, find.ProfessionalID, find.AIApproved, find.VisitAfter, find.VisitBefore)

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
		set, args = append(set, "content = ?"), append(args, *v)
	}
	if v := update.Structured; v != nil {
		structured, err := marshalStructured(v)
		if err != nil {
			return err
		}
		set, args = append(set, "structured = ?"), append(args, structured)
	}
	if v := update.AIApproved; v != nil {
		set, args = append(set, "ai_approved = ?"), append(args, *v)
	}
	if v := update.ValidationFeedback; v != nil {
		set, args = append(set, "validation_feedback = ?"), append(args, *v)
	}
	if v := update.RegenerationCount; v != nil {
		set, args = append(set, "regeneration_count = ?"), append(args, *v)
	}
	if v := update.UpdatedTs; v != nil {
		set, args = append(set, "updated_ts = ?"), append(args, *v)
	} else {
		set = append(set, "updated_ts = strftime('%s', 'now')")
	}

	stmt := `UPDATE note SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
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
	result, err := d.db.ExecContext(ctx, `DELETE FROM note WHERE id = ?`, delete.ID)
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
	var structured string
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
