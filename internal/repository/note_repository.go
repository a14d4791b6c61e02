package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/replyflow-io/replyflow/internal/database"
	"github.com/replyflow-io/replyflow/internal/models"
)

// ValidationError reports a note rejected by persistence-layer validation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("note validation failed: %s", e.Reason)
}

// NoteRepository persists notes and their accompanying noteable mutations.
type NoteRepository struct {
	db *sql.DB
}

// NewNoteRepository binds the repository to a connection.
func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// CreateWithMutations persists every note and applies the queued noteable
// mutations inside one transaction. Either the full set commits or none of
// it does; a validation failure rolls back any mutation already applied.
func (r *NoteRepository) CreateWithMutations(ctx context.Context, notes []*models.Note, noteable models.Noteable, mutations []models.NoteableMutation) error {
	if len(notes) == 0 {
		return &ValidationError{Reason: "no notes to persist"}
	}
	for _, note := range notes {
		if err := validateNote(note); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin note transaction: %w", err)
	}
	defer tx.Rollback()

	if len(mutations) > 0 {
		if err := applyMutations(ctx, tx, noteable, mutations); err != nil {
			return err
		}
	}
	for _, note := range notes {
		if err := insertNote(ctx, tx, note); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit note transaction: %w", err)
	}
	return nil
}

func validateNote(note *models.Note) error {
	if note == nil {
		return &ValidationError{Reason: "note is nil"}
	}
	if note.AuthorID <= 0 {
		return &ValidationError{Reason: "author required"}
	}
	if note.NoteableID <= 0 || note.NoteableType == "" {
		return &ValidationError{Reason: "noteable reference required"}
	}
	if !note.System && strings.TrimSpace(note.Body) == "" {
		return &ValidationError{Reason: "body required for user notes"}
	}
	return nil
}

func insertNote(ctx context.Context, tx *sql.Tx, note *models.Note) error {
	now := time.Now().UTC()
	if note.CreateTime.IsZero() {
		note.CreateTime = now
	}
	note.ChangeTime = now

	if database.IsPostgreSQL() {
		query := `
			INSERT INTO notes (noteable_type, noteable_id, author_id, body, system, create_time, change_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`
		if err := tx.QueryRowContext(ctx, query,
			note.NoteableType, note.NoteableID, note.AuthorID,
			note.Body, note.System, note.CreateTime, note.ChangeTime,
		).Scan(&note.ID); err != nil {
			return fmt.Errorf("insert note: %w", err)
		}
		return nil
	}

	query := database.ConvertPlaceholders(`
		INSERT INTO notes (noteable_type, noteable_id, author_id, body, system, create_time, change_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	res, err := tx.ExecContext(ctx, query,
		note.NoteableType, note.NoteableID, note.AuthorID,
		note.Body, note.System, note.CreateTime, note.ChangeTime,
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		note.ID = int(id)
	}
	return nil
}

func applyMutations(ctx context.Context, tx *sql.Tx, noteable models.Noteable, mutations []models.NoteableMutation) error {
	table, err := noteableTable(noteable.NoteableKind())
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, m := range mutations {
		var query string
		var args []any
		switch m.Kind {
		case models.MutationClose:
			query = fmt.Sprintf("UPDATE %s SET state = $1, change_time = $2 WHERE id = $3", table)
			args = []any{models.StateClosed, now, noteable.NoteableID()}
		case models.MutationReopen:
			query = fmt.Sprintf("UPDATE %s SET state = $1, change_time = $2 WHERE id = $3", table)
			args = []any{models.StateOpen, now, noteable.NoteableID()}
		case models.MutationSetDue:
			query = fmt.Sprintf("UPDATE %s SET due_date = $1, change_time = $2 WHERE id = $3", table)
			args = []any{m.DueDate, now, noteable.NoteableID()}
		case models.MutationRemoveDue:
			query = fmt.Sprintf("UPDATE %s SET due_date = NULL, change_time = $1 WHERE id = $2", table)
			args = []any{now, noteable.NoteableID()}
		case models.MutationSetTitle:
			query = fmt.Sprintf("UPDATE %s SET title = $1, change_time = $2 WHERE id = $3", table)
			args = []any{m.Title, now, noteable.NoteableID()}
		case models.MutationAddLabels:
			if err := insertLabels(ctx, tx, noteable, m.Labels, now); err != nil {
				return err
			}
			continue
		default:
			return fmt.Errorf("unsupported mutation %q", m.Kind)
		}
		if _, err := tx.ExecContext(ctx, database.ConvertPlaceholders(query), args...); err != nil {
			return fmt.Errorf("apply mutation %s: %w", m.Kind, err)
		}
	}
	return nil
}

func insertLabels(ctx context.Context, tx *sql.Tx, noteable models.Noteable, labels []string, now time.Time) error {
	existing, err := currentLabels(ctx, tx, noteable)
	if err != nil {
		return err
	}
	query := database.ConvertPlaceholders(`
		INSERT INTO noteable_labels (noteable_type, noteable_id, label, create_time)
		VALUES ($1, $2, $3, $4)`)
	for _, label := range labels {
		if _, ok := existing[label]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, query,
			noteable.NoteableKind(), noteable.NoteableID(), label, now,
		); err != nil {
			return fmt.Errorf("insert label %q: %w", label, err)
		}
		existing[label] = struct{}{}
	}
	return nil
}

func currentLabels(ctx context.Context, tx *sql.Tx, noteable models.Noteable) (map[string]struct{}, error) {
	query := database.ConvertPlaceholders(`
		SELECT label FROM noteable_labels
		WHERE noteable_type = $1 AND noteable_id = $2`)
	rows, err := tx.QueryContext(ctx, query, noteable.NoteableKind(), noteable.NoteableID())
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	defer rows.Close()
	labels := make(map[string]struct{})
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels[label] = struct{}{}
	}
	return labels, rows.Err()
}
