package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/replyflow-io/replyflow/internal/database"
	"github.com/replyflow-io/replyflow/internal/models"
)

// NoteableRepository loads the polymorphic note targets.
type NoteableRepository struct {
	db *sqlx.DB
}

// NewNoteableRepository wraps the shared connection for noteable lookups.
func NewNoteableRepository(db *sql.DB) *NoteableRepository {
	return &NoteableRepository{db: sqlx.NewDb(db, database.GetDBDriver())}
}

// Find loads the noteable for a kind/id pair. Returns ErrNotFound when the
// target no longer exists.
func (r *NoteableRepository) Find(ctx context.Context, kind models.NoteableKind, id int) (models.Noteable, error) {
	switch kind {
	case models.NoteableKindIssue:
		return r.findIssue(ctx, id)
	case models.NoteableKindMergeRequest:
		return r.findMergeRequest(ctx, id)
	default:
		return nil, fmt.Errorf("unsupported noteable kind %q", kind)
	}
}

func (r *NoteableRepository) findIssue(ctx context.Context, id int) (*models.Issue, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, project_id, title, state, due_date, create_time, change_time
		FROM issues
		WHERE id = $1`)
	var issue models.Issue
	if err := r.db.GetContext(ctx, &issue, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find issue: %w", err)
	}
	return &issue, nil
}

func (r *NoteableRepository) findMergeRequest(ctx context.Context, id int) (*models.MergeRequest, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, project_id, title, state, due_date, source_branch, target_branch, create_time, change_time
		FROM merge_requests
		WHERE id = $1`)
	var mr models.MergeRequest
	if err := r.db.GetContext(ctx, &mr, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find merge request: %w", err)
	}
	return &mr, nil
}

// noteableTable maps a kind to its backing table.
func noteableTable(kind models.NoteableKind) (string, error) {
	switch kind {
	case models.NoteableKindIssue:
		return "issues", nil
	case models.NoteableKindMergeRequest:
		return "merge_requests", nil
	default:
		return "", fmt.Errorf("unsupported noteable kind %q", kind)
	}
}
