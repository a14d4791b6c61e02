package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replyflow-io/replyflow/internal/database"
	"github.com/replyflow-io/replyflow/internal/models"
)

// TodoRepository persists the pending-action rows created after a note lands.
type TodoRepository struct {
	db *sql.DB
}

// NewTodoRepository binds the repository to a connection.
func NewTodoRepository(db *sql.DB) *TodoRepository {
	return &TodoRepository{db: db}
}

// Create inserts a todo row.
func (r *TodoRepository) Create(ctx context.Context, todo *models.Todo) error {
	if todo.CreateTime.IsZero() {
		todo.CreateTime = time.Now().UTC()
	}
	if todo.State == "" {
		todo.State = "pending"
	}
	query := database.ConvertPlaceholders(`
		INSERT INTO todos (user_id, noteable_type, noteable_id, note_id, action, state, create_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if _, err := r.db.ExecContext(ctx, query,
		todo.UserID, todo.NoteableType, todo.NoteableID,
		todo.NoteID, todo.Action, todo.State, todo.CreateTime,
	); err != nil {
		return fmt.Errorf("insert todo: %w", err)
	}
	return nil
}
