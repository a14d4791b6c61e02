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

// UserRepository resolves recipient identities and their project access.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository wraps the shared connection for identity lookups.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: sqlx.NewDb(db, database.GetDBDriver())}
}

// GetByID loads a user row.
func (r *UserRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, login, email, full_name, active, create_time
		FROM users
		WHERE id = $1`)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

// AccessLevel returns the user's access level in a project, zero when the
// user is not a member.
func (r *UserRepository) AccessLevel(ctx context.Context, userID, projectID int) (int, error) {
	query := database.ConvertPlaceholders(`
		SELECT access_level
		FROM project_members
		WHERE user_id = $1 AND project_id = $2`)
	var level int
	if err := r.db.GetContext(ctx, &level, query, userID, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("find project member: %w", err)
	}
	return level, nil
}
