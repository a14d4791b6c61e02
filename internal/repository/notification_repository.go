package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/replyflow-io/replyflow/internal/database"
	"github.com/replyflow-io/replyflow/internal/models"
)

// ErrNotFound reports a missing row without tying callers to sql.ErrNoRows.
var ErrNotFound = errors.New("record not found")

// SentNotificationRepository reads and writes the reply-key send records.
type SentNotificationRepository struct {
	db *sqlx.DB
}

// NewSentNotificationRepository wraps the shared connection for key lookups.
func NewSentNotificationRepository(db *sql.DB) *SentNotificationRepository {
	return &SentNotificationRepository{db: sqlx.NewDb(db, database.GetDBDriver())}
}

// FindByKey resolves a reply key to its send record.
func (r *SentNotificationRepository) FindByKey(ctx context.Context, key string) (*models.SentNotification, error) {
	query := database.ConvertPlaceholders(`
		SELECT id, reply_key, noteable_type, noteable_id, recipient_id, create_time
		FROM sent_notifications
		WHERE reply_key = $1`)
	var record models.SentNotification
	if err := r.db.GetContext(ctx, &record, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find sent notification: %w", err)
	}
	return &record, nil
}

// Create persists a send record minted for an outbound notification.
func (r *SentNotificationRepository) Create(ctx context.Context, record *models.SentNotification) error {
	if record.CreateTime.IsZero() {
		record.CreateTime = time.Now().UTC()
	}
	query := database.ConvertPlaceholders(`
		INSERT INTO sent_notifications (reply_key, noteable_type, noteable_id, recipient_id, create_time)
		VALUES ($1, $2, $3, $4, $5)`)
	if _, err := r.db.ExecContext(ctx, query,
		record.ReplyKey, record.NoteableType, record.NoteableID,
		record.RecipientID, record.CreateTime,
	); err != nil {
		return fmt.Errorf("insert sent notification: %w", err)
	}
	return nil
}
