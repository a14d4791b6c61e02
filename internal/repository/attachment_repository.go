package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/replyflow-io/replyflow/internal/database"
	"github.com/replyflow-io/replyflow/internal/models"
)

// AttachmentRepository persists attachment metadata rows for notes.
type AttachmentRepository struct {
	db *sql.DB
}

// NewAttachmentRepository binds the repository to a connection.
func NewAttachmentRepository(db *sql.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts an attachment metadata row linked to its note.
func (r *AttachmentRepository) Create(ctx context.Context, att *models.NoteAttachment) error {
	if att.CreateTime.IsZero() {
		att.CreateTime = time.Now().UTC()
	}
	query := database.ConvertPlaceholders(`
		INSERT INTO note_attachments (note_id, filename, content_type, content_size, storage_path, create_time)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if _, err := r.db.ExecContext(ctx, query,
		att.NoteID, att.Filename, att.ContentType,
		att.ContentSize, att.StoragePath, att.CreateTime,
	); err != nil {
		return fmt.Errorf("insert note attachment: %w", err)
	}
	return nil
}
