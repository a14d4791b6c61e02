package models

import "time"

// NoteAttachment is the metadata row for an attachment persisted from an
// inbound reply and linked to the created note. The binary lives in the
// configured storage backend at StoragePath.
type NoteAttachment struct {
	ID          int       `db:"id"`
	NoteID      int       `db:"note_id"`
	Filename    string    `db:"filename"`
	ContentType string    `db:"content_type"`
	ContentSize int64     `db:"content_size"`
	StoragePath string    `db:"storage_path"`
	CreateTime  time.Time `db:"create_time"`
}
