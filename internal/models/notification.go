package models

import "time"

// SentNotification records one outbound notification email. The reply key
// stamped on that email resolves an inbound reply back to the noteable and
// the recipient who may act on it. One row per key; many rows per noteable.
type SentNotification struct {
	ID           int          `db:"id"`
	ReplyKey     string       `db:"reply_key"`
	NoteableType NoteableKind `db:"noteable_type"`
	NoteableID   int          `db:"noteable_id"`
	RecipientID  int          `db:"recipient_id"`
	CreateTime   time.Time    `db:"create_time"`
}
