package models

import "time"

// Note is a comment on a noteable, created from an inbound email reply.
// System notes record state changes applied alongside a reply.
type Note struct {
	ID           int          `db:"id"`
	NoteableType NoteableKind `db:"noteable_type"`
	NoteableID   int          `db:"noteable_id"`
	AuthorID     int          `db:"author_id"`
	Body         string       `db:"body"`
	System       bool         `db:"system"`
	CreateTime   time.Time    `db:"create_time"`
	ChangeTime   time.Time    `db:"change_time"`
}

// Todo is a pending action item surfaced to a user after a note lands.
type Todo struct {
	ID           int          `db:"id"`
	UserID       int          `db:"user_id"`
	NoteableType NoteableKind `db:"noteable_type"`
	NoteableID   int          `db:"noteable_id"`
	NoteID       int          `db:"note_id"`
	Action       string       `db:"action"`
	State        string       `db:"state"`
	CreateTime   time.Time    `db:"create_time"`
}
