package models

import "time"

// User is the acting identity resolved from a sent notification. The
// pipeline never re-authenticates the sender address beyond key validity.
type User struct {
	ID         int       `db:"id"`
	Login      string    `db:"login"`
	Email      string    `db:"email"`
	FullName   string    `db:"full_name"`
	Active     bool      `db:"active"`
	CreateTime time.Time `db:"create_time"`
}

// ProjectMember grants a user an access level inside a project. Access
// levels gate which reply commands may mutate a noteable.
type ProjectMember struct {
	ID          int `db:"id"`
	ProjectID   int `db:"project_id"`
	UserID      int `db:"user_id"`
	AccessLevel int `db:"access_level"`
}

// Access levels, lowest to highest.
const (
	AccessGuest      = 10
	AccessReporter   = 20
	AccessDeveloper  = 30
	AccessMaintainer = 40
)
