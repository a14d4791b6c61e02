package models

import (
	"strings"
	"time"
)

// NoteableKind discriminates the work item variants that accept notes.
type NoteableKind string

const (
	NoteableKindIssue        NoteableKind = "issue"
	NoteableKindMergeRequest NoteableKind = "merge_request"
)

// Noteable is a trackable work item that can receive notes and have its
// state changed by reply commands.
type Noteable interface {
	NoteableKind() NoteableKind
	NoteableID() int
	NoteableProjectID() int
	Closed() bool
	Due() *time.Time
	Title() string
}

// Issue is a tracked issue inside a project.
type Issue struct {
	ID         int        `db:"id"`
	ProjectID  int        `db:"project_id"`
	IssueTitle string     `db:"title"`
	State      string     `db:"state"`
	DueDate    *time.Time `db:"due_date"`
	CreateTime time.Time  `db:"create_time"`
	ChangeTime time.Time  `db:"change_time"`
}

func (i *Issue) NoteableKind() NoteableKind { return NoteableKindIssue }
func (i *Issue) NoteableID() int            { return i.ID }
func (i *Issue) NoteableProjectID() int     { return i.ProjectID }
func (i *Issue) Closed() bool               { return i.State == StateClosed }
func (i *Issue) Due() *time.Time            { return i.DueDate }
func (i *Issue) Title() string              { return i.IssueTitle }

// MergeRequest is a proposed change inside a project.
type MergeRequest struct {
	ID           int        `db:"id"`
	ProjectID    int        `db:"project_id"`
	RequestTitle string     `db:"title"`
	State        string     `db:"state"`
	DueDate      *time.Time `db:"due_date"`
	SourceBranch string     `db:"source_branch"`
	TargetBranch string     `db:"target_branch"`
	CreateTime   time.Time  `db:"create_time"`
	ChangeTime   time.Time  `db:"change_time"`
}

func (m *MergeRequest) NoteableKind() NoteableKind { return NoteableKindMergeRequest }
func (m *MergeRequest) NoteableID() int            { return m.ID }
func (m *MergeRequest) NoteableProjectID() int     { return m.ProjectID }
func (m *MergeRequest) Closed() bool               { return m.State == StateClosed }
func (m *MergeRequest) Due() *time.Time            { return m.DueDate }
func (m *MergeRequest) Title() string              { return m.RequestTitle }

// Noteable states persisted in the state column.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// MutationKind names a single attribute change queued by the command
// processor.
type MutationKind string

const (
	MutationClose     MutationKind = "close"
	MutationReopen    MutationKind = "reopen"
	MutationSetDue    MutationKind = "set_due"
	MutationRemoveDue MutationKind = "remove_due"
	MutationSetTitle  MutationKind = "set_title"
	MutationAddLabels MutationKind = "add_labels"
)

// NoteableMutation is one queued state change. Mutations are applied in
// order inside the note transaction; a later mutation on the same
// attribute overwrites an earlier one.
type NoteableMutation struct {
	Kind    MutationKind
	DueDate *time.Time
	Title   string
	Labels  []string
}

// Describe renders the human-readable summary used for system notes.
func (m NoteableMutation) Describe() string {
	switch m.Kind {
	case MutationClose:
		return "closed"
	case MutationReopen:
		return "reopened"
	case MutationSetDue:
		if m.DueDate != nil {
			return "changed due date to " + m.DueDate.Format("2006-01-02")
		}
		return "changed due date"
	case MutationRemoveDue:
		return "removed due date"
	case MutationSetTitle:
		return "changed title to \"" + m.Title + "\""
	case MutationAddLabels:
		return "added labels " + strings.Join(m.Labels, ", ")
	default:
		return string(m.Kind)
	}
}
