package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/replyflow-io/replyflow/internal/models"
)

func openIssue() *models.Issue {
	return &models.Issue{ID: 7, ProjectID: 3, IssueTitle: "Broken build", State: models.StateOpen}
}

func userNote(body string) *models.Note {
	return &models.Note{
		NoteableType: models.NoteableKindIssue,
		NoteableID:   7,
		AuthorID:     42,
		Body:         body,
	}
}

func TestCreateWithMutationsCommitsAtomically(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "mysql")
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewNoteRepository(db)
	note := userNote("Closing this.")
	mutations := []models.NoteableMutation{{Kind: models.MutationClose}}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE issues SET state").
		WithArgs(models.StateClosed, sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notes").
		WithArgs(models.NoteableKindIssue, 7, 42, "Closing this.", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(101, 1))
	mock.ExpectCommit()

	if err := repo.CreateWithMutations(context.Background(), []*models.Note{note}, openIssue(), mutations); err != nil {
		t.Fatalf("CreateWithMutations: %v", err)
	}
	if note.ID != 101 {
		t.Fatalf("expected note id 101, got %d", note.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateWithMutationsRollsBackOnInsertFailure(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "mysql")
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewNoteRepository(db)
	note := userNote("Closing this.")
	mutations := []models.NoteableMutation{{Kind: models.MutationClose}}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE issues SET state").
		WithArgs(models.StateClosed, sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notes").
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err = repo.CreateWithMutations(context.Background(), []*models.Note{note}, openIssue(), mutations)
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateWithMutationsValidatesBeforeTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewNoteRepository(db)
	err = repo.CreateWithMutations(context.Background(), []*models.Note{userNote("   ")}, openIssue(), nil)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	// No transaction is opened when validation fails.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateWithMutationsSystemNoteAllowsEmptyBodyCheck(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "mysql")
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewNoteRepository(db)
	system := &models.Note{
		NoteableType: models.NoteableKindIssue,
		NoteableID:   7,
		AuthorID:     42,
		Body:         "closed",
		System:       true,
		CreateTime:   time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO notes").
		WithArgs(models.NoteableKindIssue, 7, 42, "closed", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(102, 1))
	mock.ExpectCommit()

	if err := repo.CreateWithMutations(context.Background(), []*models.Note{system}, openIssue(), nil); err != nil {
		t.Fatalf("CreateWithMutations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateWithMutationsRejectsEmptySet(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewNoteRepository(db)
	var verr *ValidationError
	if err := repo.CreateWithMutations(context.Background(), nil, openIssue(), nil); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreateWithMutationsAddsOnlyNewLabels(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "mysql")
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewNoteRepository(db)
	note := userNote("Tagging this.")
	mutations := []models.NoteableMutation{{
		Kind:   models.MutationAddLabels,
		Labels: []string{"bug", "regression"},
	}}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT label FROM noteable_labels").
		WithArgs(models.NoteableKindIssue, 7).
		WillReturnRows(sqlmock.NewRows([]string{"label"}).AddRow("bug"))
	mock.ExpectExec("INSERT INTO noteable_labels").
		WithArgs(models.NoteableKindIssue, 7, "regression", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO notes").
		WithArgs(models.NoteableKindIssue, 7, 42, "Tagging this.", false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(103, 1))
	mock.ExpectCommit()

	if err := repo.CreateWithMutations(context.Background(), []*models.Note{note}, openIssue(), mutations); err != nil {
		t.Fatalf("CreateWithMutations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
