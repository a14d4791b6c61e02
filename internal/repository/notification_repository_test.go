package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/replyflow-io/replyflow/internal/models"
)

func TestFindByKeyReturnsRecord(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "mysql")
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewSentNotificationRepository(db)
	created := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "reply_key", "noteable_type", "noteable_id", "recipient_id", "create_time"}).
		AddRow(1, "abc123", "issue", 7, 42, created)
	mock.ExpectQuery("SELECT id, reply_key, noteable_type, noteable_id, recipient_id, create_time").
		WithArgs("abc123").
		WillReturnRows(rows)

	record, err := repo.FindByKey(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if record.NoteableType != models.NoteableKindIssue || record.NoteableID != 7 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.RecipientID != 42 {
		t.Fatalf("unexpected recipient: %d", record.RecipientID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFindByKeyMissingMapsToErrNotFound(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "mysql")
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewSentNotificationRepository(db)
	mock.ExpectQuery("SELECT id, reply_key").
		WithArgs("stale").
		WillReturnRows(sqlmock.NewRows([]string{"id", "reply_key", "noteable_type", "noteable_id", "recipient_id", "create_time"}))

	_, err = repo.FindByKey(context.Background(), "stale")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSetsCreateTime(t *testing.T) {
	t.Setenv("TEST_DB_DRIVER", "mysql")
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewSentNotificationRepository(db)
	record := &models.SentNotification{
		ReplyKey:     "abc123",
		NoteableType: models.NoteableKindMergeRequest,
		NoteableID:   9,
		RecipientID:  42,
	}
	mock.ExpectExec("INSERT INTO sent_notifications").
		WithArgs("abc123", models.NoteableKindMergeRequest, 9, 42, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.CreateTime.IsZero() {
		t.Fatal("expected create time to be set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
