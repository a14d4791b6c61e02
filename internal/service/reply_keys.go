package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/replyflow-io/replyflow/internal/models"
	"github.com/replyflow-io/replyflow/internal/repository"
)

// ReplyKeyService mints the opaque keys stamped on outbound notifications
// and records the send so an inbound reply can be resolved later.
type ReplyKeyService struct {
	notifications *repository.SentNotificationRepository
	host          string
}

// NewReplyKeyService binds key minting to the send-record store. host is
// the domain stamped into reference message-ids.
func NewReplyKeyService(notifications *repository.SentNotificationRepository, host string) *ReplyKeyService {
	if host == "" {
		host = "localhost"
	}
	return &ReplyKeyService{notifications: notifications, host: host}
}

// Mint generates a fresh reply key for one recipient of one noteable and
// persists the send record. Keys are never reused across notifications.
func (s *ReplyKeyService) Mint(ctx context.Context, noteable models.Noteable, recipient *models.User) (*models.SentNotification, error) {
	if noteable == nil || recipient == nil {
		return nil, fmt.Errorf("noteable and recipient required")
	}
	record := &models.SentNotification{
		ReplyKey:     NewReplyKey(),
		NoteableType: noteable.NoteableKind(),
		NoteableID:   noteable.NoteableID(),
		RecipientID:  recipient.ID,
	}
	if err := s.notifications.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ReferenceID renders the message-id stamped into References so clients
// that drop sub-addressing still echo the key back.
func (s *ReplyKeyService) ReferenceID(key string) string {
	return fmt.Sprintf("<reply-%s@%s>", key, s.host)
}

// NewReplyKey returns a 32-character hex token.
func NewReplyKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
