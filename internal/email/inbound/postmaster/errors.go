package postmaster

import (
	"errors"
	"fmt"

	"github.com/replyflow-io/replyflow/internal/email/inbound/filters"
)

// Every way a reply can be rejected maps to one sentinel so callers can
// classify outcomes with errors.Is. The filter stages own the sentinels they
// raise; this package aliases them into the one taxonomy.
var (
	// ErrMalformedMessage rejects raw input that cannot be parsed as an
	// email message at all.
	ErrMalformedMessage = errors.New("malformed email message")

	// ErrAutoGeneratedEmail rejects vacation responders, delivery status
	// notifications, and other machine-generated mail.
	ErrAutoGeneratedEmail = filters.ErrAutoGenerated

	// ErrUnknownIncomingEmail rejects messages that carry no reply key.
	ErrUnknownIncomingEmail = filters.ErrNoReplyKey

	// ErrSentNotificationNotFound rejects keys that match no recorded
	// outbound notification. Keys are single-purpose and never guessable,
	// so this usually means a stale or forged address.
	ErrSentNotificationNotFound = errors.New("sent notification not found")

	// ErrNoteableNotFound rejects replies whose target was deleted after
	// the notification went out.
	ErrNoteableNotFound = errors.New("noteable not found")

	// ErrEmptyEmail rejects replies with no usable content once quoted
	// text and signatures are stripped.
	ErrEmptyEmail = errors.New("empty email body")

	// ErrInvalidNote rejects notes the repository refuses to persist.
	ErrInvalidNote = errors.New("invalid note")

	// ErrCommandsOnlyNote is the commands-only special case of an invalid
	// note: every directive was dropped and no prose remains.
	ErrCommandsOnlyNote = fmt.Errorf("%w: contains only commands", ErrInvalidNote)
)

// Classify buckets an error for metrics and summary logging.
func Classify(err error) string {
	switch {
	case err == nil:
		return "processed"
	case errors.Is(err, ErrAutoGeneratedEmail):
		return "auto_generated"
	case errors.Is(err, ErrUnknownIncomingEmail):
		return "unknown_incoming"
	case errors.Is(err, ErrSentNotificationNotFound):
		return "notification_not_found"
	case errors.Is(err, ErrNoteableNotFound):
		return "noteable_not_found"
	case errors.Is(err, ErrEmptyEmail):
		return "empty"
	case errors.Is(err, ErrCommandsOnlyNote):
		return "commands_only"
	case errors.Is(err, ErrInvalidNote):
		return "invalid_note"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed"
	default:
		return "error"
	}
}
