package postmaster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/replyflow-io/replyflow/internal/commands"
	"github.com/replyflow-io/replyflow/internal/email/inbound/connector"
	"github.com/replyflow-io/replyflow/internal/email/inbound/filters"
	"github.com/replyflow-io/replyflow/internal/email/inbound/replyparser"
	"github.com/replyflow-io/replyflow/internal/models"
	"github.com/replyflow-io/replyflow/internal/repository"
	"github.com/replyflow-io/replyflow/internal/service"
)

type notificationFinder interface {
	FindByKey(ctx context.Context, key string) (*models.SentNotification, error)
}

type noteableFinder interface {
	Find(ctx context.Context, kind models.NoteableKind, id int) (models.Noteable, error)
}

type userFinder interface {
	GetByID(ctx context.Context, id int) (*models.User, error)
}

type commandRunner interface {
	Process(ctx context.Context, text string, identity *models.User, noteable models.Noteable) (commands.Result, error)
}

type noteStore interface {
	CreateWithMutations(ctx context.Context, notes []*models.Note, noteable models.Noteable, mutations []models.NoteableMutation) error
}

type attachmentMetaStore interface {
	Create(ctx context.Context, att *models.NoteAttachment) error
}

type todoNotifier interface {
	NotifyNoteCreated(ctx context.Context, noteable models.Noteable, identity *models.User, note *models.Note)
}

// ReplyProcessor turns a keyed inbound reply into a note on the noteable the
// key resolves to, applying any embedded directives in the same transaction.
type ReplyProcessor struct {
	notifications notificationFinder
	noteables     noteableFinder
	users         userFinder
	commands      commandRunner
	notes         noteStore
	parser        *MessageParser
	logger        *log.Logger
	storage       service.StorageService
	attachments   attachmentMetaStore
	todos         todoNotifier
	now           func() time.Time
}

// ReplyProcessorOption customizes a ReplyProcessor.
type ReplyProcessorOption func(*ReplyProcessor)

// NewReplyProcessor builds a processor around the minimum collaborators:
// notification lookup, noteable lookup, recipient lookup, directive
// execution, and note persistence.
func NewReplyProcessor(
	notifications notificationFinder,
	noteables noteableFinder,
	users userFinder,
	runner commandRunner,
	notes noteStore,
	opts ...ReplyProcessorOption,
) *ReplyProcessor {
	rp := &ReplyProcessor{
		notifications: notifications,
		noteables:     noteables,
		users:         users,
		commands:      runner,
		notes:         notes,
		parser:        NewMessageParser(),
		logger:        log.Default(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(rp)
		}
	}
	return rp
}

// WithReplyProcessorLogger overrides the logger used for diagnostics.
func WithReplyProcessorLogger(logger *log.Logger) ReplyProcessorOption {
	return func(rp *ReplyProcessor) {
		if logger != nil {
			rp.logger = logger
		}
	}
}

// WithReplyProcessorParser overrides the message parser.
func WithReplyProcessorParser(parser *MessageParser) ReplyProcessorOption {
	return func(rp *ReplyProcessor) {
		if parser != nil {
			rp.parser = parser
		}
	}
}

// WithReplyProcessorStorage wires the storage backend used for attachments.
// Without it attachments are dropped with a log line.
func WithReplyProcessorStorage(storage service.StorageService) ReplyProcessorOption {
	return func(rp *ReplyProcessor) {
		if storage != nil {
			rp.storage = storage
		}
	}
}

// WithReplyProcessorAttachmentStore wires the metadata store that links
// persisted binaries to their note.
func WithReplyProcessorAttachmentStore(store attachmentMetaStore) ReplyProcessorOption {
	return func(rp *ReplyProcessor) {
		if store != nil {
			rp.attachments = store
		}
	}
}

// WithReplyProcessorTodoNotifier wires the post-commit todo fanout.
func WithReplyProcessorTodoNotifier(notifier todoNotifier) ReplyProcessorOption {
	return func(rp *ReplyProcessor) {
		if notifier != nil {
			rp.todos = notifier
		}
	}
}

// WithReplyProcessorClock overrides the wall clock, primarily for tests.
func WithReplyProcessorClock(now func() time.Time) ReplyProcessorOption {
	return func(rp *ReplyProcessor) {
		if now != nil {
			rp.now = now
		}
	}
}

// Process runs the full reply pipeline for one fetched message. The filter
// chain has already rejected auto-generated mail and annotated the reply
// key; everything from notification lookup to note creation happens here.
func (rp *ReplyProcessor) Process(ctx context.Context, msg *connector.FetchedMessage, meta *filters.MessageContext) (Result, error) {
	if msg == nil {
		return Result{}, errors.New("postmaster: message required")
	}
	if rp == nil || rp.notes == nil {
		return Result{}, errors.New("postmaster: note store unavailable")
	}
	// Parse first so unreadable input rejects as malformed even when the
	// filters could not annotate a reply key.
	parsed, err := rp.parser.Parse(msg.Raw)
	if err != nil {
		return Result{Action: "rejected"}, err
	}

	key := annotationString(meta, filters.AnnotationReplyKey)
	if key == "" {
		return Result{Action: "rejected"}, ErrUnknownIncomingEmail
	}

	notification, err := rp.findNotification(ctx, key)
	if err != nil {
		return Result{Action: "rejected"}, err
	}
	noteable, err := rp.findNoteable(ctx, notification)
	if err != nil {
		return Result{Action: "rejected"}, err
	}
	author, err := rp.findRecipient(ctx, notification)
	if err != nil {
		return Result{Action: "rejected"}, err
	}

	content := replyparser.Extract(parsed.Body)
	if content == "" && len(parsed.Attachments) == 0 {
		return Result{Action: "rejected"}, ErrEmptyEmail
	}

	cmdResult, err := rp.runCommands(ctx, content, author, noteable)
	if err != nil {
		return Result{Action: "error"}, err
	}

	stored := rp.storeAttachments(ctx, key, parsed.Attachments)
	body := rp.composeBody(cmdResult.Residual, stored)
	if body == "" && len(cmdResult.Mutations) == 0 {
		if cmdResult.CommandsOnly {
			return Result{Action: "rejected"}, ErrCommandsOnlyNote
		}
		return Result{Action: "rejected"}, ErrEmptyEmail
	}

	notes := rp.buildNotes(notification, author, body, cmdResult.Mutations)
	if err := rp.notes.CreateWithMutations(ctx, notes, noteable, cmdResult.Mutations); err != nil {
		var verr *repository.ValidationError
		if errors.As(err, &verr) {
			return Result{Action: "rejected"}, fmt.Errorf("%w: %s", ErrInvalidNote, verr.Reason)
		}
		return Result{Action: "error"}, err
	}

	var userNote *models.Note
	if !notes[0].System {
		userNote = notes[0]
		rp.recordAttachments(ctx, userNote.ID, stored)
	}
	// Todos accompany a state change, not a bare comment.
	if rp.todos != nil && len(cmdResult.Mutations) > 0 {
		rp.todos.NotifyNoteCreated(ctx, noteable, author, notes[0])
	}

	result := Result{
		Action:           "note_created",
		MutationsApplied: len(cmdResult.Mutations),
		CommandsDropped:  cmdResult.Dropped,
		Attachments:      len(stored),
	}
	if userNote != nil {
		result.NoteID = userNote.ID
	} else {
		result.Action = "commands_applied"
	}
	rp.logf("postmaster: %s for %s %d (note=%d mutations=%d dropped=%d)",
		result.Action, noteable.NoteableKind(), noteable.NoteableID(),
		result.NoteID, result.MutationsApplied, result.CommandsDropped)
	return result, nil
}

func (rp *ReplyProcessor) findNotification(ctx context.Context, key string) (*models.SentNotification, error) {
	if rp.notifications == nil {
		return nil, errors.New("postmaster: notification lookup unavailable")
	}
	notification, err := rp.notifications.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: key %s", ErrSentNotificationNotFound, key)
		}
		return nil, fmt.Errorf("notification lookup: %w", err)
	}
	return notification, nil
}

func (rp *ReplyProcessor) findNoteable(ctx context.Context, notification *models.SentNotification) (models.Noteable, error) {
	if rp.noteables == nil {
		return nil, errors.New("postmaster: noteable lookup unavailable")
	}
	noteable, err := rp.noteables.Find(ctx, notification.NoteableType, notification.NoteableID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %d", ErrNoteableNotFound, notification.NoteableType, notification.NoteableID)
		}
		return nil, fmt.Errorf("noteable lookup: %w", err)
	}
	return noteable, nil
}

// findRecipient resolves the notification recipient as the note author. A
// missing or deactivated recipient makes the notification unusable, which
// reads the same as the notification never having existed.
func (rp *ReplyProcessor) findRecipient(ctx context.Context, notification *models.SentNotification) (*models.User, error) {
	if rp.users == nil {
		return nil, errors.New("postmaster: user lookup unavailable")
	}
	user, err := rp.users.GetByID(ctx, notification.RecipientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: recipient %d", ErrSentNotificationNotFound, notification.RecipientID)
		}
		return nil, fmt.Errorf("recipient lookup: %w", err)
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: recipient %d deactivated", ErrSentNotificationNotFound, notification.RecipientID)
	}
	return user, nil
}

func (rp *ReplyProcessor) runCommands(ctx context.Context, content string, author *models.User, noteable models.Noteable) (commands.Result, error) {
	if rp.commands == nil {
		return commands.Result{Residual: content}, nil
	}
	return rp.commands.Process(ctx, content, author, noteable)
}

type storedAttachment struct {
	meta      service.FileMetadata
	contentID string
}

// storeAttachments persists binaries before the note transaction so the
// markdown references can go into the note body. Failures are logged and
// skipped; an attachment that will not store never blocks the note.
func (rp *ReplyProcessor) storeAttachments(ctx context.Context, replyKey string, parts []AttachmentPart) []storedAttachment {
	if len(parts) == 0 {
		return nil
	}
	if rp.storage == nil {
		rp.logf("postmaster: no storage configured, dropping %d attachments", len(parts))
		return nil
	}
	var stored []storedAttachment
	for _, part := range parts {
		if len(part.Data) == 0 || part.Filename == "" {
			continue
		}
		path := service.AttachmentStoragePath(replyKey, part.Filename)
		meta, err := rp.storage.Store(ctx, path, bytes.NewReader(part.Data), service.FileMetadata{
			OriginalName: part.Filename,
			ContentType:  part.ContentType,
			Size:         int64(len(part.Data)),
		})
		if err != nil {
			rp.logf("postmaster: attachment store failed for %s: %v", part.Filename, err)
			continue
		}
		stored = append(stored, storedAttachment{meta: *meta, contentID: part.ContentID})
	}
	return stored
}

// composeBody rewrites markdown references to attachments (cid: links and
// bare filenames) to their stored locations, then appends links for any
// attachment the body never mentioned.
func (rp *ReplyProcessor) composeBody(residual string, stored []storedAttachment) string {
	body := strings.TrimSpace(residual)
	if len(stored) == 0 {
		return body
	}
	var links []string
	for _, att := range stored {
		ref := att.meta.URL
		if ref == "" {
			ref = att.meta.StoragePath
		}
		referenced := false
		if att.contentID != "" {
			marker := "(cid:" + att.contentID + ")"
			if strings.Contains(body, marker) {
				body = strings.ReplaceAll(body, marker, "("+ref+")")
				referenced = true
			}
		}
		if marker := "(" + att.meta.OriginalName + ")"; strings.Contains(body, marker) {
			body = strings.ReplaceAll(body, marker, "("+ref+")")
			referenced = true
		}
		if !referenced {
			links = append(links, fmt.Sprintf("[%s](%s)", att.meta.OriginalName, ref))
		}
	}
	if len(links) == 0 {
		return body
	}
	if body == "" {
		return strings.Join(links, "\n")
	}
	return body + "\n\n" + strings.Join(links, "\n")
}

// buildNotes returns the rows to insert: the user note first when there is
// prose, then a single system note summarizing every applied mutation.
func (rp *ReplyProcessor) buildNotes(notification *models.SentNotification, author *models.User, body string, mutations []models.NoteableMutation) []*models.Note {
	now := rp.now()
	var notes []*models.Note
	if body != "" {
		notes = append(notes, &models.Note{
			NoteableType: notification.NoteableType,
			NoteableID:   notification.NoteableID,
			AuthorID:     author.ID,
			Body:         body,
			CreateTime:   now,
			ChangeTime:   now,
		})
	}
	if len(mutations) > 0 {
		described := make([]string, 0, len(mutations))
		for _, mutation := range mutations {
			described = append(described, mutation.Describe())
		}
		notes = append(notes, &models.Note{
			NoteableType: notification.NoteableType,
			NoteableID:   notification.NoteableID,
			AuthorID:     author.ID,
			Body:         strings.Join(described, "\n"),
			System:       true,
			CreateTime:   now,
			ChangeTime:   now,
		})
	}
	return notes
}

func (rp *ReplyProcessor) recordAttachments(ctx context.Context, noteID int, stored []storedAttachment) {
	if rp.attachments == nil || noteID <= 0 {
		return
	}
	for _, att := range stored {
		record := &models.NoteAttachment{
			NoteID:      noteID,
			Filename:    att.meta.OriginalName,
			ContentType: att.meta.ContentType,
			ContentSize: att.meta.Size,
			StoragePath: att.meta.StoragePath,
			CreateTime:  rp.now(),
		}
		if err := rp.attachments.Create(ctx, record); err != nil {
			rp.logf("postmaster: attachment metadata insert failed for %s: %v", record.Filename, err)
		}
	}
}

func annotationString(meta *filters.MessageContext, key string) string {
	if meta == nil || meta.Annotations == nil {
		return ""
	}
	if raw, ok := meta.Annotations[key]; ok {
		switch v := raw.(type) {
		case string:
			return strings.TrimSpace(v)
		case fmt.Stringer:
			return strings.TrimSpace(v.String())
		case []byte:
			return strings.TrimSpace(string(v))
		default:
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}

func (rp *ReplyProcessor) logf(format string, args ...any) {
	if rp == nil || rp.logger == nil {
		return
	}
	rp.logger.Printf(format, args...)
}
