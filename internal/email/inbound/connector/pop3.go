package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/knadh/go-pop3"
)

// pop3Session is the slice of the go-pop3 connection the fetcher needs.
type pop3Session interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
}

// POP3Fetcher drains POP3/POP3S reply mailboxes. Each message is retrieved,
// handed to the reply pipeline, and deleted from the server only after the
// handler accepted it.
type POP3Fetcher struct {
	deleteAfterFetch bool
	maxMessageSize   int64
	dialTimeout      time.Duration
	now              func() time.Time
	logger           *log.Logger
	open             func(Account) (pop3Session, error)
}

// POP3FetcherOption customizes fetcher behavior.
type POP3FetcherOption func(*POP3Fetcher)

// NewPOP3Fetcher returns a POP3 connector ready for dispatch polling.
func NewPOP3Fetcher(opts ...POP3FetcherOption) *POP3Fetcher {
	f := &POP3Fetcher{
		deleteAfterFetch: true,
		dialTimeout:      5 * time.Second,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           log.Default(),
	}
	f.open = f.dial
	for _, opt := range opts {
		opt(f)
	}
	if f.open == nil {
		f.open = f.dial
	}
	return f
}

// WithPOP3DeleteAfterFetch toggles destructive POP3 behavior.
func WithPOP3DeleteAfterFetch(delete bool) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		f.deleteAfterFetch = delete
	}
}

// WithPOP3MaxMessageSize skips messages whose reported size exceeds the
// limit. Reply mail is small; oversized input cannot become a note.
func WithPOP3MaxMessageSize(limit int64) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if limit > 0 {
			f.maxMessageSize = limit
		}
	}
}

// WithPOP3Logger overrides the logger used for connector diagnostics.
func WithPOP3Logger(logger *log.Logger) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

func withPOP3Session(open func(Account) (pop3Session, error)) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		f.open = open
	}
}

// WithPOP3Clock overrides the wall clock, primarily for tests.
func WithPOP3Clock(now func() time.Time) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// Name returns the connector identifier.
func (f *POP3Fetcher) Name() string {
	return "pop3"
}

// Fetch lists the mailbox and delivers every message in listing order. A
// handler failure stops the drain; messages already accepted stay deleted
// and the failing one remains on the server for the next poll.
func (f *POP3Fetcher) Fetch(ctx context.Context, account Account, handler Handler) error {
	if handler == nil {
		return errors.New("pop3 fetcher requires a handler")
	}
	if err := checkCredentials(account, "pop3", supportsPOP3); err != nil {
		return err
	}

	sess, err := f.open(account)
	if err != nil {
		return fmt.Errorf("pop3 connect: %w", err)
	}
	defer f.quit(sess)

	if err := sess.Auth(account.Username, string(account.Password)); err != nil {
		return fmt.Errorf("pop3 auth: %w", err)
	}

	listing, err := sess.Uidl(0)
	if err != nil {
		return fmt.Errorf("pop3 uidl: %w", err)
	}
	for _, entry := range listing {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.deliver(ctx, sess, account, entry, handler); err != nil {
			return err
		}
	}
	return nil
}

// deliver retrieves one listing entry, hands it to the pipeline, and deletes
// it on acceptance.
func (f *POP3Fetcher) deliver(ctx context.Context, sess pop3Session, account Account, entry pop3.MessageID, handler Handler) error {
	uid := entry.UID
	if uid == "" {
		uid = strconv.Itoa(entry.ID)
	}
	if f.maxMessageSize > 0 && int64(entry.Size) > f.maxMessageSize {
		f.logger.Printf("pop3: skipping oversized message %s (%d bytes)", uid, entry.Size)
		return f.discard(sess, entry.ID)
	}

	payload, err := sess.RetrRaw(entry.ID)
	if err != nil {
		return fmt.Errorf("pop3 retr %d: %w", entry.ID, err)
	}
	msg := newFetchedMessage(f.Name(), account, uid, payload.Bytes(), f.now())
	msg.Metadata["pop3_id"] = strconv.Itoa(entry.ID)
	if entry.Size > 0 {
		msg.Metadata["reported_size"] = strconv.Itoa(entry.Size)
	}

	if err := handler.Handle(ctx, msg); err != nil {
		return fmt.Errorf("reply handler failed for %s: %w", uid, err)
	}
	return f.discard(sess, entry.ID)
}

func (f *POP3Fetcher) discard(sess pop3Session, id int) error {
	if !f.deleteAfterFetch {
		return nil
	}
	if err := sess.Dele(id); err != nil {
		return fmt.Errorf("pop3 delete %d: %w", id, err)
	}
	return nil
}

func (f *POP3Fetcher) quit(sess pop3Session) {
	if sess == nil {
		return
	}
	if err := sess.Quit(); err != nil && f.logger != nil {
		f.logger.Printf("pop3 quit error: %v", err)
	}
}

func (f *POP3Fetcher) dial(account Account) (pop3Session, error) {
	if account.Host == "" {
		return nil, errors.New("pop3 account missing host")
	}
	port := account.Port
	if port == 0 {
		port = 110
		if usePOP3TLS(account.Type) {
			port = 995
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        port,
		DialTimeout: f.dialTimeout,
		TLSEnabled:  usePOP3TLS(account.Type),
	})
	return client.NewConn()
}

func supportsPOP3(t string) bool {
	switch t {
	case "pop3", "pop3s", "pop3_tls", "pop3s_tls":
		return true
	default:
		return false
	}
}

func usePOP3TLS(t string) bool {
	switch normalizeType(t) {
	case "pop3s", "pop3_tls", "pop3s_tls":
		return true
	default:
		return false
	}
}
