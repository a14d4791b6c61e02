package connector

import (
	"context"
	"fmt"
	"time"
)

// Account carries the minimal set of fields a connector needs to open a
// reply mailbox.
type Account struct {
	ID           int
	Type         string // pop3, pop3s, imap, imaps
	Host         string
	Port         int
	Username     string
	Password     []byte
	Folder       string
	PollInterval time.Duration
}

// RemoteID derives the per-mailbox message identity the dispatcher uses as
// a dedup fallback when a message carries no usable Message-Id header.
func (a Account) RemoteID(uid string) string {
	if a.Username == "" {
		return fmt.Sprintf("%s:%s", a.Host, uid)
	}
	return fmt.Sprintf("%s@%s:%s", a.Username, a.Host, uid)
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	AccountID  int
	Connector  string
	UID        string
	RemoteID   string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
	Metadata   map[string]string
	account    Account
}

// AccountSnapshot returns the account metadata captured when the fetch occurred.
func (m FetchedMessage) AccountSnapshot() Account {
	return m.account
}

// WithAccount captures the account metadata on the message.
func (m *FetchedMessage) WithAccount(acc Account) {
	m.account = acc
	m.AccountID = acc.ID
}

// Handler receives fully fetched messages and hands them to the reply
// pipeline.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *FetchedMessage) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *FetchedMessage) error {
	return f(ctx, msg)
}

// Fetcher implementations (POP3, IMAP, etc.) stream messages to a handler.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, handler Handler) error
}

// Factory resolves the correct connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}

// newFetchedMessage assembles the envelope every connector hands to the
// pipeline: raw bytes copied off the wire plus the account and dedup
// identity the dispatcher needs.
func newFetchedMessage(connector string, account Account, uid string, raw []byte, received time.Time) *FetchedMessage {
	msg := &FetchedMessage{
		Connector:  connector,
		UID:        uid,
		RemoteID:   account.RemoteID(uid),
		ReceivedAt: received,
		SizeBytes:  int64(len(raw)),
		Raw:        append([]byte(nil), raw...),
		Metadata: map[string]string{
			"account_host": account.Host,
		},
	}
	msg.WithAccount(account)
	return msg
}

// checkCredentials rejects accounts a connector cannot serve before any
// network traffic happens.
func checkCredentials(account Account, proto string, supported func(string) bool) error {
	if account.Username == "" {
		return fmt.Errorf("%s account missing username", proto)
	}
	if len(account.Password) == 0 {
		return fmt.Errorf("%s account missing password", proto)
	}
	if !supported(normalizeType(account.Type)) {
		return fmt.Errorf("account type %s not supported by %s connector", account.Type, proto)
	}
	return nil
}
