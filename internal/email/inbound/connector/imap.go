package connector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// imapSession is the slice of the go-imap client the fetcher needs.
type imapSession interface {
	Login(username, password string) imapWait
	Logout() imapWait
	Close() error
	Select(mailbox string, options *imap.SelectOptions) imapSelectWait
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) imapSearchWait
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) imapFetchWait
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) imapFetchWait
	UIDExpunge(uids imap.UIDSet) imapExpungeWait
}

type imapWait interface{ Wait() error }
type imapSelectWait interface {
	Wait() (*imap.SelectData, error)
}
type imapSearchWait interface {
	Wait() (*imap.SearchData, error)
}
type imapFetchWait interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type imapExpungeWait interface{ Close() error }

// IMAPFetcher drains IMAP/IMAPS reply mailboxes. Messages are fetched one
// UID at a time; only the UIDs the pipeline accepted are flagged deleted
// and expunged, so a mid-drain failure never discards unprocessed mail.
type IMAPFetcher struct {
	deleteAfterFetch bool
	maxMessageSize   int64
	dialTimeout      time.Duration
	now              func() time.Time
	logger           *log.Logger
	open             func(Account) (imapSession, error)
}

// IMAPFetcherOption customizes fetcher behavior.
type IMAPFetcherOption func(*IMAPFetcher)

// NewIMAPFetcher returns an IMAP connector ready for dispatch polling.
func NewIMAPFetcher(opts ...IMAPFetcherOption) *IMAPFetcher {
	f := &IMAPFetcher{
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

// WithIMAPDeleteAfterFetch toggles destructive IMAP behavior.
func WithIMAPDeleteAfterFetch(delete bool) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.deleteAfterFetch = delete
	}
}

// WithIMAPMaxMessageSize skips messages whose body exceeds the limit.
// Reply mail is small; oversized input cannot become a note.
func WithIMAPMaxMessageSize(limit int64) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if limit > 0 {
			f.maxMessageSize = limit
		}
	}
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

func withIMAPSession(open func(Account) (imapSession, error)) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.open = open
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// Name returns the connector identifier.
func (f *IMAPFetcher) Name() string {
	return "imap"
}

// Fetch searches the reply folder and delivers every message in UID order.
// Accepted UIDs are purged before returning, even when a later handler
// call fails.
func (f *IMAPFetcher) Fetch(ctx context.Context, account Account, handler Handler) error {
	if handler == nil {
		return errors.New("imap fetcher requires a handler")
	}
	if err := checkCredentials(account, "imap", supportsIMAP); err != nil {
		return err
	}

	sess, err := f.open(account)
	if err != nil {
		return fmt.Errorf("imap connect: %w", err)
	}
	defer f.close(sess)

	if err := sess.Login(account.Username, string(account.Password)).Wait(); err != nil {
		return fmt.Errorf("imap auth: %w", err)
	}

	folder := account.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := sess.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("imap select %s: %w", folder, err)
	}

	searchData, err := sess.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return fmt.Errorf("imap search: %w", err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return f.logout(sess)
	}

	var accepted []imap.UID
	var drainErr error
	for _, uid := range uids {
		if ctxErr := ctx.Err(); ctxErr != nil {
			drainErr = ctxErr
			break
		}
		handled, deliverErr := f.deliver(ctx, sess, account, folder, uid, handler)
		if deliverErr != nil {
			drainErr = deliverErr
			break
		}
		if handled {
			accepted = append(accepted, uid)
		}
	}
	// Purge what the pipeline accepted even when a later delivery failed,
	// so already-created notes never get their source mail refetched.
	if purgeErr := f.purge(sess, accepted); purgeErr != nil && drainErr == nil {
		drainErr = purgeErr
	}
	if drainErr != nil {
		return drainErr
	}
	return f.logout(sess)
}

// deliver fetches a single UID and hands it to the pipeline. It reports
// whether the message may be removed from the server.
func (f *IMAPFetcher) deliver(ctx context.Context, sess imapSession, account Account, folder string, uid imap.UID, handler Handler) (bool, error) {
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	buffers, err := sess.Fetch(imap.UIDSetNum(uid), fetchOpts).Collect()
	if err != nil {
		return false, fmt.Errorf("imap fetch %d: %w", uid, err)
	}
	if len(buffers) == 0 {
		return false, nil
	}
	buf := buffers[0]
	body := buf.FindBodySection(&imap.FetchItemBodySection{})
	if body == nil {
		return false, nil
	}
	uidStr := fmt.Sprintf("%d", uid)
	if f.maxMessageSize > 0 && int64(len(body)) > f.maxMessageSize {
		f.logger.Printf("imap: skipping oversized message %s (%d bytes)", uidStr, len(body))
		return f.deleteAfterFetch, nil
	}

	received := buf.InternalDate
	if received.IsZero() {
		received = f.now()
	}
	msg := newFetchedMessage(f.Name(), account, uidStr, body, received)
	msg.Metadata["imap_uid"] = uidStr
	msg.Metadata["imap_folder"] = folder

	if err := handler.Handle(ctx, msg); err != nil {
		return false, fmt.Errorf("reply handler failed for %s: %w", uidStr, err)
	}
	return f.deleteAfterFetch, nil
}

// purge flags the accepted UIDs deleted and expunges them.
func (f *IMAPFetcher) purge(sess imapSession, accepted []imap.UID) error {
	if len(accepted) == 0 {
		return nil
	}
	uidSet := imap.UIDSetNum(accepted...)
	store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}}
	if err := sess.Store(uidSet, store, nil).Close(); err != nil {
		return fmt.Errorf("imap store delete: %w", err)
	}
	if err := sess.UIDExpunge(uidSet).Close(); err != nil {
		return fmt.Errorf("imap expunge: %w", err)
	}
	return nil
}

func (f *IMAPFetcher) logout(sess imapSession) error {
	if err := sess.Logout().Wait(); err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

func (f *IMAPFetcher) close(sess imapSession) {
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil && f.logger != nil {
		f.logger.Printf("imap close error: %v", err)
	}
}

func (f *IMAPFetcher) dial(account Account) (imapSession, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	port := account.Port
	if port == 0 {
		port = 143
		if useIMAPTLS(account.Type) {
			port = 993
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: f.dialTimeout}}
	addr := fmt.Sprintf("%s:%d", account.Host, port)
	var client *imapclient.Client
	var err error
	if useIMAPTLS(account.Type) {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapSessionWrapper{Client: client}, nil
}

type imapSessionWrapper struct{ *imapclient.Client }

func (w *imapSessionWrapper) Login(username, password string) imapWait {
	return w.Client.Login(username, password)
}
func (w *imapSessionWrapper) Logout() imapWait { return w.Client.Logout() }
func (w *imapSessionWrapper) Select(mailbox string, options *imap.SelectOptions) imapSelectWait {
	return w.Client.Select(mailbox, options)
}
func (w *imapSessionWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) imapSearchWait {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapSessionWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) imapFetchWait {
	return w.Client.Fetch(numSet, options)
}
func (w *imapSessionWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) imapFetchWait {
	return w.Client.Store(numSet, store, options)
}
func (w *imapSessionWrapper) UIDExpunge(uids imap.UIDSet) imapExpungeWait {
	return w.Client.UIDExpunge(uids)
}

func supportsIMAP(t string) bool {
	switch t {
	case "imap", "imaps", "imap_tls", "imaps_tls", "imaptls":
		return true
	default:
		return false
	}
}

func useIMAPTLS(t string) bool {
	switch normalizeType(t) {
	case "imaps", "imap_tls", "imaps_tls", "imaptls":
		return true
	default:
		return false
	}
}
