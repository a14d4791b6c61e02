package connector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"
)

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct {
	data *imap.SelectData
	err  error
}

func (c *fakeSelect) Wait() (*imap.SelectData, error) { return c.data, c.err }

type fakeSearch struct {
	data *imap.SearchData
	err  error
}

func (c *fakeSearch) Wait() (*imap.SearchData, error) { return c.data, c.err }

type fakeFetch struct {
	buffers []*imapclient.FetchMessageBuffer
	err     error
}

func (c *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return c.buffers, c.err }
func (c *fakeFetch) Close() error                                       { return c.err }

type fakeExpunge struct{ err error }

func (c *fakeExpunge) Close() error { return c.err }

type fakeIMAPSession struct {
	uids         []imap.UID
	bodies       map[imap.UID][]byte
	internalDate map[imap.UID]time.Time

	loginErr  error
	selectErr error
	searchErr error
	fetchErr  error
	storeErr  error

	selectedMailbox string
	storeSets       []imap.UIDSet
	expungeSets     []imap.UIDSet
	logoutCalls     int
	closed          bool
}

func (c *fakeIMAPSession) Login(username, password string) imapWait {
	return &fakeCommand{err: c.loginErr}
}

func (c *fakeIMAPSession) Logout() imapWait {
	c.logoutCalls++
	return &fakeCommand{}
}

func (c *fakeIMAPSession) Close() error {
	c.closed = true
	return nil
}

func (c *fakeIMAPSession) Select(mailbox string, options *imap.SelectOptions) imapSelectWait {
	c.selectedMailbox = mailbox
	return &fakeSelect{data: &imap.SelectData{}, err: c.selectErr}
}

func (c *fakeIMAPSession) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) imapSearchWait {
	if c.searchErr != nil {
		return &fakeSearch{err: c.searchErr}
	}
	return &fakeSearch{data: &imap.SearchData{All: imap.UIDSetNum(c.uids...)}}
}

func (c *fakeIMAPSession) Fetch(numSet imap.NumSet, options *imap.FetchOptions) imapFetchWait {
	if c.fetchErr != nil {
		return &fakeFetch{err: c.fetchErr}
	}
	uidSet, _ := numSet.(imap.UIDSet)
	var buffers []*imapclient.FetchMessageBuffer
	for _, uid := range c.uids {
		if !uidSetHas(uidSet, uid) {
			continue
		}
		buffers = append(buffers, &imapclient.FetchMessageBuffer{
			UID:          uid,
			InternalDate: c.internalDate[uid],
			BodySection: []imapclient.FetchBodySectionBuffer{
				{Section: &imap.FetchItemBodySection{}, Bytes: c.bodies[uid]},
			},
		})
	}
	return &fakeFetch{buffers: buffers}
}

func (c *fakeIMAPSession) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) imapFetchWait {
	if uidSet, ok := numSet.(imap.UIDSet); ok {
		c.storeSets = append(c.storeSets, uidSet)
	}
	return &fakeFetch{err: c.storeErr}
}

func (c *fakeIMAPSession) UIDExpunge(uids imap.UIDSet) imapExpungeWait {
	c.expungeSets = append(c.expungeSets, uids)
	return &fakeExpunge{}
}

func uidSetHas(set imap.UIDSet, uid imap.UID) bool {
	for _, r := range set {
		stop := r.Stop
		if stop == 0 {
			stop = r.Start
		}
		if uid >= r.Start && uid <= stop {
			return true
		}
	}
	return false
}

type recordingHandler struct {
	messages []*FetchedMessage
	failUID  string
}

func (h *recordingHandler) Handle(ctx context.Context, msg *FetchedMessage) error {
	if h.failUID != "" && msg.UID == h.failUID {
		return fmt.Errorf("handler rejected %s", msg.UID)
	}
	h.messages = append(h.messages, msg)
	return nil
}

func imapTestAccount() Account {
	return Account{
		ID:       3,
		Type:     "imap",
		Host:     "mail.example.com",
		Username: "replies",
		Password: []byte("secret"),
	}
}

func imapFetcherFor(sess *fakeIMAPSession, opts ...IMAPFetcherOption) *IMAPFetcher {
	opts = append([]IMAPFetcherOption{
		withIMAPSession(func(Account) (imapSession, error) { return sess, nil }),
	}, opts...)
	return NewIMAPFetcher(opts...)
}

func TestIMAPFetcherDeliversMessages(t *testing.T) {
	received := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	sess := &fakeIMAPSession{
		uids: []imap.UID{11, 12},
		bodies: map[imap.UID][]byte{
			11: []byte("Subject: one\r\n\r\nfirst"),
			12: []byte("Subject: two\r\n\r\nsecond"),
		},
		internalDate: map[imap.UID]time.Time{11: received},
	}
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	fetcher := imapFetcherFor(sess, WithIMAPClock(func() time.Time { return now }))
	handler := &recordingHandler{}

	err := fetcher.Fetch(context.Background(), imapTestAccount(), handler)

	require.NoError(t, err)
	require.Len(t, handler.messages, 2)
	first := handler.messages[0]
	require.Equal(t, "imap", first.Connector)
	require.Equal(t, "11", first.UID)
	require.Equal(t, "replies@mail.example.com:11", first.RemoteID)
	require.Equal(t, received, first.ReceivedAt)
	require.Equal(t, "INBOX", first.Metadata["imap_folder"])
	require.Equal(t, "mail.example.com", first.Metadata["account_host"])
	require.Equal(t, 3, first.AccountID)
	// missing internal date falls back to the injected clock
	require.Equal(t, now, handler.messages[1].ReceivedAt)
	require.Len(t, sess.storeSets, 1)
	require.True(t, uidSetHas(sess.storeSets[0], 11))
	require.True(t, uidSetHas(sess.storeSets[0], 12))
	require.Len(t, sess.expungeSets, 1)
	require.Equal(t, 1, sess.logoutCalls)
	require.True(t, sess.closed)
}

func TestIMAPFetcherSelectsConfiguredFolder(t *testing.T) {
	sess := &fakeIMAPSession{}
	fetcher := imapFetcherFor(sess)
	account := imapTestAccount()
	account.Folder = "Replies"

	err := fetcher.Fetch(context.Background(), account, &recordingHandler{})

	require.NoError(t, err)
	require.Equal(t, "Replies", sess.selectedMailbox)
}

func TestIMAPFetcherHandlerErrorStopsBeforeDelete(t *testing.T) {
	sess := &fakeIMAPSession{
		uids:   []imap.UID{21},
		bodies: map[imap.UID][]byte{21: []byte("Subject: x\r\n\r\nbody")},
	}
	fetcher := imapFetcherFor(sess)
	handler := &recordingHandler{failUID: "21"}

	err := fetcher.Fetch(context.Background(), imapTestAccount(), handler)

	require.ErrorContains(t, err, "reply handler failed for 21")
	require.Empty(t, sess.storeSets)
	require.Empty(t, sess.expungeSets)
}

func TestIMAPFetcherPurgesAcceptedBeforeFailure(t *testing.T) {
	sess := &fakeIMAPSession{
		uids: []imap.UID{11, 12},
		bodies: map[imap.UID][]byte{
			11: []byte("Subject: one\r\n\r\nfirst"),
			12: []byte("Subject: two\r\n\r\nsecond"),
		},
	}
	fetcher := imapFetcherFor(sess)
	handler := &recordingHandler{failUID: "12"}

	err := fetcher.Fetch(context.Background(), imapTestAccount(), handler)

	require.ErrorContains(t, err, "reply handler failed for 12")
	require.Len(t, handler.messages, 1)
	// the accepted message is still removed so its note is never duplicated
	require.Len(t, sess.storeSets, 1)
	require.True(t, uidSetHas(sess.storeSets[0], 11))
	require.False(t, uidSetHas(sess.storeSets[0], 12))
	require.Len(t, sess.expungeSets, 1)
}

func TestIMAPFetcherEmptyMailbox(t *testing.T) {
	sess := &fakeIMAPSession{}
	fetcher := imapFetcherFor(sess)

	err := fetcher.Fetch(context.Background(), imapTestAccount(), &recordingHandler{})

	require.NoError(t, err)
	require.Empty(t, sess.storeSets)
	require.Equal(t, 1, sess.logoutCalls)
}

func TestIMAPFetcherDeleteDisabled(t *testing.T) {
	sess := &fakeIMAPSession{
		uids:   []imap.UID{31},
		bodies: map[imap.UID][]byte{31: []byte("Subject: x\r\n\r\nbody")},
	}
	fetcher := imapFetcherFor(sess, WithIMAPDeleteAfterFetch(false))
	handler := &recordingHandler{}

	err := fetcher.Fetch(context.Background(), imapTestAccount(), handler)

	require.NoError(t, err)
	require.Len(t, handler.messages, 1)
	require.Empty(t, sess.storeSets)
	require.Empty(t, sess.expungeSets)
}

func TestIMAPFetcherSkipsOversized(t *testing.T) {
	sess := &fakeIMAPSession{
		uids: []imap.UID{41, 42},
		bodies: map[imap.UID][]byte{
			41: []byte("Subject: big\r\n\r\n" + string(make([]byte, 256))),
			42: []byte("Subject: ok\r\n\r\nsmall"),
		},
	}
	fetcher := imapFetcherFor(sess, WithIMAPMaxMessageSize(64))
	handler := &recordingHandler{}

	err := fetcher.Fetch(context.Background(), imapTestAccount(), handler)

	require.NoError(t, err)
	require.Len(t, handler.messages, 1)
	require.Equal(t, "42", handler.messages[0].UID)
	// oversized mail is still purged, it can never become a note
	require.Len(t, sess.storeSets, 1)
	require.True(t, uidSetHas(sess.storeSets[0], 41))
	require.True(t, uidSetHas(sess.storeSets[0], 42))
}

func TestIMAPFetcherValidation(t *testing.T) {
	fetcher := NewIMAPFetcher(
		withIMAPSession(func(Account) (imapSession, error) {
			t.Fatal("session factory should not be called")
			return nil, nil
		}),
	)

	cases := []struct {
		name    string
		mutate  func(*Account)
		wantErr string
	}{
		{"missing username", func(a *Account) { a.Username = "" }, "missing username"},
		{"missing password", func(a *Account) { a.Password = nil }, "missing password"},
		{"wrong type", func(a *Account) { a.Type = "pop3" }, "not supported by imap connector"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			account := imapTestAccount()
			tc.mutate(&account)
			err := fetcher.Fetch(context.Background(), account, &recordingHandler{})
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestIMAPFetcherNilHandler(t *testing.T) {
	fetcher := NewIMAPFetcher()

	err := fetcher.Fetch(context.Background(), imapTestAccount(), nil)

	require.ErrorContains(t, err, "requires a handler")
}

func TestIMAPFetcherAuthError(t *testing.T) {
	sess := &fakeIMAPSession{loginErr: errors.New("bad credentials")}
	fetcher := imapFetcherFor(sess)

	err := fetcher.Fetch(context.Background(), imapTestAccount(), &recordingHandler{})

	require.ErrorContains(t, err, "imap auth")
	require.True(t, sess.closed)
}

func TestIMAPFetcherSelectError(t *testing.T) {
	sess := &fakeIMAPSession{selectErr: errors.New("no such mailbox")}
	fetcher := imapFetcherFor(sess)

	err := fetcher.Fetch(context.Background(), imapTestAccount(), &recordingHandler{})

	require.ErrorContains(t, err, "imap select INBOX")
}

func TestIMAPFetcherConnectError(t *testing.T) {
	fetcher := NewIMAPFetcher(
		withIMAPSession(func(Account) (imapSession, error) {
			return nil, errors.New("connection refused")
		}),
	)

	err := fetcher.Fetch(context.Background(), imapTestAccount(), &recordingHandler{})

	require.ErrorContains(t, err, "imap connect")
}

func TestIMAPTypePredicates(t *testing.T) {
	require.True(t, supportsIMAP("imap"))
	require.True(t, supportsIMAP("imaps"))
	require.False(t, supportsIMAP("pop3"))

	require.False(t, useIMAPTLS("imap"))
	require.True(t, useIMAPTLS("imaps"))
	require.True(t, useIMAPTLS("imap_tls"))
}
