package tasks

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/replyflow-io/replyflow/internal/config"
	"github.com/replyflow-io/replyflow/internal/email/inbound/connector"
	"github.com/replyflow-io/replyflow/internal/email/inbound/postmaster"
	"github.com/replyflow-io/replyflow/internal/metrics"
	"github.com/replyflow-io/replyflow/internal/runner"
	"github.com/replyflow-io/replyflow/internal/service"
)

const defaultPollSchedule = "0 * * * * *"

// InboundMailTask polls the configured mail accounts and hands each fetched
// message to the reply pipeline. Messages the pipeline rejects for good
// (auto-replies, unknown keys, empty bodies) are still consumed from the
// mailbox; only transport and infrastructure failures leave mail behind for
// the next poll.
// dedupClaimer is the slice of the dedup service the poller needs.
type dedupClaimer interface {
	Claim(ctx context.Context, messageID string) (bool, error)
	Release(ctx context.Context, messageID string) error
}

type InboundMailTask struct {
	cfg      *config.InboundConfig
	factory  connector.Factory
	pipeline connector.Handler
	dedup    dedupClaimer
	logger   *log.Logger
}

// InboundMailTaskOption customizes an InboundMailTask.
type InboundMailTaskOption func(*InboundMailTask)

// NewInboundMailTask builds the polling task around the reply pipeline.
func NewInboundMailTask(cfg *config.InboundConfig, pipeline connector.Handler, opts ...InboundMailTaskOption) runner.Task {
	t := &InboundMailTask{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   log.New(log.Writer(), "[INBOUND-MAIL] ", log.LstdFlags),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	if t.factory == nil {
		t.factory = buildFactory(cfg)
	}
	return t
}

// buildFactory assembles the connector registry, passing the configured
// message size cap down to the fetchers.
func buildFactory(cfg *config.InboundConfig) connector.Factory {
	if cfg == nil || cfg.MaxMessageSize <= 0 {
		return connector.DefaultFactory()
	}
	registry := connector.NewRegistry()
	registry.Register(
		connector.NewPOP3Fetcher(connector.WithPOP3MaxMessageSize(cfg.MaxMessageSize)),
		"pop3", "pop3s", "pop3_tls", "pop3s_tls")
	registry.Register(
		connector.NewIMAPFetcher(connector.WithIMAPMaxMessageSize(cfg.MaxMessageSize)),
		"imap", "imaps", "imap_tls", "imaps_tls", "imaptls")
	return registry
}

// WithInboundMailFactory overrides the connector factory, primarily for tests.
func WithInboundMailFactory(factory connector.Factory) InboundMailTaskOption {
	return func(t *InboundMailTask) {
		if factory != nil {
			t.factory = factory
		}
	}
}

// WithInboundMailDedup enables cross-mailbox duplicate suppression. The same
// notification reply often lands in several polled mailboxes at once.
func WithInboundMailDedup(dedup *service.DedupService) InboundMailTaskOption {
	return func(t *InboundMailTask) {
		if dedup != nil {
			t.dedup = dedup
		}
	}
}

func withInboundMailClaimer(claimer dedupClaimer) InboundMailTaskOption {
	return func(t *InboundMailTask) {
		t.dedup = claimer
	}
}

// WithInboundMailLogger overrides the task logger.
func WithInboundMailLogger(logger *log.Logger) InboundMailTaskOption {
	return func(t *InboundMailTask) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Name returns the task name.
func (t *InboundMailTask) Name() string {
	return "inbound-mail-poller"
}

// Schedule returns the cron schedule, every minute unless configured.
func (t *InboundMailTask) Schedule() string {
	if t.cfg != nil && strings.TrimSpace(t.cfg.PollSchedule) != "" {
		return t.cfg.PollSchedule
	}
	return defaultPollSchedule
}

// Timeout returns the task timeout.
func (t *InboundMailTask) Timeout() time.Duration {
	return 5 * time.Minute
}

// Run polls every configured account once.
func (t *InboundMailTask) Run(ctx context.Context) error {
	if t.cfg == nil || len(t.cfg.Accounts) == 0 {
		return nil
	}
	var firstErr error
	for i, accCfg := range t.cfg.Accounts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		account := t.buildAccount(i+1, accCfg)
		if err := t.pollAccount(ctx, account); err != nil {
			t.logger.Printf("Polling %s account %s failed: %v", account.Type, account.Host, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *InboundMailTask) buildAccount(id int, cfg config.AccountConfig) connector.Account {
	return connector.Account{
		ID:       id,
		Type:     cfg.Type,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: []byte(cfg.Password),
		Folder:   cfg.Folder,
	}
}

func (t *InboundMailTask) pollAccount(ctx context.Context, account connector.Account) error {
	fetcher, err := t.factory.FetcherFor(account)
	if err != nil {
		return err
	}
	return fetcher.Fetch(ctx, account, connector.HandlerFunc(func(ctx context.Context, msg *connector.FetchedMessage) error {
		metrics.MessagesFetched.WithLabelValues(msg.Connector).Inc()
		return t.dispatch(ctx, msg)
	}))
}

// dispatch feeds one message to the pipeline, consulting the dedup claim
// first. A terminal rejection returns nil so the connector deletes the
// message; infrastructure errors release the claim and surface, leaving the
// message in the mailbox.
func (t *InboundMailTask) dispatch(ctx context.Context, msg *connector.FetchedMessage) error {
	messageID := rawMessageID(msg.Raw)
	if messageID == "" {
		// No usable Message-Id header; fall back to the per-mailbox
		// identity so repeated polls still dedup.
		messageID = msg.RemoteID
	}
	if t.dedup != nil && messageID != "" {
		claimed, err := t.dedup.Claim(ctx, messageID)
		if err != nil {
			// Dedup is best effort; process anyway when redis is down.
			t.logger.Printf("Dedup claim failed for %s: %v", messageID, err)
		} else if !claimed {
			t.logger.Printf("Skipping duplicate message %s", messageID)
			return nil
		}
	}

	err := t.pipeline.Handle(ctx, msg)
	if err == nil {
		return nil
	}
	if kind := postmaster.Classify(err); kind != "error" {
		t.logger.Printf("Rejected message %s (%s): %v", msg.UID, kind, err)
		return nil
	}
	if t.dedup != nil && messageID != "" {
		if relErr := t.dedup.Release(ctx, messageID); relErr != nil {
			t.logger.Printf("Dedup release failed for %s: %v", messageID, relErr)
		}
	}
	return fmt.Errorf("process message %s: %w", msg.UID, err)
}

func rawMessageID(raw []byte) string {
	reader, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	id := strings.TrimSpace(reader.Header.Get("Message-Id"))
	id = strings.Trim(id, "<>")
	return strings.TrimSpace(id)
}
