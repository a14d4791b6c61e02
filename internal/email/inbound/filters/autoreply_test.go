package filters

import (
	"context"
	"errors"
	"testing"

	"github.com/replyflow-io/replyflow/internal/email/inbound/connector"
)

func messageContext(raw string) *MessageContext {
	return &MessageContext{
		Message:     &connector.FetchedMessage{Raw: []byte(raw)},
		Annotations: map[string]any{},
	}
}

func TestAutoReplyFilterRejectsAutoSubmitted(t *testing.T) {
	filter := NewAutoReplyFilter(nil, nil)
	m := messageContext("Auto-Submitted: auto-replied\r\nFrom: a@b.c\r\n\r\nI am away\r\n")
	err := filter.Apply(context.Background(), m)
	if !errors.Is(err, ErrAutoGenerated) {
		t.Fatalf("expected ErrAutoGenerated, got %v", err)
	}
}

func TestAutoReplyFilterAllowsAutoSubmittedNo(t *testing.T) {
	filter := NewAutoReplyFilter(nil, nil)
	m := messageContext("Auto-Submitted: no\r\nFrom: a@b.c\r\n\r\nHi\r\n")
	if err := filter.Apply(context.Background(), m); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestAutoReplyFilterRejectsSuppressionHeader(t *testing.T) {
	filter := NewAutoReplyFilter(nil, nil)
	m := messageContext("X-Auto-Response-Suppress: All\r\nFrom: a@b.c\r\n\r\nHi\r\n")
	if !errors.Is(filter.Apply(context.Background(), m), ErrAutoGenerated) {
		t.Fatalf("expected rejection for suppression header")
	}
}

func TestAutoReplyFilterRejectsAnyValueIndicator(t *testing.T) {
	filter := NewAutoReplyFilter(nil, nil)
	m := messageContext("X-Autorespond: whatever\r\nFrom: a@b.c\r\n\r\nHi\r\n")
	if !errors.Is(filter.Apply(context.Background(), m), ErrAutoGenerated) {
		t.Fatalf("expected rejection for X-Autorespond")
	}
}

func TestAutoReplyFilterHonorsOverrides(t *testing.T) {
	filter := NewAutoReplyFilter(nil, []string{"X-Bulk-Mailer: yes"})
	m := messageContext("X-Bulk-Mailer: yes\r\nFrom: a@b.c\r\n\r\nHi\r\n")
	if !errors.Is(filter.Apply(context.Background(), m), ErrAutoGenerated) {
		t.Fatalf("expected rejection for override header")
	}
	// Overrides replace the built-in set.
	m = messageContext("Auto-Submitted: auto-replied\r\nFrom: a@b.c\r\n\r\nHi\r\n")
	if err := filter.Apply(context.Background(), m); err != nil {
		t.Fatalf("expected built-ins disabled by override, got %v", err)
	}
}

func TestAutoReplyFilterPassesMalformedThrough(t *testing.T) {
	filter := NewAutoReplyFilter(nil, nil)
	m := messageContext("not an email at all")
	if err := filter.Apply(context.Background(), m); err != nil {
		t.Fatalf("expected malformed input passed to parser stage, got %v", err)
	}
}
