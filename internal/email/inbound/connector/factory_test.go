package connector

import (
	"context"
	"strings"
	"testing"
)

type noopFetcher struct {
	name string
}

func (f *noopFetcher) Name() string { return f.name }

func (f *noopFetcher) Fetch(ctx context.Context, account Account, handler Handler) error {
	return nil
}

func TestRegistryReturnsRegisteredFetcher(t *testing.T) {
	pop := &noopFetcher{name: "pop3"}
	imap := &noopFetcher{name: "imap"}
	registry := NewRegistry()
	registry.Register(pop, "pop3", "pop3s")
	registry.Register(imap, "imap", "IMAPS")

	cases := []struct {
		accountType string
		want        string
	}{
		{"pop3", "pop3"},
		{"POP3S", "pop3"},
		{"imap", "imap"},
		{" imaps ", "imap"},
	}
	for _, tc := range cases {
		fetcher, err := registry.FetcherFor(Account{Type: tc.accountType})
		if err != nil {
			t.Fatalf("FetcherFor(%q) returned error: %v", tc.accountType, err)
		}
		if fetcher.Name() != tc.want {
			t.Fatalf("FetcherFor(%q) = %s, want %s", tc.accountType, fetcher.Name(), tc.want)
		}
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&noopFetcher{name: "pop3"}, "pop3")

	_, err := registry.FetcherFor(Account{Type: "smtp"})
	if err == nil {
		t.Fatal("expected error for unregistered account type")
	}
	if !strings.Contains(err.Error(), "pop3") {
		t.Fatalf("error should list registered types, got %v", err)
	}
}

func TestRegistryLaterRegistrationWins(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&noopFetcher{name: "first"}, "pop3")
	registry.Register(&noopFetcher{name: "second"}, "pop3")

	fetcher, err := registry.FetcherFor(Account{Type: "pop3"})
	if err != nil {
		t.Fatalf("FetcherFor returned error: %v", err)
	}
	if fetcher.Name() != "second" {
		t.Fatalf("expected override to win, got %s", fetcher.Name())
	}
}

func TestDefaultFactoryCoversBuiltinTypes(t *testing.T) {
	factory := DefaultFactory()

	for _, accountType := range []string{"pop3", "pop3s", "imap", "imaps", "imap_tls"} {
		if _, err := factory.FetcherFor(Account{Type: accountType}); err != nil {
			t.Fatalf("DefaultFactory missing %s: %v", accountType, err)
		}
	}
}

func TestAccountRemoteID(t *testing.T) {
	acc := Account{Username: "replies@mail.example.com", Host: "mail.example.com"}
	if got := acc.RemoteID("11"); got != "replies@mail.example.com@mail.example.com:11" {
		t.Fatalf("RemoteID = %q", got)
	}
	anon := Account{Host: "mail.example.com"}
	if got := anon.RemoteID("11"); got != "mail.example.com:11" {
		t.Fatalf("RemoteID without username = %q", got)
	}
}
