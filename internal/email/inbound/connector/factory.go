package connector

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps account types to the fetcher that serves them. It
// implements Factory.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]Fetcher
}

// NewRegistry returns an empty connector registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[string]Fetcher)}
}

// DefaultFactory returns a registry preloaded with the built-in POP3 and
// IMAP connectors.
func DefaultFactory() Factory {
	r := NewRegistry()
	r.Register(NewPOP3Fetcher(), "pop3", "pop3s", "pop3_tls", "pop3s_tls")
	r.Register(NewIMAPFetcher(), "imap", "imaps", "imap_tls", "imaps_tls", "imaptls")
	return r
}

// Register binds a fetcher to one or more account types. Later
// registrations override earlier ones.
func (r *Registry) Register(fetcher Fetcher, accountTypes ...string) {
	if fetcher == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range accountTypes {
		if key := normalizeType(t); key != "" {
			r.byType[key] = fetcher
		}
	}
}

// FetcherFor implements Factory.
func (r *Registry) FetcherFor(account Account) (Fetcher, error) {
	r.mu.RLock()
	fetcher, ok := r.byType[normalizeType(account.Type)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no connector registered for account type %q (have %s)",
			account.Type, strings.Join(r.registeredTypes(), ", "))
	}
	return fetcher, nil
}

func (r *Registry) registeredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func normalizeType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
