package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/tooboredtocode/jwt-forward-auth/internal/clock"
)

// Store holds one Entry per distinct JWKS URI, shared across every
// authority that references the same URI.
type Store struct {
	client *http.Client
	clk    clock.Clock

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewStore constructs an empty Store. client is shared by every Entry's
// conditional GETs; a nil client falls back to http.DefaultClient.
func NewStore(client *http.Client, clk clock.Clock) *Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{client: client, clk: clk, entries: make(map[string]*Entry)}
}

// Ensure returns the Entry for uri, creating an empty, unfetched one if
// this is the first authority to reference it.
func (s *Store) Ensure(uri string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[uri]
	if !ok {
		e = newEntry(uri, s.client, s.clk)
		s.entries[uri] = e
	}
	return e
}

// Get returns the Entry for uri without creating it, or nil if no
// authority currently references that URI.
func (s *Store) Get(uri string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[uri]
}

// Prune removes every entry whose URI is not in keep. Called after a
// config reload so JWKS no longer referenced by any authority are dropped
// rather than refreshed forever.
func (s *Store) Prune(keep map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uri := range s.entries {
		if _, ok := keep[uri]; !ok {
			delete(s.entries, uri)
		}
	}
}

// Clear removes every entry. Used when configuration becomes invalid and
// the runtime has nothing trustworthy left to serve.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
}

// uris returns a snapshot of the currently tracked URIs.
func (s *Store) uris() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for uri := range s.entries {
		out = append(out, uri)
	}
	return out
}

// RefreshAll refreshes every tracked entry, unconditionally. Called once
// at boot after the first config load succeeds.
func (s *Store) RefreshAll(ctx context.Context) error {
	return s.refreshMatching(ctx, func(e *Entry) bool { return true })
}

// RefreshNew refreshes only entries that have never been successfully
// fetched. Called after a config reload so JWKS already warm are left
// alone and only newly referenced URIs pay the fetch cost immediately.
func (s *Store) RefreshNew(ctx context.Context) error {
	return s.refreshMatching(ctx, func(e *Entry) bool { return e.LastRefresh().IsZero() })
}

// refreshMatching fans out one goroutine per matching entry so the total
// wall time is bounded by the slowest single JWKS endpoint, not the sum of
// all of them — refreshes of distinct entries are independent (spec
// "all refresh operations are safe under concurrent invocation").
func (s *Store) refreshMatching(ctx context.Context, match func(*Entry) bool) error {
	uris := s.uris()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, uri := range uris {
		e := s.Get(uri)
		if e == nil || !match(e) {
			continue
		}
		wg.Add(1)
		go func(uri string, e *Entry) {
			defer wg.Done()
			if err := e.Refresh(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("uri %s: %w", uri, err))
				mu.Unlock()
			}
		}(uri, e)
	}
	wg.Wait()

	return errors.Join(errs...)
}
