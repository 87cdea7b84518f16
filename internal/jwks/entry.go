// Package jwks caches JSON Web Key Sets fetched over HTTP, deduplicated per
// URI across every authority that references them.
package jwks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/tooboredtocode/jwt-forward-auth/internal/clock"
)

// snapshot is the immutable result of the last successful fetch for one
// URI: the parsed key set plus the validators needed for a conditional GET.
type snapshot struct {
	set          jwk.Set
	etag         string
	lastModified string
}

// Entry tracks one JWKS URI: its most recently fetched key set and when it
// was last refreshed. The read path (Set) never blocks on network I/O —
// only Refresh does, and Refresh swaps the snapshot atomically so readers
// never observe a partially updated set.
type Entry struct {
	uri    string
	client *http.Client
	clk    clock.Clock

	current     atomic.Pointer[snapshot]
	lastRefresh clock.AtomicTime
}

func newEntry(uri string, client *http.Client, clk clock.Clock) *Entry {
	e := &Entry{uri: uri, client: client, clk: clk}
	e.current.Store(&snapshot{})
	return e
}

// Set returns the most recently fetched key set, or ok=false if the URI has
// never been successfully fetched.
func (e *Entry) Set() (jwk.Set, bool) {
	s := e.current.Load()
	if s == nil || s.set == nil {
		return nil, false
	}
	return s.set, true
}

// LastRefresh reports when this entry last swapped in a key set from a 2xx
// response, or the zero time if that has never happened. A 304 response
// does not update it.
func (e *Entry) LastRefresh() time.Time {
	return e.lastRefresh.Load()
}

// Refresh performs a conditional GET against the entry's URI: an ETag /
// Last-Modified from the previous fetch is sent as
// If-None-Match / If-Modified-Since, a 304 response leaves the cached set
// untouched, and a 2xx response replaces it. Only a 2xx response whose body
// parses stamps LastRefresh; a 304 returns nil without stamping it, and a
// transport error, a parse failure or any other status returns an error and
// leaves both the set and LastRefresh unchanged.
func (e *Entry) Refresh(ctx context.Context) error {
	prev := e.current.Load()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.uri, nil)
	if err != nil {
		return fmt.Errorf("build jwks request for %s: %w", e.uri, err)
	}
	if prev != nil {
		if prev.etag != "" {
			req.Header.Set("If-None-Match", prev.etag)
		}
		if prev.lastModified != "" {
			req.Header.Set("If-Modified-Since", prev.lastModified)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks from %s: %w", e.uri, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		// Per spec, a 304 leaves last_refresh untouched — it is not a
		// state change, so RefreshIfStale still measures staleness from
		// the last 2xx fetch.
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return fmt.Errorf("read jwks response from %s: %w", e.uri, err)
		}
		set, err := jwk.Parse(bytes.TrimSpace(body))
		if err != nil {
			return fmt.Errorf("parse jwks from %s: %w", e.uri, err)
		}
		e.current.Store(&snapshot{
			set:          set,
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
		})
		e.lastRefresh.Store(e.clk.Now())
		return nil
	default:
		return fmt.Errorf("fetch jwks from %s: unexpected status %d", e.uri, resp.StatusCode)
	}
}

// RefreshIfStale refreshes the entry only if it has never been fetched or
// its last successful refresh is older than minAge. This bounds how often
// an on-demand refresh (e.g. triggered by an unrecognized kid) can hit the
// network for a single key set.
func (e *Entry) RefreshIfStale(ctx context.Context, minAge time.Duration) error {
	last := e.lastRefresh.Load()
	if !last.IsZero() && e.clk.Now().Sub(last) < minAge {
		return nil
	}
	return e.Refresh(ctx)
}
