package jwks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tooboredtocode/jwt-forward-auth/internal/clock"
)

func TestStore_Ensure_DedupesByURI(t *testing.T) {
	s := NewStore(http.DefaultClient, clock.NewSystemClock())
	a := s.Ensure("https://example.com/jwks.json")
	b := s.Ensure("https://example.com/jwks.json")
	if a != b {
		t.Fatalf("expected Ensure to dedupe same URI to the same entry")
	}
}

func TestStore_RefreshAll_FetchesEveryEntry(t *testing.T) {
	set := testJWKS(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(set)
	}))
	defer server.Close()

	s := NewStore(server.Client(), clock.NewSystemClock())
	s.Ensure(server.URL + "/a")
	s.Ensure(server.URL + "/b")

	if err := s.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	for _, uri := range []string{server.URL + "/a", server.URL + "/b"} {
		if _, ok := s.Get(uri).Set(); !ok {
			t.Fatalf("expected %s to be populated after RefreshAll", uri)
		}
	}
}

func TestStore_RefreshNew_OnlyRefreshesUnfetchedEntries(t *testing.T) {
	set := testJWKS(t)
	var hitsA, hitsB int
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		hitsA++
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		hitsB++
		_ = json.NewEncoder(w).Encode(set)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s := NewStore(server.Client(), clock.NewSystemClock())
	s.Ensure(server.URL + "/a")
	if err := s.RefreshAll(context.Background()); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	s.Ensure(server.URL + "/b")
	if err := s.RefreshNew(context.Background()); err != nil {
		t.Fatalf("RefreshNew: %v", err)
	}

	if hitsA != 1 {
		t.Fatalf("expected /a to be fetched only once (already warm), got %d", hitsA)
	}
	if hitsB != 1 {
		t.Fatalf("expected /b to be fetched as a new entry, got %d", hitsB)
	}
}

func TestStore_Prune_RemovesUnreferencedEntries(t *testing.T) {
	s := NewStore(http.DefaultClient, clock.NewSystemClock())
	s.Ensure("https://example.com/a")
	s.Ensure("https://example.com/b")

	s.Prune(map[string]struct{}{"https://example.com/a": {}})

	if s.Get("https://example.com/b") != nil {
		t.Fatalf("expected unreferenced entry to be pruned")
	}
	if s.Get("https://example.com/a") == nil {
		t.Fatalf("expected referenced entry to survive prune")
	}
}

func TestStore_Clear_RemovesEverything(t *testing.T) {
	s := NewStore(http.DefaultClient, clock.NewSystemClock())
	s.Ensure("https://example.com/a")
	s.Clear()
	if s.Get("https://example.com/a") != nil {
		t.Fatalf("expected Clear to remove all entries")
	}
}
