// Package runtime owns the atomically-swapped {authorities, validators}
// snapshot and the reload loop that rebuilds it from configuration
// changes.
package runtime

import (
	"sync/atomic"

	"github.com/tooboredtocode/jwt-forward-auth/internal/authority"
	"github.com/tooboredtocode/jwt-forward-auth/internal/validator"
)

// Store is an atomically swappable name -> entry map. Reads never block
// writers: Update builds the full replacement map and swaps it in with a
// single pointer store.
type Store[T any] struct {
	current atomic.Pointer[map[string]T]
}

// NewStore returns a Store with an empty map already published, so Get
// never has to special-case a nil pointer.
func NewStore[T any]() *Store[T] {
	s := &Store[T]{}
	empty := map[string]T{}
	s.current.Store(&empty)
	return s
}

// Update replaces the entire map. There is no per-entry incremental merge.
func (s *Store[T]) Update(m map[string]T) {
	s.current.Store(&m)
}

// Get returns the entry for name and whether it was present.
func (s *Store[T]) Get(name string) (T, bool) {
	m := *s.current.Load()
	v, ok := m[name]
	return v, ok
}

// Keys returns the names currently published.
func (s *Store[T]) Keys() []string {
	m := *s.current.Load()
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Clear republishes an empty map. Used on fatal reload failure so the
// handler answers 401 for everything until the configuration is fixed.
func (s *Store[T]) Clear() {
	s.Update(map[string]T{})
}

// Snapshot bundles the authority store and validator store that the
// request handler reads from on every request.
type Snapshot struct {
	Authorities *Store[*authority.Authority]
	Validators  *Store[*validator.Validator]
}

// NewSnapshot returns a Snapshot with both stores empty.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Authorities: NewStore[*authority.Authority](),
		Validators:  NewStore[*validator.Validator](),
	}
}
