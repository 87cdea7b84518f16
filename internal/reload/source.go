// Package reload implements a reloadable file source: a single
// non-recursively watched path whose parsed value is published behind an
// atomic pointer, with a Wait that wakes on every relevant filesystem
// event.
package reload

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Loader parses the file at path into a T, or returns an error describing
// why it could not. The Source does not interpret the error — it is simply
// stored alongside (or instead of) the parsed value for the caller to
// inspect via Get.
type Loader[T any] func(path string) (T, error)

// ErrorSink receives errors from the underlying filesystem watcher. These
// never poison the Source: the previously published value is retained.
type ErrorSink func(error)

// Value is what Get returns: the most recent Loader outcome.
type Value[T any] struct {
	Result T
	Err    error
}

// Source watches a single path and republishes the result of Loader on
// every relevant filesystem event (Create, Write, Rename, Remove — Chmod
// and other metadata-only events are ignored).
//
// Get never blocks. Wait suspends until the next event observed after the
// call begins; spurious wakeups are permitted.
type Source[T any] struct {
	path   string
	loader Loader[T]
	onErr  ErrorSink

	current atomic.Pointer[Value[T]]

	mu      sync.Mutex
	waiters []chan struct{}

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a Source, performs the initial load synchronously, and starts
// the background watch goroutine. If the initial load fails, New still
// succeeds (the error is stored as the initial Value) — only a failure to
// create the underlying OS watcher or to add path to it is fatal; a bad
// file is a load failure, not a bootstrap failure.
func New[T any](path string, loader Loader[T], onErr ErrorSink) (*Source[T], error) {
	if onErr == nil {
		onErr = func(error) {}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &Source[T]{
		path:    path,
		loader:  loader,
		onErr:   onErr,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	s.load()

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go s.watch()

	return s, nil
}

func (s *Source[T]) load() {
	result, err := s.loader(s.path)
	s.current.Store(&Value[T]{Result: result, Err: err})
	s.wakeWaiters()
}

func (s *Source[T]) watch() {
	defer close(s.done)
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if isRelevant(event) {
				s.load()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.onErr(err)
		}
	}
}

// isRelevant reports whether an fsnotify event should trigger a reload.
// Access and other metadata-only events (permissions, chmod) are ignored.
func isRelevant(event fsnotify.Event) bool {
	return event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}

// Get returns a snapshot of the most recently published Value. It never
// blocks.
func (s *Source[T]) Get() Value[T] {
	return *s.current.Load()
}

// Wait blocks until the next reload after the call begins (whether or not
// the Loader returned an error), or returns immediately if the Source has
// already been closed.
// Spurious wakeups are permitted — callers should re-check Get().
func (s *Source[T]) Wait() {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
	case <-s.done:
	}
}

func (s *Source[T]) wakeWaiters() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// Close stops the filesystem watcher. The Source's lifetime is bound to
// the watcher it owns, so once Close returns no further reloads happen.
func (s *Source[T]) Close() error {
	err := s.watcher.Close()
	<-s.done
	return err
}
