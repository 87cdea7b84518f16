package clock

import (
	"sync/atomic"
	"time"
)

// AtomicTime is a lock-free time cell storing microseconds since the Unix
// epoch. It is used to stamp "last refreshed at" timestamps that are read
// far more often than they are written and must never block a reader.
//
// The zero value is a valid AtomicTime representing "never set".
type AtomicTime struct {
	micros atomic.Int64
}

// Store records t as the current value. Ordering between concurrent Store
// calls is not defined beyond "last write observed wins" — callers that
// race to Store are expected to all be writing equally-valid refreshes.
func (a *AtomicTime) Store(t time.Time) {
	a.micros.Store(t.UnixMicro())
}

// Load returns the last stored time, or the zero time.Time if Store has
// never been called.
func (a *AtomicTime) Load() time.Time {
	us := a.micros.Load()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us)
}

// IsZero reports whether Store has never been called.
func (a *AtomicTime) IsZero() bool {
	return a.micros.Load() == 0
}
