// Package clock abstracts "now" for every staleness decision in the
// service: a JWKS Entry's last_refresh age (internal/jwks), an Authority's
// update_interval/leeway comparisons (internal/authority), and the
// lock-free AtomicTime cell those packages stamp it into. Tests substitute
// FixtureClock so "elapsed since last_refresh" and exp/nbf-plus-leeway
// checks can be asserted deterministically instead of racing the wall
// clock.
package clock

import "time"

// Clock is the seam every staleness check in this service is written
// against, so none of them ever call time.Now() directly.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock is the production Clock: every call delegates straight to
// time.Now().
type SystemClock struct{}

// NewSystemClock returns a Clock backed by the real wall clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current system time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}

// FixtureClock is a Clock a test can move by hand, so a JWKS entry's
// last_refresh or an authority's leeway window can be pushed past due
// without a real sleep.
type FixtureClock struct {
	currentTime time.Time
}

// NewFixtureClock returns a FixtureClock frozen at startTime. A zero
// startTime defaults to time.Now(), so tests that don't care about the
// exact starting instant can pass time.Time{}.
func NewFixtureClock(startTime time.Time) *FixtureClock {
	if startTime.IsZero() {
		startTime = time.Now()
	}
	return &FixtureClock{
		currentTime: startTime,
	}
}

// Now returns the clock's current fixed time.
func (c *FixtureClock) Now() time.Time {
	return c.currentTime
}

// Set pins the clock to t, e.g. to land exactly on a JWKS entry's
// last_refresh timestamp before asserting staleness.
func (c *FixtureClock) Set(t time.Time) {
	c.currentTime = t
}

// Advance moves the clock forward by d — the usual way a test pushes a
// last_refresh or exp/nbf comparison past its threshold.
func (c *FixtureClock) Advance(d time.Duration) {
	c.currentTime = c.currentTime.Add(d)
}

// Rewind moves the clock backward by d.
func (c *FixtureClock) Rewind(d time.Duration) {
	c.currentTime = c.currentTime.Add(-d)
}
