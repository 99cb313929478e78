// Package clock provides time sources for services and a monotonic
// timestamp generator used to order messages.
package clock

import (
	"sync"
	"time"
)

// Resolution is the granularity of timestamps persisted by the store
// (PostgreSQL timestamptz keeps microseconds).
const Resolution = time.Microsecond

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

// Now implements Clock.
func (f Func) Now() time.Time { return f() }

// System is the wall clock in UTC.
var System Clock = Func(func() time.Time { return time.Now().UTC() })

// Monotonic hands out strictly increasing timestamps at Resolution.
// Two calls within the same microsecond (or a clock that goes backwards)
// still produce ordered values: the later call is bumped one tick past
// the previous result.
type Monotonic struct {
	mu   sync.Mutex
	base Clock
	last time.Time
}

// NewMonotonic wraps base. A nil base uses System.
func NewMonotonic(base Clock) *Monotonic {
	if base == nil {
		base = System
	}
	return &Monotonic{base: base}
}

// Now implements Clock.
func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.base.Now().Truncate(Resolution)
	if !t.After(m.last) {
		t = m.last.Add(Resolution)
	}
	m.last = t
	return t
}
