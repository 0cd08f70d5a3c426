// Package breaker implements a per-purpose circuit breaker that trips when
// its associated key pool reports every key long-cooling or disabled, and
// resets once the open window elapses.
package breaker

import (
	"sync"
	"time"

	"github.com/1morr/anidown/internal/domain"
	"github.com/1morr/anidown/internal/metrics"
)

// DefaultOpenDuration is used by Trip when the caller passes d <= 0.
const DefaultOpenDuration = 300 * time.Second

// Breaker is a single-purpose circuit breaker. It does not poll the key
// pool itself — callers (the AI Client) call Trip when the pool reports
// AllInLongCooling, and IsOpen before attempting a call.
type Breaker struct {
	mu sync.Mutex

	purpose string
	state   domain.BreakerState

	now func() time.Time
}

// New builds a closed Breaker for one purpose.
func New(purpose string) *Breaker {
	return &Breaker{
		purpose: purpose,
		state: domain.BreakerState{
			Purpose: purpose,
			State:   domain.CircuitClosed,
		},
		now: time.Now,
	}
}

// IsOpen reports whether the breaker currently blocks calls. An open
// breaker whose window has elapsed self-transitions to closed here, so
// callers never need a separate reset step.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.State != domain.CircuitOpen {
		return false
	}
	if !b.now().Before(b.state.OpenUntil) {
		b.state.State = domain.CircuitClosed
		metrics.BreakerOpen.WithLabelValues(b.purpose).Set(0)
		return false
	}
	return true
}

// Trip opens the breaker for d (DefaultOpenDuration when d <= 0), recording
// reason and incrementing trip count. Calling Trip while already open
// extends the window and counts as another trip.
func (b *Breaker) Trip(d time.Duration, reason string) {
	if d <= 0 {
		d = DefaultOpenDuration
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.state.State = domain.CircuitOpen
	b.state.OpenUntil = now.Add(d)
	b.state.TripCount++
	b.state.LastTripReason = reason
	b.state.LastTripTime = now
	metrics.BreakerTripsTotal.WithLabelValues(b.purpose).Inc()
	metrics.BreakerOpen.WithLabelValues(b.purpose).Set(1)
}

// Reset forces the breaker closed, independent of the open window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.State = domain.CircuitClosed
	b.state.OpenUntil = time.Time{}
	metrics.BreakerOpen.WithLabelValues(b.purpose).Set(0)
}

// Status returns a copy of the breaker's current state.
func (b *Breaker) Status() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.State == domain.CircuitOpen && !b.now().Before(b.state.OpenUntil) {
		b.state.State = domain.CircuitClosed
	}
	return b.state
}
