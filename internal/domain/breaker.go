package domain

import "time"

// BreakerState is a per-purpose circuit breaker state.
type BreakerState struct {
	Purpose        string
	State          CircuitState
	OpenUntil      time.Time
	TripCount      int
	LastTripReason string
	LastTripTime   time.Time
}

type CircuitState string

const (
	CircuitClosed CircuitState = "closed"
	CircuitOpen   CircuitState = "open"
)
