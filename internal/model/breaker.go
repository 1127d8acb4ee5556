package model

import "time"

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	// BreakerClosed allows all calls through.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen fast-fails all calls until the open timeout elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen allows a single trial call through.
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerSnapshot is a read-only view of a circuit breaker.
type BreakerSnapshot struct {
	Name              string       `json:"name"`
	State             BreakerState `json:"state"`
	FailureCount      int32        `json:"failure_count"`
	SuccessCount      int32        `json:"success_count"`
	LastStateChangeAt time.Time    `json:"last_state_change_at"`
}

// CircuitOpenedEvent represents a breaker tripping open.
type CircuitOpenedEvent struct {
	Name         string
	FailureCount int32
	OpenedAt     time.Time
}

// CircuitRecoveredEvent represents a breaker closing after successful trials.
type CircuitRecoveredEvent struct {
	Name        string
	TrialCount  int32
	RecoverTime time.Duration
}
