package domain

import "time"

// BreakerState is the circuit breaker's CLOSED/OPEN/HALF_OPEN state machine
// position.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// GaugeValue maps the state onto the 0/1/2 convention the metrics
// exposition uses for gateway_circuit_breaker_state.
func (s BreakerState) GaugeValue() float64 {
	return float64(s)
}

// BreakerOutcome is what a guarded call reported back to the breaker.
type BreakerOutcome int

const (
	OutcomeSuccess BreakerOutcome = iota
	OutcomeFailure
	OutcomeTimeout
	OutcomeCircuitOpen
)

func (o BreakerOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// BreakerStats is the observable snapshot of a single breaker, exposed on
// the admin surface and used by tests to assert state-transition and
// rolling-window invariants.
type BreakerStats struct {
	LastFailureTime     time.Time
	LastSuccessTime     time.Time
	LastStateChange     time.Time
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	RejectedRequests    int64
	TimeoutRequests     int64
	ConsecutiveFailures int64
	ConsecutiveSuccesses int64
	BackoffCount        int64
	State               BreakerState
}

// RequestRecord is one entry in a breaker's rolling window.
type RequestRecord struct {
	Timestamp time.Time
	Success   bool
}
