package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// Config bounds one breaker's state machine.
type Config struct {
	FailureThreshold    int
	SuccessThreshold    int
	FailureRateThreshold float64
	MinimumRequests     int
	RecoveryTimeout     time.Duration
	MaxRecoveryTimeout  time.Duration
	BackoffMultiplier   float64
	HalfOpenMaxRequests int
	MetricsWindow       time.Duration
	FailureStatusCodes  map[int]bool
	RequestTimeout      time.Duration
}

// DefaultConfig returns sane defaults for a moderately trafficked upstream.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     3,
		SuccessThreshold:     2,
		FailureRateThreshold: 0.5,
		MinimumRequests:      10,
		RecoveryTimeout:      5 * time.Second,
		MaxRecoveryTimeout:   60 * time.Second,
		BackoffMultiplier:    2,
		HalfOpenMaxRequests:  1,
		MetricsWindow:        60 * time.Second,
		FailureStatusCodes:   map[int]bool{500: true, 502: true, 503: true, 504: true},
		RequestTimeout:       10 * time.Second,
	}
}

// CircuitBreaker is a single named breaker's CLOSED/OPEN/HALF_OPEN state
// machine. One mutex guards the whole struct: a sync.Map-of-atomics
// approach suits a single is-open flag, but the rolling window and the
// mutual-exclusion invariant between consecutive-success/failure streaks
// are easier to keep correct under one lock than spread across several
// atomics.
type CircuitBreaker struct {
	name   string
	cfg    Config
	mu     sync.Mutex
	state  domain.BreakerState
	stats  domain.BreakerStats
	window []domain.RequestRecord

	halfOpenInFlight int
	backoffCount     int
}

func New(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: domain.BreakerClosed,
		stats: domain.BreakerStats{LastStateChange: time.Now()},
	}
}

// Allow implements can_proceed(): true in CLOSED, a timer-gated transition
// to HALF_OPEN in OPEN, and an admission count against
// half_open_max_requests in HALF_OPEN.
func (cb *CircuitBreaker) Allow(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case domain.BreakerClosed:
		cb.stats.TotalRequests++
		return nil

	case domain.BreakerOpen:
		if now.Sub(cb.stats.LastStateChange) >= cb.effectiveRecoveryTimeout() {
			cb.transitionLocked(domain.BreakerHalfOpen, now)
			cb.halfOpenInFlight = 1
			cb.stats.TotalRequests++
			return nil
		}
		cb.stats.RejectedRequests++
		return ports.ErrCircuitBreakerOpen

	case domain.BreakerHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxRequests {
			cb.stats.RejectedRequests++
			return ports.ErrCircuitBreakerOpen
		}
		cb.halfOpenInFlight++
		cb.stats.TotalRequests++
		return nil

	default:
		return ports.ErrCircuitBreakerOpen
	}
}

func (cb *CircuitBreaker) effectiveRecoveryTimeout() time.Duration {
	if cb.cfg.BackoffMultiplier <= 0 || cb.backoffCount == 0 {
		return cb.cfg.RecoveryTimeout
	}
	mult := 1.0
	for i := 0; i < cb.backoffCount; i++ {
		mult *= cb.cfg.BackoffMultiplier
	}
	timeout := time.Duration(float64(cb.cfg.RecoveryTimeout) * mult)
	if cb.cfg.MaxRecoveryTimeout > 0 && timeout > cb.cfg.MaxRecoveryTimeout {
		return cb.cfg.MaxRecoveryTimeout
	}
	return timeout
}

func (cb *CircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.pruneLocked(now)
	cb.window = append(cb.window, domain.RequestRecord{Timestamp: now, Success: true})

	cb.stats.SuccessfulRequests++
	cb.stats.ConsecutiveSuccesses++
	cb.stats.ConsecutiveFailures = 0
	cb.stats.LastSuccessTime = now

	if cb.state == domain.BreakerHalfOpen {
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		if cb.stats.ConsecutiveSuccesses >= int64(cb.cfg.SuccessThreshold) {
			cb.backoffCount = 0
			cb.transitionLocked(domain.BreakerClosed, now)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure(ctx context.Context) {
	cb.recordBadOutcome(false)
}

// RecordTimeout is a failure for state-machine purposes but tallied
// separately in TimeoutRequests.
func (cb *CircuitBreaker) RecordTimeout(ctx context.Context) {
	cb.recordBadOutcome(true)
}

func (cb *CircuitBreaker) recordBadOutcome(timeout bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.pruneLocked(now)
	cb.window = append(cb.window, domain.RequestRecord{Timestamp: now, Success: false})

	cb.stats.FailedRequests++
	if timeout {
		cb.stats.TimeoutRequests++
	}
	cb.stats.ConsecutiveFailures++
	cb.stats.ConsecutiveSuccesses = 0
	cb.stats.LastFailureTime = now

	switch cb.state {
	case domain.BreakerHalfOpen:
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		cb.backoffCount++
		cb.transitionLocked(domain.BreakerOpen, now)

	case domain.BreakerClosed:
		if cb.stats.ConsecutiveFailures >= int64(cb.cfg.FailureThreshold) || cb.rollingFailureRateLocked() {
			cb.backoffCount++
			cb.transitionLocked(domain.BreakerOpen, now)
		}
	}
}

func (cb *CircuitBreaker) rollingFailureRateLocked() bool {
	if len(cb.window) < cb.cfg.MinimumRequests {
		return false
	}
	failures := 0
	for _, rec := range cb.window {
		if !rec.Success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(cb.window))
	return rate >= cb.cfg.FailureRateThreshold
}

// pruneLocked drops window entries older than cfg.MetricsWindow, lazily on
// every record call, and also bounds the window to 2*MinimumRequests so
// sustained high-churn traffic can't grow it unboundedly between prunes.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	if cb.cfg.MetricsWindow > 0 {
		cutoff := now.Add(-cb.cfg.MetricsWindow)
		i := 0
		for i < len(cb.window) && cb.window[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			cb.window = cb.window[i:]
		}
	}

	if windowCap := 2 * cb.cfg.MinimumRequests; windowCap > 0 && len(cb.window) > windowCap {
		cb.window = cb.window[len(cb.window)-windowCap:]
	}
}

func (cb *CircuitBreaker) transitionLocked(to domain.BreakerState, now time.Time) {
	cb.state = to
	cb.stats.LastStateChange = now
	cb.stats.State = to
	cb.halfOpenInFlight = 0
	cb.stats.BackoffCount = int64(cb.backoffCount)
}

func (cb *CircuitBreaker) State() domain.BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() domain.BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	stats := cb.stats
	stats.State = cb.state
	return stats
}

// IsFailureStatus implements the status half of the HTTP mapping: it
// reports whether statusCode is in FailureStatusCodes. It does not look at
// elapsed time; a call that exceeds RequestTimeout is recorded by the
// caller through RecordTimeout.
func (cb *CircuitBreaker) IsFailureStatus(statusCode int) bool {
	return cb.cfg.FailureStatusCodes[statusCode]
}

// RequestTimeout is the configured per-call deadline the caller should
// race its round trip against; an attempt that exceeds it is a TIMEOUT,
// not a FAILURE, for §4.B's retry-policy distinction.
func (cb *CircuitBreaker) RequestTimeout() time.Duration {
	return cb.cfg.RequestTimeout
}
