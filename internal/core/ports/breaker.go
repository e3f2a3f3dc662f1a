package ports

import (
	"context"
	"errors"
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

// ErrCircuitBreakerOpen is returned by Breaker.Allow when the circuit is in
// the OPEN state and its cooldown hasn't elapsed.
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// Breaker guards a single upstream: Allow gates admission,
// RecordSuccess/RecordFailure feed the rolling window that drives state
// transitions.
type Breaker interface {
	Allow(ctx context.Context) error
	RecordSuccess(ctx context.Context)
	RecordFailure(ctx context.Context)
	RecordTimeout(ctx context.Context)
	State() domain.BreakerState
	Stats() domain.BreakerStats
	IsFailureStatus(statusCode int) bool
	RequestTimeout() time.Duration
}

// BreakerRegistry owns one Breaker per upstream key, creating on first use.
type BreakerRegistry interface {
	Get(key string) Breaker
	Remove(key string)
	Snapshot() map[string]domain.BreakerStats
}
