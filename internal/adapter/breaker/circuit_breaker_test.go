package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// Seed scenario 2 from §8: three failures trip the breaker OPEN, it stays
// rejecting until recovery_timeout elapses, then admits a HALF_OPEN probe
// and closes again after success_threshold successes with backoff reset.
func TestCircuitBreaker_OpenRecoverClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.RecoveryTimeout = 100 * time.Millisecond
	cb := New("test", cfg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow(ctx))
		cb.RecordFailure(ctx)
	}
	assert.Equal(t, domain.BreakerOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(ctx), ports.ErrCircuitBreakerOpen)

	// The trip into OPEN already bumped the backoff counter to 1, so with
	// the default multiplier of 2 the effective recovery timeout is 200ms.
	time.Sleep(220 * time.Millisecond)

	require.NoError(t, cb.Allow(ctx))
	assert.Equal(t, domain.BreakerHalfOpen, cb.State())

	cb.RecordSuccess(ctx)
	assert.Equal(t, domain.BreakerHalfOpen, cb.State())

	require.NoError(t, cb.Allow(ctx))
	cb.RecordSuccess(ctx)
	assert.Equal(t, domain.BreakerClosed, cb.State())
	assert.EqualValues(t, 0, cb.Stats().BackoffCount)
}

// A single failure in HALF_OPEN immediately trips back to OPEN and bumps
// the backoff counter.
func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cb := New("test", cfg)
	ctx := context.Background()

	require.NoError(t, cb.Allow(ctx))
	cb.RecordFailure(ctx)
	assert.Equal(t, domain.BreakerOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow(ctx))
	assert.Equal(t, domain.BreakerHalfOpen, cb.State())

	cb.RecordFailure(ctx)
	assert.Equal(t, domain.BreakerOpen, cb.State())
	assert.EqualValues(t, 2, cb.Stats().BackoffCount)
}

// HALF_OPEN admits at most half_open_max_requests concurrent probes before
// rejecting further callers.
func TestCircuitBreaker_HalfOpenAdmitsBoundedProbes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cfg.HalfOpenMaxRequests = 1
	cb := New("test", cfg)
	ctx := context.Background()

	require.NoError(t, cb.Allow(ctx))
	cb.RecordFailure(ctx)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Allow(ctx))
	assert.ErrorIs(t, cb.Allow(ctx), ports.ErrCircuitBreakerOpen)
}

// Backoff grows the effective recovery timeout exponentially on repeated
// trips, bounded by max_recovery_timeout.
func TestCircuitBreaker_BackoffGrowsAndCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 10 * time.Millisecond
	cfg.MaxRecoveryTimeout = 15 * time.Millisecond
	cfg.BackoffMultiplier = 10
	cb := New("test", cfg)
	ctx := context.Background()

	require.NoError(t, cb.Allow(ctx))
	cb.RecordFailure(ctx)
	assert.Equal(t, domain.BreakerOpen, cb.State())

	// First backoff multiplies recovery_timeout by 10 but the cap holds it
	// at max_recovery_timeout, so it reopens well before the uncapped 100ms.
	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, cb.Allow(ctx))
}

// Consecutive success/failure streaks are mutually exclusive: recording a
// success resets the failure streak and vice versa.
func TestCircuitBreaker_ConsecutiveStreaksAreExclusive(t *testing.T) {
	cb := New("test", DefaultConfig())
	ctx := context.Background()

	require.NoError(t, cb.Allow(ctx))
	cb.RecordFailure(ctx)
	require.NoError(t, cb.Allow(ctx))
	cb.RecordFailure(ctx)
	assert.EqualValues(t, 2, cb.Stats().ConsecutiveFailures)

	require.NoError(t, cb.Allow(ctx))
	cb.RecordSuccess(ctx)
	stats := cb.Stats()
	assert.EqualValues(t, 0, stats.ConsecutiveFailures)
	assert.EqualValues(t, 1, stats.ConsecutiveSuccesses)
}

// Timeouts trip the breaker the same as failures but are tallied
// separately in TimeoutRequests.
func TestCircuitBreaker_TimeoutCountsAsFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cb := New("test", cfg)
	ctx := context.Background()

	require.NoError(t, cb.Allow(ctx))
	cb.RecordTimeout(ctx)

	stats := cb.Stats()
	assert.Equal(t, domain.BreakerOpen, stats.State)
	assert.EqualValues(t, 1, stats.TimeoutRequests)
	assert.EqualValues(t, 1, stats.FailedRequests)
}

// The rolling failure-rate path trips the breaker once minimum_requests
// samples are in and the failure ratio crosses the threshold, even when no
// single streak reaches failure_threshold.
func TestCircuitBreaker_RollingFailureRateTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 100 // never via streak
	cfg.MinimumRequests = 4
	cfg.FailureRateThreshold = 0.5
	cb := New("test", cfg)
	ctx := context.Background()

	outcomes := []bool{true, false, true, false}
	for _, ok := range outcomes {
		require.NoError(t, cb.Allow(ctx))
		if ok {
			cb.RecordSuccess(ctx)
		} else {
			cb.RecordFailure(ctx)
		}
	}
	assert.Equal(t, domain.BreakerOpen, cb.State())
}

// IsFailureStatus reflects the configured failure_status_codes set.
func TestCircuitBreaker_IsFailureStatus(t *testing.T) {
	cb := New("test", DefaultConfig())
	assert.True(t, cb.IsFailureStatus(502))
	assert.True(t, cb.IsFailureStatus(503))
	assert.False(t, cb.IsFailureStatus(200))
	assert.False(t, cb.IsFailureStatus(404))
}

// The registry creates one breaker per name lazily and returns the same
// instance on repeated lookups, and forgets it on Remove.
func TestRegistry_NamedBreakersAreLazyAndRemovable(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	first := r.Get("upstream_host_8080")
	again := r.Get("upstream_host_8080")
	assert.Same(t, first, again)

	other := r.Get("service_billing")
	assert.NotSame(t, first, other)

	r.Remove("upstream_host_8080")
	fresh := r.Get("upstream_host_8080")
	assert.NotSame(t, first, fresh)

	snapshot := r.Snapshot()
	assert.Len(t, snapshot, 2)
}
