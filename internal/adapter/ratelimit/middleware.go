package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/veloxgate/veloxgate/internal/core/constants"
	"github.com/veloxgate/veloxgate/internal/core/ports"
	"github.com/veloxgate/veloxgate/internal/logger"
	"github.com/veloxgate/veloxgate/internal/util"
	"golang.org/x/time/rate"
)

// Limits configures the HTTP middleware: the global/per-IP ceilings plus
// the burst smoothing `golang.org/x/time/rate` provides on top of it (the
// CAS token bucket admits-or-rejects; the smoothing limiter spreads
// admitted requests out rather than letting a full bucket empty in one
// instant).
type Limits struct {
	GlobalRequestsPerMinute int
	PerIPRequestsPerMinute  int
	HealthRequestsPerMinute int
	BurstSize               int
	CleanupInterval         time.Duration
	TrustProxyHeaders       bool
	TrustedCIDRs            []*net.IPNet
}

// Validator is the ports.SecurityValidator this package plugs into the
// SecurityChain pattern (internal/core/ports/security.go): rate limiting
// runs first in the chain, the blacklist filter next.
type Validator struct {
	registry *Registry
	limits   Limits
	logger   *logger.StyledLogger

	ipSmoothers sync.Map // clientIP -> *rate.Limiter
}

func NewValidator(limits Limits, log *logger.StyledLogger) *Validator {
	refillPerTick := int64(limits.PerIPRequestsPerMinute) / 60
	if refillPerTick < 1 {
		refillPerTick = 1
	}
	registry := NewRegistry(int64(limits.BurstSize), refillPerTick, time.Second)

	v := &Validator{registry: registry, limits: limits, logger: log}

	if limits.CleanupInterval > 0 {
		go v.cleanupRoutine()
	}
	return v
}

func (v *Validator) Name() string {
	return "rate_limit"
}

// Global exposes the process-wide token bucket backing this validator's
// aggregate check, for callers that need a plain §4.A try_acquire gate
// rather than the full per-IP/per-endpoint SecurityValidator chain — the
// acceptor's FilteredListener checks this once per accepted connection,
// ahead of both HTTP request handling and raw tcp_proxy forwarding.
func (v *Validator) Global() ports.RateLimiter {
	return v.registry.Global()
}

func (v *Validator) Validate(ctx context.Context, req ports.SecurityRequest) (ports.SecurityResult, error) {
	now := time.Now()

	limit := v.limits.PerIPRequestsPerMinute
	if req.IsHealthCheck {
		limit = v.limits.HealthRequestsPerMinute
	}
	if limit <= 0 {
		return ports.SecurityResult{Allowed: true, ResetTime: now.Add(time.Minute)}, nil
	}

	if !v.registry.Global().Allow() {
		return ports.SecurityResult{
			Allowed:    false,
			RetryAfter: 1,
			RateLimit:  limit,
			ResetTime:  now.Add(time.Minute),
			Reason:     "global rate limit exceeded",
		}, nil
	}

	bucketKey := req.ClientID
	if req.IsHealthCheck {
		bucketKey += ":health"
	}

	if !v.registry.ForKey(bucketKey).Allow() {
		return ports.SecurityResult{
			Allowed:    false,
			RetryAfter: 60 / limit,
			RateLimit:  limit,
			ResetTime:  now.Add(time.Minute),
			Reason:     "rate limit exceeded",
		}, nil
	}

	smoother := v.smootherFor(req.ClientID, limit)
	reservation := smoother.Reserve()
	if !reservation.OK() {
		return ports.SecurityResult{
			Allowed:    false,
			RetryAfter: 60,
			RateLimit:  limit,
			ResetTime:  now.Add(time.Minute),
			Reason:     "rate limit exceeded",
		}, nil
	}
	if delay := reservation.Delay(); delay > 0 {
		reservation.Cancel()
		return ports.SecurityResult{
			Allowed:    false,
			RetryAfter: int(delay.Seconds()) + 1,
			RateLimit:  limit,
			ResetTime:  now.Add(time.Minute),
			Reason:     "rate limit exceeded",
		}, nil
	}

	return ports.SecurityResult{Allowed: true, RateLimit: limit, ResetTime: now.Add(time.Minute)}, nil
}

func (v *Validator) smootherFor(clientIP string, limit int) *rate.Limiter {
	if existing, ok := v.ipSmoothers.Load(clientIP); ok {
		return existing.(*rate.Limiter)
	}
	newLimiter := rate.NewLimiter(rate.Limit(float64(limit)/60.0), v.limits.BurstSize)
	actual, _ := v.ipSmoothers.LoadOrStore(clientIP, newLimiter)
	return actual.(*rate.Limiter)
}

func (v *Validator) cleanupRoutine() {
	ticker := time.NewTicker(v.limits.CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		v.registry.PruneIdle(time.Now().Add(-10 * time.Minute))
	}
}

// Middleware wraps an http.Handler with the rate-limit admission check,
// setting the X-RateLimit-* headers on every response regardless of outcome.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := util.GetClientIP(r, v.limits.TrustProxyHeaders, v.limits.TrustedCIDRs)
		isHealthEndpoint := r.URL.Path == constants.DefaultHealthCheckEndpoint

		result, err := v.Validate(r.Context(), ports.SecurityRequest{
			ClientID:      clientIP,
			Endpoint:      r.URL.Path,
			Method:        r.Method,
			IsHealthCheck: isHealthEndpoint,
		})
		if err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.RateLimit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			v.logger.Warn("rate limit exceeded",
				"client_ip", clientIP,
				"method", r.Method,
				"path", r.URL.Path,
				"limit", result.RateLimit,
				"retry_after", result.RetryAfter)
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
