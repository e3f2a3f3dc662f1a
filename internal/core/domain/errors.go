package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoHealthyUpstream is returned by a selector when no routable server
	// remains in the pool it was given.
	ErrNoHealthyUpstream = errors.New("no healthy upstream available")
	// ErrCacheMiss is returned by the response cache on a miss, expiry or a
	// Vary: * response that can never be cached.
	ErrCacheMiss = errors.New("cache miss")
	// ErrRouteNotFound is returned by the router when no entry's prefix
	// matches the request path.
	ErrRouteNotFound = errors.New("no matching route")
	// ErrRateLimited is returned by the token bucket when a caller tries to
	// acquire a token that isn't available.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrBlacklisted is returned by the source-address filter.
	ErrBlacklisted = errors.New("source address is blacklisted")
)

// ProxyError wraps an upstream failure with the request context needed for
// logging and classifying it as an upstream failure.
type ProxyError struct {
	Err        error
	RequestID  string
	TargetURL  string
	Method     string
	Path       string
	StatusCode int
	Latency    time.Duration
	BytesRead  int
}

func (e *ProxyError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("proxy request failed [%s] %s %s -> %s: HTTP %d after %v (%d bytes): %v",
			e.RequestID, e.Method, e.Path, e.TargetURL, e.StatusCode, e.Latency, e.BytesRead, e.Err)
	}
	return fmt.Sprintf("proxy request failed [%s] %s %s -> %s: %v after %v (%d bytes)",
		e.RequestID, e.Method, e.Path, e.TargetURL, e.Err, e.Latency, e.BytesRead)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

func NewProxyError(requestID, targetURL, method, path string, statusCode int, latency time.Duration, bytesRead int, err error) *ProxyError {
	return &ProxyError{
		RequestID:  requestID,
		TargetURL:  targetURL,
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Latency:    latency,
		BytesRead:  bytesRead,
		Err:        err,
	}
}

// HealthCheckError carries enough context for the health checker's WARN
// logs without allocating a fresh format string per probe failure.
type HealthCheckError struct {
	Err                 error
	EndpointURL         string
	EndpointName        string
	StatusCode          int
	Latency             time.Duration
	ConsecutiveFailures int
}

func (e *HealthCheckError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("health check failed for %s (%s): HTTP %d after %v (failures: %d): %v",
			e.EndpointName, e.EndpointURL, e.StatusCode, e.Latency, e.ConsecutiveFailures, e.Err)
	}
	return fmt.Sprintf("health check failed for %s (%s): %v after %v (failures: %d)",
		e.EndpointName, e.EndpointURL, e.Err, e.Latency, e.ConsecutiveFailures)
}

func (e *HealthCheckError) Unwrap() error {
	return e.Err
}
