package domain

import (
	"context"
	"time"
)

// HealthCheckResult is one probe outcome, produced by the health checker
// and consumed by Endpoint.RecordProbe.
type HealthCheckResult struct {
	Error      error
	Status     HealthStatus
	Latency    time.Duration
	ErrorType  HealthCheckErrorType
	StatusCode int
}

type HealthCheckErrorType int

const (
	ErrorTypeNone HealthCheckErrorType = iota
	ErrorTypeNetwork
	ErrorTypeTimeout
	ErrorTypeHTTPError
	ErrorTypeCircuitOpen
)

// HealthChecker is the active-probing contract for an upstream pool.
type HealthChecker interface {
	Check(ctx context.Context, endpoint *Endpoint) (HealthCheckResult, error)
	StartChecking(ctx context.Context) error
	StopChecking(ctx context.Context) error
}
