package health

import "time"

const (
	DefaultHealthCheckerWorkerCount = 10
	BaseHealthCheckerQueueSize      = 100
	QueueScaleFactor                = 2

	DefaultHealthCheckerTimeout = 5 * time.Second
	SlowResponseThreshold       = 10 * time.Second

	HealthyEndpointStatusRangeStart = 200
	HealthyEndpointStatusRangeEnd   = 300

	DefaultCircuitBreakerThreshold = 3
	DefaultCircuitBreakerTimeout   = 30 * time.Second

	DefaultHealthyThreshold   = 2
	DefaultUnhealthyThreshold = 3

	MaxBackoffInterval = 5 * time.Minute

	CleanupInterval = 5 * time.Minute
)
