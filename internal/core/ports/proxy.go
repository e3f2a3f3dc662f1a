package ports

import (
	"context"
	"net/http"
	"time"
)

// ProxyService is the HTTP upstream proxy contract: route, select, guard
// with the circuit breaker, and (on a cacheable GET) consult the response
// cache before dialling upstream.
type ProxyService interface {
	ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (RequestStats, error)
	GetStats(ctx context.Context) (ProxyStats, error)
}

// ProxyStats is the aggregate counters the admin surface exposes for the
// HTTP proxy path.
type ProxyStats struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	CacheHits          int64
	CacheMisses        int64
	AverageLatency     int64 // in milliseconds
}

// RequestStats is one request's timing breakdown, logged and folded into
// ProxyStats.
type RequestStats struct {
	RequestID    string
	StartTime    time.Time
	EndTime      time.Time
	EndpointName string
	TargetURL    string
	TotalBytes   int
	CacheHit     bool

	Latency            int64 // total end-to-end time
	SelectionMs        int64 // time spent choosing an endpoint
	BackendResponseMs  int64 // time for upstream to respond with headers
	StreamingMs        int64 // time spent streaming the body to the client
}
