package ports

import (
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

// StatsCollector is the sink every adapter reports request/connection/cache
// outcomes to; internal/metrics.Registry is the concrete implementation.
type StatsCollector interface {
	RecordRequest(endpoint *domain.Endpoint, status string, latency time.Duration, bytes int64)
	RecordConnection(endpoint *domain.Endpoint, delta int) // +1 connect, -1 disconnect
	RecordCacheOutcome(hit bool)
	RecordBreakerTrip(endpointKey string, state domain.BreakerState)
	RecordFilterDecision(decision domain.FilterDecision)

	GetProxyStats() ProxyStats
	GetEndpointStats() map[string]EndpointStats
	GetCacheStats() domain.CacheStats
	GetConnectionStats() map[string]int64
}

// EndpointStats is the per-upstream snapshot exposed on the admin surface.
type EndpointStats struct {
	Name               string    `json:"name"`
	URL                string    `json:"url"`
	ActiveConnections  int64     `json:"active_connections"`
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	TotalBytes         int64     `json:"total_bytes"`
	AverageLatency     int64     `json:"avg_latency_ms"`
	MinLatency         int64     `json:"min_latency_ms"`
	MaxLatency         int64     `json:"max_latency_ms"`
	LastUsed           time.Time `json:"last_used"`
	SuccessRate        float64   `json:"success_rate_percent"`
}
