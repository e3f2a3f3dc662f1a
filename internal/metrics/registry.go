// Package metrics is the gateway's Prometheus exposition surface: a
// private registry (not the global default, so embedding this module
// elsewhere never collides with host-level metrics) backing both the
// /metrics scrape endpoint and the synchronous ports.StatsCollector
// snapshot reads the admin JSON endpoints use.
//
// Grounded on other_examples' nulpointcorp-llm-gateway
// internal/metrics/prometheus.go: a struct of CounterVec/HistogramVec/
// GaugeVec fields built once in New, MustRegister'd against a private
// *prometheus.Registry, exposed over promhttp.HandlerFor. The teacher
// repository itself carries no Prometheus dependency (its admin surface
// is a bubbletea TUI), so this package's wiring style comes from the
// wider example pack rather than the teacher.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// cacheStatsSource is the subset of the response cache Registry reads for
// the size/entry gauges and the GetCacheStats snapshot. Kept narrow so
// metrics doesn't import the cache adapter package, only the shape it
// needs from it.
type cacheStatsSource interface {
	Stats() domain.CacheStats
}

// Registry is the concrete ports.StatsCollector and ports.MetricsHandler.
type Registry struct {
	reg *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	cacheSize   prometheus.GaugeFunc
	cacheEntries prometheus.GaugeFunc

	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamHealth   *prometheus.GaugeVec

	breakerState    *prometheus.GaugeVec
	breakerRequests *prometheus.CounterVec

	activeConnections  prometheus.Gauge
	connectionDuration prometheus.Histogram

	errorsTotal *prometheus.CounterVec

	filterDecisions *prometheus.CounterVec

	handler http.Handler

	mu          sync.Mutex
	proxy       ports.ProxyStats
	endpoints   map[string]*ports.EndpointStats
	connections map[string]int64
	cacheSource cacheStatsSource
}

// New builds and registers every series in the metrics contract. Buckets
// follow the nulpointcorp-llm-gateway grounding source's sub-millisecond-
// to-minute spread, appropriate for a proxy sitting in front of both fast
// cache hits and slow upstream calls.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	durationBuckets := []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60}

	r := &Registry{
		reg: reg,

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total requests handled by the gateway, by method, path and status",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "Request duration in seconds, by method and path",
				Buckets: durationBuckets,
			},
			[]string{"method", "path"},
		),

		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total response cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total response cache misses",
		}),

		upstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Total requests proxied to an upstream, by upstream and outcome",
			},
			[]string{"upstream", "outcome"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_request_duration_seconds",
				Help:    "Upstream round trip duration in seconds, by upstream",
				Buckets: durationBuckets,
			},
			[]string{"upstream"},
		),
		upstreamHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_upstream_health",
				Help: "Upstream health as observed by the health checker (1=routable, 0=unhealthy)",
			},
			[]string{"upstream"},
		),

		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"breaker"},
		),
		breakerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_requests_total",
				Help: "Requests seen by a circuit breaker, by outcome",
			},
			[]string{"breaker", "outcome"},
		),

		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_active_connections",
			Help: "Currently open connections across all listeners",
		}),
		connectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_connection_duration_seconds",
			Help:    "Accepted connection lifetime in seconds",
			Buckets: durationBuckets,
		}),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_errors_total",
				Help: "Errors observed, by kind and source",
			},
			[]string{"kind", "source"},
		),

		filterDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_filter_decisions_total",
				Help: "Source-address filter decisions, by verdict",
			},
			[]string{"decision"},
		),

		endpoints:   make(map[string]*ports.EndpointStats),
		connections: make(map[string]int64),
	}

	// Size/entry gauges are GaugeFunc, scraped lazily from whatever cache
	// implementation is wired in via SetCacheSource, rather than kept as a
	// second, independently-updated set of counters that could drift from
	// the cache's own bookkeeping.
	r.cacheSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_cache_size_bytes",
		Help: "Current response cache size in bytes",
	}, func() float64 {
		r.mu.Lock()
		src := r.cacheSource
		r.mu.Unlock()
		if src == nil {
			return 0
		}
		return float64(src.Stats().CurrentSizeBytes)
	})
	r.cacheEntries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_cache_entries",
		Help: "Current number of entries held by the response cache",
	}, func() float64 {
		r.mu.Lock()
		src := r.cacheSource
		r.mu.Unlock()
		if src == nil {
			return 0
		}
		return float64(src.Stats().CurrentEntries)
	})

	reg.MustRegister(
		r.requestsTotal,
		r.requestDuration,
		r.cacheHits,
		r.cacheMisses,
		r.cacheSize,
		r.cacheEntries,
		r.upstreamRequests,
		r.upstreamDuration,
		r.upstreamHealth,
		r.breakerState,
		r.breakerRequests,
		r.activeConnections,
		r.connectionDuration,
		r.errorsTotal,
		r.filterDecisions,
	)

	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return r
}

// ServeHTTP implements ports.MetricsHandler.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// SetCacheSource wires the response cache whose Stats() backs the size/
// entry gauges and GetCacheStats. Called once at composition time.
func (r *Registry) SetCacheSource(src cacheStatsSource) {
	r.mu.Lock()
	r.cacheSource = src
	r.mu.Unlock()
}

// ObserveHTTP is the generic per-request counter/histogram pair, recorded
// by internal/app's HTTP handler wrapper for every request regardless of
// which route kind served it.
func (r *Registry) ObserveHTTP(method, path string, status int, dur time.Duration) {
	statusStr := strconv.Itoa(status)
	r.requestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(dur.Seconds())
}

// RecordRequest implements ports.StatsCollector: the proxy's per-upstream
// outcome, folded into both the Prometheus series and the in-memory
// snapshot the admin JSON endpoints read.
func (r *Registry) RecordRequest(endpoint *domain.Endpoint, status string, latency time.Duration, bytes int64) {
	name := "unknown"
	key := "unknown"
	if endpoint != nil {
		name = endpoint.Name
		key = endpoint.Key()
	}

	r.upstreamRequests.WithLabelValues(name, status).Inc()
	r.upstreamDuration.WithLabelValues(name).Observe(latency.Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.proxy.TotalRequests++
	if status == "success" {
		r.proxy.SuccessfulRequests++
	} else {
		r.proxy.FailedRequests++
	}
	r.proxy.AverageLatency = runningAvg(r.proxy.AverageLatency, r.proxy.TotalRequests, latency.Milliseconds())

	es, ok := r.endpoints[key]
	if !ok {
		es = &ports.EndpointStats{Name: name, URL: key, MinLatency: latency.Milliseconds()}
		r.endpoints[key] = es
	}
	es.TotalRequests++
	es.TotalBytes += bytes
	es.LastUsed = time.Now()
	ms := latency.Milliseconds()
	if status == "success" {
		es.SuccessfulRequests++
	} else {
		es.FailedRequests++
	}
	if es.MinLatency == 0 || ms < es.MinLatency {
		es.MinLatency = ms
	}
	if ms > es.MaxLatency {
		es.MaxLatency = ms
	}
	es.AverageLatency = runningAvg(es.AverageLatency, es.TotalRequests, ms)
	if es.TotalRequests > 0 {
		es.SuccessRate = float64(es.SuccessfulRequests) / float64(es.TotalRequests) * 100
	}
	if endpoint != nil {
		es.ActiveConnections = int64(endpoint.ActiveConnections())
	}
}

func runningAvg(prevAvg, count, sample int64) int64 {
	if count <= 1 {
		return sample
	}
	return prevAvg + (sample-prevAvg)/count
}

// RecordConnection implements ports.StatsCollector.
func (r *Registry) RecordConnection(endpoint *domain.Endpoint, delta int) {
	r.activeConnections.Add(float64(delta))

	if endpoint == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[endpoint.Key()] += int64(delta)
}

// RecordCacheOutcome implements ports.StatsCollector.
func (r *Registry) RecordCacheOutcome(hit bool) {
	if hit {
		r.cacheHits.Inc()
	} else {
		r.cacheMisses.Inc()
	}
}

// RecordBreakerTrip implements ports.StatsCollector: updates the state
// gauge for a named breaker.
func (r *Registry) RecordBreakerTrip(endpointKey string, state domain.BreakerState) {
	r.breakerState.WithLabelValues(endpointKey).Set(state.GaugeValue())
}

// RecordBreakerOutcome increments the per-breaker outcome counter. Not
// part of ports.StatsCollector, and no component in this module calls it,
// so gateway_circuit_breaker_requests_total only moves for callers that
// invoke it directly.
func (r *Registry) RecordBreakerOutcome(breakerName string, outcome domain.BreakerOutcome) {
	r.breakerRequests.WithLabelValues(breakerName, outcome.String()).Inc()
}

// RecordFilterDecision implements ports.StatsCollector.
func (r *Registry) RecordFilterDecision(decision domain.FilterDecision) {
	r.filterDecisions.WithLabelValues(decision.String()).Inc()
	if decision == domain.FilterDeny {
		r.errorsTotal.WithLabelValues("blacklisted", "filter").Inc()
	}
}

// RecordError increments gateway_errors_total{kind,source}, called by any
// adapter that wants a generic error series entry rather than a
// dedicated counter.
func (r *Registry) RecordError(kind, source string) {
	r.errorsTotal.WithLabelValues(kind, source).Inc()
}

// SetUpstreamHealth updates gateway_upstream_health{upstream}. The health
// checker does not call it; no component in this module does, so the
// gauge is only set by callers that invoke it directly.
func (r *Registry) SetUpstreamHealth(name string, routable bool) {
	v := 0.0
	if routable {
		v = 1.0
	}
	r.upstreamHealth.WithLabelValues(name).Set(v)
}

// ObserveConnectionDuration records one accepted connection's lifetime.
func (r *Registry) ObserveConnectionDuration(d time.Duration) {
	r.connectionDuration.Observe(d.Seconds())
}

// GetProxyStats implements ports.StatsCollector.
func (r *Registry) GetProxyStats() ports.ProxyStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.proxy
	stats.CacheHits = int64(counterValue(r.cacheHits))
	stats.CacheMisses = int64(counterValue(r.cacheMisses))
	return stats
}

// GetEndpointStats implements ports.StatsCollector.
func (r *Registry) GetEndpointStats() map[string]ports.EndpointStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]ports.EndpointStats, len(r.endpoints))
	for k, v := range r.endpoints {
		out[k] = *v
	}
	return out
}

// GetCacheStats implements ports.StatsCollector, delegating to whatever
// cache was wired in via SetCacheSource.
func (r *Registry) GetCacheStats() domain.CacheStats {
	r.mu.Lock()
	src := r.cacheSource
	r.mu.Unlock()
	if src == nil {
		return domain.CacheStats{}
	}
	return src.Stats()
}

// GetConnectionStats implements ports.StatsCollector.
func (r *Registry) GetConnectionStats() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.connections))
	for k, v := range r.connections {
		out[k] = v
	}
	return out
}

// counterValue reads a Counter's current value back out, needed because
// ports.StatsCollector's read methods are synchronous snapshots but
// Prometheus counters are otherwise write-only from this package's side.
func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}
