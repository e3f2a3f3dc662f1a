// Package proxy implements the HTTP upstream proxy (ports.ProxyService):
// router match, load-balancer select, circuit-breaker gate, optional
// response-cache consult, then a streamed reverse-proxy round trip.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/veloxgate/veloxgate/internal/adapter/cache"
	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
	"github.com/veloxgate/veloxgate/internal/logger"
	"github.com/veloxgate/veloxgate/internal/util"
	"github.com/veloxgate/veloxgate/pkg/eventbus"
	"github.com/veloxgate/veloxgate/pkg/pool"
)

const (
	DefaultStreamBufferSize = 8 * 1024

	DefaultConnectionTimeout   = 10 * time.Second
	DefaultConnectionKeepAlive = 60 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds a single upstream round trip when the
	// route has no breaker (and so no breaker-scoped RequestTimeout) to
	// consult.
	DefaultRequestTimeout = 10 * time.Second

	// MaxRetryAttempts implements §4.B's retry policy: SUCCESS stops
	// immediately, FAILURE or TIMEOUT retries up to this many attempts
	// total, CIRCUIT_OPEN never retries.
	MaxRetryAttempts = 3
)

// Config tunes the shared transport every Service instance round-trips
// through.
type Config struct {
	ConnectionTimeout   time.Duration
	ConnectionKeepAlive time.Duration
	StreamBufferSize    int
	RequestTimeout      time.Duration
}

func DefaultProxyConfig() Config {
	return Config{
		ConnectionTimeout:   DefaultConnectionTimeout,
		ConnectionKeepAlive: DefaultConnectionKeepAlive,
		StreamBufferSize:    DefaultStreamBufferSize,
		RequestTimeout:      DefaultRequestTimeout,
	}
}

// Service implements ports.ProxyService for one gateway instance: it owns
// no per-request state beyond the counters folded into ProxyStats.
type Service struct {
	router      ports.Router
	factory     ports.SelectorFactory
	breakers    ports.BreakerRegistry
	respCache   ports.ResponseCache
	cacheConfig cache.Config
	stats       ports.StatsCollector
	log         *logger.StyledLogger

	transport      *http.Transport
	bufferPool     *pool.Pool[*[]byte]
	events         *eventbus.EventBus[Event]
	requestTimeout time.Duration

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
}

// New wires a Service over an already-built route table, selector
// factory, breaker registry and response cache. respCache may be nil if
// caching is disabled; every request then bypasses the cache gate.
func New(router ports.Router, factory ports.SelectorFactory, breakers ports.BreakerRegistry, respCache ports.ResponseCache, cacheConfig cache.Config, stats ports.StatsCollector, log *logger.StyledLogger, cfg Config) *Service {
	if cfg.StreamBufferSize <= 0 {
		cfg.StreamBufferSize = DefaultStreamBufferSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{
				Timeout:   cfg.ConnectionTimeout,
				KeepAlive: cfg.ConnectionKeepAlive,
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	return &Service{
		router:      router,
		factory:     factory,
		breakers:    breakers,
		respCache:   respCache,
		cacheConfig: cacheConfig,
		stats:       stats,
		log:         log,
		transport:   transport,
		bufferPool: pool.NewLitePool(func() *[]byte {
			buf := make([]byte, cfg.StreamBufferSize)
			return &buf
		}),
		requestTimeout: cfg.RequestTimeout,
	}
}

// SetEventBus wires an event bus for proxy lifecycle events; nil (the
// default) makes publish a no-op, so wiring it is optional.
func (s *Service) SetEventBus(eb *eventbus.EventBus[Event]) {
	s.events = eb
}

func (s *Service) publish(ev Event) {
	if s.events != nil {
		s.events.PublishAsync(ev)
	}
}

// ProxyRequest implements ports.ProxyService.
func (s *Service) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (ports.RequestStats, error) {
	start := time.Now()
	requestStats := ports.RequestStats{
		RequestID: util.GenerateRequestID(),
		StartTime: start,
	}

	s.totalRequests.Add(1)

	route, err := s.router.Match(r.URL.Path)
	if err != nil {
		s.failedRequests.Add(1)
		return requestStats, fmt.Errorf("proxy: route lookup: %w", err)
	}
	if route.Kind != ports.RouteUpstream {
		s.failedRequests.Add(1)
		return requestStats, fmt.Errorf("proxy: route %q is not an upstream route", route.Prefix)
	}

	cacheKey, cacheable := s.cacheKeyFor(r, route)
	if cacheable {
		if entry, hitErr := s.respCache.Get(cacheKey, r); hitErr == nil {
			s.cacheHits.Add(1)
			if s.stats != nil {
				s.stats.RecordCacheOutcome(true)
			}
			writeCachedEntry(w, entry)
			requestStats.CacheHit = true
			requestStats.EndTime = time.Now()
			requestStats.Latency = requestStats.EndTime.Sub(start).Milliseconds()
			requestStats.TotalBytes = len(entry.Body)
			s.successfulRequests.Add(1)
			return requestStats, nil
		}
		s.cacheMisses.Add(1)
		if s.stats != nil {
			s.stats.RecordCacheOutcome(false)
		}
	}

	breaker := s.breakerFor(route)

	// Buffered once so every retry attempt gets its own fresh reader; the
	// original body is consumed by the first failed RoundTrip otherwise.
	var bodyBytes []byte
	if r.Body != nil && r.Body != http.NoBody {
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			s.failedRequests.Add(1)
			return requestStats, fmt.Errorf("proxy: reading request body: %w", err)
		}
		_ = r.Body.Close()
	}

	var (
		endpoint  *domain.Endpoint
		resp      *http.Response
		targetURL *url.URL
	)

	for attempt := 1; ; attempt++ {
		if breaker != nil {
			if allowErr := breaker.Allow(ctx); allowErr != nil {
				s.failedRequests.Add(1)
				s.publish(Event{Kind: EventCircuitOpen, Breaker: route.BreakerName})
				return requestStats, allowErr
			}
		}

		selectStart := time.Now()
		selector, selErr := s.factory.Create(normalizeStrategy(route.StrategyName))
		if selErr != nil {
			s.failedRequests.Add(1)
			return requestStats, fmt.Errorf("proxy: selector: %w", selErr)
		}

		ep, selErr := selector.Select(ctx, route.Endpoints)
		requestStats.SelectionMs = time.Since(selectStart).Milliseconds()
		if selErr != nil {
			s.failedRequests.Add(1)
			if breaker != nil {
				breaker.RecordFailure(ctx)
			}
			return requestStats, fmt.Errorf("proxy: %w", selErr)
		}
		endpoint = ep
		requestStats.EndpointName = endpoint.Name

		endpoint.IncrementConnections()
		if s.stats != nil {
			s.stats.RecordConnection(endpoint, 1)
		}

		targetPath := util.StripRoutePrefix(r.URL.Path, route.Prefix)
		targetURL = endpoint.URL.ResolveReference(&url.URL{Path: targetPath, RawQuery: r.URL.RawQuery})
		requestStats.TargetURL = targetURL.String()

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout := s.attemptTimeout(breaker); timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		proxyReq, reqErr := http.NewRequestWithContext(attemptCtx, r.Method, targetURL.String(), bodyReader)
		if reqErr != nil {
			if cancel != nil {
				cancel()
			}
			endpoint.DecrementConnections()
			if s.stats != nil {
				s.stats.RecordConnection(endpoint, -1)
			}
			s.failedRequests.Add(1)
			return requestStats, fmt.Errorf("proxy: building upstream request: %w", reqErr)
		}
		copyHeaders(proxyReq, r)

		backendStart := time.Now()
		var roundTripErr error
		resp, roundTripErr = s.transport.RoundTrip(proxyReq)
		requestStats.BackendResponseMs = time.Since(backendStart).Milliseconds()
		if cancel != nil {
			cancel()
		}

		if roundTripErr != nil {
			endpoint.DecrementConnections()
			if s.stats != nil {
				s.stats.RecordConnection(endpoint, -1)
			}
			timedOut := attemptCtx.Err() == context.DeadlineExceeded
			if breaker != nil {
				if timedOut {
					breaker.RecordTimeout(ctx)
				} else {
					breaker.RecordFailure(ctx)
				}
			}
			s.publish(Event{Kind: EventFailure, Endpoint: endpoint, Latency: time.Since(start)})
			if attempt < MaxRetryAttempts {
				continue
			}
			s.failedRequests.Add(1)
			return requestStats, domain.NewProxyError(requestStats.RequestID, targetURL.String(), r.Method, r.URL.Path, 0, time.Since(start), 0, roundTripErr)
		}

		if breaker != nil && breaker.IsFailureStatus(resp.StatusCode) {
			breaker.RecordFailure(ctx)
			if attempt < MaxRetryAttempts {
				_ = resp.Body.Close()
				endpoint.DecrementConnections()
				if s.stats != nil {
					s.stats.RecordConnection(endpoint, -1)
				}
				continue
			}
			// Retries exhausted: still a real upstream response, so it is
			// served to the caller rather than synthesized as an error.
			break
		}
		if breaker != nil {
			breaker.RecordSuccess(ctx)
		}
		break
	}

	// The winning attempt's connection bookkeeping stays open across the
	// response write/stream below and is released once that finishes.
	defer endpoint.DecrementConnections()
	if s.stats != nil {
		defer s.stats.RecordConnection(endpoint, -1)
	}
	defer resp.Body.Close()

	var cacheBuf *[]byte
	if cacheable && isCacheableResponse(resp, s.cacheConfig) {
		b := make([]byte, 0, resp.ContentLength)
		cacheBuf = &b
	}

	copyResponseHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)

	streamStart := time.Now()
	bufPtr := s.bufferPool.Get()
	bytesWritten, streamErr := s.streamResponse(w, resp.Body, *bufPtr, cacheBuf)
	s.bufferPool.Put(bufPtr)
	requestStats.StreamingMs = time.Since(streamStart).Milliseconds()
	requestStats.TotalBytes = bytesWritten

	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		s.failedRequests.Add(1)
		endpoint.OnRequestComplete(false, time.Since(start))
		s.publish(Event{Kind: EventFailure, Endpoint: endpoint, Latency: time.Since(start), Bytes: int64(bytesWritten)})
		return requestStats, domain.NewProxyError(requestStats.RequestID, targetURL.String(), r.Method, r.URL.Path, resp.StatusCode, time.Since(start), bytesWritten, streamErr)
	}

	endpoint.OnRequestComplete(true, time.Since(start))
	if cacheBuf != nil {
		s.storeCacheEntry(cacheKey, resp, *cacheBuf)
	}

	s.successfulRequests.Add(1)
	requestStats.EndTime = time.Now()
	requestStats.Latency = requestStats.EndTime.Sub(start).Milliseconds()
	s.publish(Event{Kind: EventSuccess, Endpoint: endpoint, Latency: requestStats.EndTime.Sub(start), Bytes: int64(bytesWritten)})
	return requestStats, nil
}

// GetStats implements ports.ProxyService.
func (s *Service) GetStats(ctx context.Context) (ports.ProxyStats, error) {
	return ports.ProxyStats{
		TotalRequests:      s.totalRequests.Load(),
		SuccessfulRequests: s.successfulRequests.Load(),
		FailedRequests:     s.failedRequests.Load(),
		CacheHits:          s.cacheHits.Load(),
		CacheMisses:        s.cacheMisses.Load(),
	}, nil
}

// attemptTimeout picks the per-attempt round-trip deadline: the breaker's
// configured RequestTimeout when a breaker gates this route (so a timeout
// reports through RecordTimeout for §4.B's outcome classification), else
// the service-wide default.
func (s *Service) attemptTimeout(breaker ports.Breaker) time.Duration {
	if breaker != nil {
		return breaker.RequestTimeout()
	}
	return s.requestTimeout
}

func (s *Service) breakerFor(route *ports.Route) ports.Breaker {
	if s.breakers == nil || route.BreakerName == "" {
		return nil
	}
	return s.breakers.Get(route.BreakerName)
}

// normalizeStrategy maps the config document's underscore-separated
// strategy names ("round_robin") onto the balancer factory's
// hyphen-separated registration keys ("round-robin").
func normalizeStrategy(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '_' {
			out[i] = '-'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

func copyHeaders(dst *http.Request, src *http.Request) {
	for key, values := range src.Header {
		for _, v := range values {
			dst.Header.Add(key, v)
		}
	}
}

func copyResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}

func writeCachedEntry(w http.ResponseWriter, entry *domain.CacheEntry) {
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	if entry.ETag != "" {
		w.Header().Set("ETag", entry.ETag)
	}
	if entry.LastModified != "" {
		w.Header().Set("Last-Modified", entry.LastModified)
	}
	w.Header().Set("X-Cache", "HIT")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}
