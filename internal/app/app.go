// Package app is the composition root: it loads configuration, builds
// every adapter named in internal/adapter/*, wires them against the
// core ports, and runs the acceptor(s) until Stop is called.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/veloxgate/veloxgate/internal/adapter/acceptor"
	"github.com/veloxgate/veloxgate/internal/adapter/balancer"
	"github.com/veloxgate/veloxgate/internal/adapter/breaker"
	"github.com/veloxgate/veloxgate/internal/adapter/cache"
	"github.com/veloxgate/veloxgate/internal/adapter/filter"
	"github.com/veloxgate/veloxgate/internal/adapter/fileproxy"
	"github.com/veloxgate/veloxgate/internal/adapter/health"
	"github.com/veloxgate/veloxgate/internal/adapter/proxy"
	"github.com/veloxgate/veloxgate/internal/adapter/ratelimit"
	"github.com/veloxgate/veloxgate/internal/config"
	"github.com/veloxgate/veloxgate/internal/core/ports"
	"github.com/veloxgate/veloxgate/internal/logger"
	"github.com/veloxgate/veloxgate/internal/metrics"
	"github.com/veloxgate/veloxgate/internal/router"
	"github.com/veloxgate/veloxgate/internal/util"
	"github.com/veloxgate/veloxgate/internal/version"
	"github.com/veloxgate/veloxgate/pkg/container"
	"github.com/veloxgate/veloxgate/pkg/eventbus"
)

// Application owns every long-lived component this process runs: the
// HTTP acceptor, the per-route TCP listeners, the background health
// checkers, and the admin server exposing /metrics, /health and friends.
type Application struct {
	startTime time.Time
	log       *logger.StyledLogger

	cfg      *config.Config
	cfgMu    sync.RWMutex
	routes   []builtRoute
	checkers []*health.HTTPHealthChecker

	router      *router.RouteTable
	filterSvc   ports.Filter
	breakers    *breaker.Registry
	respCache   *cache.LRU
	rateLimiter *ratelimit.Validator
	metrics     *metrics.Registry
	proxySvc    *proxy.Service
	fileProxies *fileProxyMap
	events      *eventbus.EventBus[proxy.Event]

	mainListener net.Listener
	mainServer   *http.Server
	adminServer  *http.Server

	tcpCtx    context.Context
	tcpCancel context.CancelFunc
	tcpDone   chan struct{}
}

// fileProxyMap is the acceptor.Dispatcher's lookup from a matched route's
// prefix to the *fileproxy.FileProxy instance serving it; built once at
// wiring time and read-only afterward, so a plain map needs no lock.
type fileProxyMap struct {
	byPrefix map[string]http.Handler
}

func (m *fileProxyMap) Resolve(prefix string) (http.Handler, bool) {
	h, ok := m.byPrefix[prefix]
	return h, ok
}

// New loads configuration and wires every adapter against it. The
// returned Application is not yet listening — call Start.
func New(startTime time.Time, log *logger.StyledLogger) (*Application, error) {
	a := &Application{startTime: startTime, log: log}

	cfg, err := config.Load(a.onConfigChange)
	if err != nil {
		return nil, fmt.Errorf("app: loading config: %w", err)
	}
	a.cfg = cfg

	if err := a.wire(cfg); err != nil {
		return nil, fmt.Errorf("app: wiring: %w", err)
	}

	log.Info("runtime environment detected", "containerised", container.IsContainerised())

	return a, nil
}

// wire builds every component from cfg and installs them on a, replacing
// whatever was there before. Called once, at construction; a config
// hot-reload goes through onConfigChange, which rebuilds only the route
// table and filter.
func (a *Application) wire(cfg *config.Config) error {
	a.metrics = metrics.New()

	blacklist := filter.NewBlacklistFilter()
	for _, entry := range cfg.Security.Blacklist {
		if err := blacklist.Add(entry); err != nil {
			a.log.Warn("skipping invalid blacklist entry", "entry", entry, "error", err)
		}
	}
	a.filterSvc = blacklist

	breakerCfg := breaker.DefaultConfig()
	if cfg.CircuitBreaker.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.CircuitBreaker.FailureThreshold
	}
	if cfg.CircuitBreaker.SuccessThreshold > 0 {
		breakerCfg.SuccessThreshold = cfg.CircuitBreaker.SuccessThreshold
	}
	if cfg.CircuitBreaker.Timeout != "" {
		if d, err := util.ParseSpecDuration(cfg.CircuitBreaker.Timeout); err == nil {
			breakerCfg.RecoveryTimeout = d
		}
	}
	a.breakers = breaker.NewRegistry(breakerCfg)

	cacheCfg := cache.DefaultConfig()
	if cfg.Cache.MaxEntries > 0 {
		cacheCfg.MaxEntries = cfg.Cache.MaxEntries
	}
	if size, err := util.ParseSpecSize(cfg.Cache.MaxSize); err == nil && size > 0 {
		cacheCfg.MaxSizeBytes = size
	}
	if size, err := util.ParseSpecSize(cfg.Cache.MaxResponseSize); err == nil && size > 0 {
		cacheCfg.MaxResponseSize = size
	}
	if d, err := util.ParseSpecDuration(cfg.Cache.TTL); err == nil && d > 0 {
		cacheCfg.DefaultTTL = d
	}
	if d, err := util.ParseSpecDuration(cfg.Cache.MinTTL); err == nil && d > 0 {
		cacheCfg.MinTTL = d
	}
	if d, err := util.ParseSpecDuration(cfg.Cache.MaxTTL); err == nil && d > 0 {
		cacheCfg.MaxTTL = d
	}
	cacheCfg.CachePrivate = cfg.Cache.CachePrivate
	cacheCfg.RespectCacheControl = cfg.Cache.RespectCacheControl
	cacheCfg.NoCachePathPrefixes = cfg.Cache.NoCachePaths
	if len(cfg.Cache.CacheBypassHeaders) > 0 {
		cacheCfg.CacheBypassHeaders = cfg.Cache.CacheBypassHeaders
	}
	var respCache *cache.LRU
	if cfg.Cache.Enabled {
		respCache = cache.New(cacheCfg)
	}
	a.respCache = respCache
	if respCache != nil {
		a.metrics.SetCacheSource(respCache)
	}

	limits := ratelimit.Limits{
		GlobalRequestsPerMinute: cfg.RateLimiter.RequestsPerSec * 60,
		PerIPRequestsPerMinute:  cfg.RateLimiter.PerIP.RequestsPerSec * 60,
		HealthRequestsPerMinute: 0,
		BurstSize:               cfg.RateLimiter.BurstSize,
		CleanupInterval:         10 * time.Minute,
	}
	if !cfg.RateLimiter.Enabled {
		limits.PerIPRequestsPerMinute = 0
	}
	a.rateLimiter = ratelimit.NewValidator(limits, a.log)

	built, err := buildRoutes(cfg)
	if err != nil {
		return err
	}
	a.routes = built

	routeTable := router.NewRouteTable()
	routeSlice := make([]ports.Route, len(built))
	for i, br := range built {
		routeSlice[i] = br.route
	}
	routeTable.Swap(routeSlice)
	a.router = routeTable

	factory := balancer.NewFactory(a.metrics)

	a.proxySvc = proxy.New(routeTable, factory, a.breakers, respCacheOrNil(respCache), cacheCfg, a.metrics, a.log, proxy.DefaultProxyConfig())
	a.events = eventbus.New[proxy.Event]()
	a.proxySvc.SetEventBus(a.events)

	fpMap := &fileProxyMap{byPrefix: make(map[string]http.Handler)}
	for _, br := range built {
		if br.route.Kind != ports.RouteFileServer {
			continue
		}
		fp, err := fileproxy.New(fileproxy.Config{
			Root:             br.route.FileRoot,
			IndexFiles:       br.route.IndexFiles,
			DirectoryListing: br.route.DirectoryListing,
			CacheControl:     br.route.CacheControl,
		}, a.log)
		if err != nil {
			return fmt.Errorf("file_server route %q: %w", br.route.Prefix, err)
		}
		fpMap.byPrefix[br.route.Prefix] = fp
	}
	a.fileProxies = fpMap

	checkers := make([]*health.HTTPHealthChecker, 0, len(built))
	for _, br := range built {
		if br.repository == nil {
			continue
		}
		checker := health.NewHTTPHealthChecker(br.repository, a.log, nil)
		checkers = append(checkers, checker)
	}
	a.checkers = checkers

	return nil
}

func respCacheOrNil(c *cache.LRU) ports.ResponseCache {
	if c == nil {
		return nil
	}
	return c
}

// onConfigChange is viper's reload callback: it rebuilds the route table
// and filter set from the freshly reloaded file and swaps them in,
// leaving every other already-running component (breakers, cache,
// health checkers) untouched, matching §5's "route table: many readers,
// rare writers" discipline.
func (a *Application) onConfigChange() {
	cfg, err := config.Load(nil)
	if err != nil {
		a.log.Error("config reload failed, keeping previous configuration", "error", err)
		return
	}

	built, err := buildRoutes(cfg)
	if err != nil {
		a.log.Error("config reload produced invalid routes, keeping previous configuration", "error", err)
		return
	}

	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()

	routeSlice := make([]ports.Route, len(built))
	for i, br := range built {
		routeSlice[i] = br.route
	}
	a.router.Swap(routeSlice)

	blacklist := filter.NewBlacklistFilter()
	for _, entry := range cfg.Security.Blacklist {
		if err := blacklist.Add(entry); err != nil {
			a.log.Warn("skipping invalid blacklist entry on reload", "entry", entry, "error", err)
		}
	}
	a.filterSvc = blacklist

	a.log.Info("configuration reloaded", "routes", len(built))
}

// Start binds the main HTTP acceptor, every tcp_proxy route's dedicated
// listener, and the admin server, then launches the health checkers.
// It returns once everything is listening; serving happens on background
// goroutines until Stop is called.
func (a *Application) Start(ctx context.Context) error {
	a.cfgMu.RLock()
	cfg := a.cfg
	a.cfgMu.RUnlock()

	keepAlive, _ := util.ParseSpecDuration(cfg.Server.KeepAliveTimeout)
	readTimeout, _ := util.ParseSpecDuration(cfg.Server.ReadTimeout)
	writeTimeout, _ := util.ParseSpecDuration(cfg.Server.WriteTimeout)

	tlsCfg := acceptor.TLSConfig{
		Enabled:  cfg.Server.SSL.Enabled,
		CertFile: cfg.Server.SSL.CertFile,
		KeyFile:  cfg.Server.SSL.KeyFile,
	}

	var connLimiter ports.RateLimiter
	if cfg.RateLimiter.Enabled {
		connLimiter = a.rateLimiter.Global()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := acceptor.Listen(addr, tlsCfg, a.filterSvc, connLimiter, a.log)
	if err != nil {
		return fmt.Errorf("app: binding %s: %w", addr, err)
	}
	a.mainListener = listener

	dispatcher := acceptor.NewDispatcher(a.router, a.proxySvc, a.fileProxies, a.log)
	var handler http.Handler = dispatcher
	if cfg.RateLimiter.Enabled {
		handler = a.rateLimiter.Middleware(handler)
	}
	handler = a.observeHTTP(handler)
	handler = withSecurityHeaders(cfg.Security.Headers, handler)

	a.mainServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  keepAlive,
	}

	go func() {
		if serveErr := a.mainServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			a.log.Error("main listener stopped", "error", serveErr)
		}
	}()
	a.log.InfoWithEndpoint("Listening", addr)

	a.tcpCtx, a.tcpCancel = context.WithCancel(context.Background())
	a.tcpDone = make(chan struct{})

	go a.logProxyEvents(a.tcpCtx)

	go func() {
		defer close(a.tcpDone)
		routeSlice := make([]ports.Route, len(a.routes))
		for i, br := range a.routes {
			routeSlice[i] = br.route
		}
		if err := acceptor.ServeTCPRoutes(a.tcpCtx, routeSlice, a.filterSvc, connLimiter, a.log); err != nil {
			a.log.Error("tcp proxy listener failed", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		if err := a.startAdminServer(cfg); err != nil {
			return err
		}
	}

	for _, checker := range a.checkers {
		if err := checker.StartChecking(ctx); err != nil {
			a.log.Warn("health checker failed to start", "error", err)
		}
	}

	return nil
}

// logProxyEvents is the event bus's operational subscriber: it turns
// circuit-breaker trips and upstream failures into log lines an
// operator can grep for, without ProxyRequest itself knowing anything
// about logging policy. Returns once ctx is cancelled or the bus shuts
// down.
func (a *Application) logProxyEvents(ctx context.Context) {
	ch, cleanup := a.events.Subscribe(ctx)
	defer cleanup()

	for ev := range ch {
		switch ev.Kind {
		case proxy.EventCircuitOpen:
			a.log.Warn("circuit breaker opened", "breaker", ev.Breaker)
		case proxy.EventFailure:
			name := ""
			if ev.Endpoint != nil {
				name = ev.Endpoint.Name
			}
			a.log.Warn("upstream request failed", "endpoint", name, "latency", ev.Latency)
		}
	}
}

func (a *Application) startAdminServer(cfg *config.Config) error {
	mux := http.NewServeMux()
	registry := router.NewRouteRegistry(*a.log)

	registry.Register(cfg.Metrics.Path, a.metrics.ServeHTTP, "Prometheus metrics exposition")
	registry.Register("/health", a.handleHealth, "Liveness and per-upstream health snapshot")
	registry.Register("/ready", a.handleReady, "Readiness probe")
	registry.Register("/config", a.handleConfig, "Current effective configuration")
	registry.Register("/version", a.handleVersion, "Build and version information")
	registry.Register("/dashboard", a.handleDashboard, "Human-readable status overview")
	registry.WireUp(mux)

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: binding admin port %s: %w", addr, err)
	}

	a.adminServer = &http.Server{Handler: mux}
	go func() {
		if serveErr := a.adminServer.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			a.log.Error("admin listener stopped", "error", serveErr)
		}
	}()
	a.log.InfoWithEndpoint("Admin surface listening", addr)
	return nil
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	snapshot := map[string]any{
		"status": "ok",
		"uptime": time.Since(a.startTime).String(),
	}
	_ = json.NewEncoder(w).Encode(snapshot)
}

func (a *Application) handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *Application) handleConfig(w http.ResponseWriter, r *http.Request) {
	a.cfgMu.RLock()
	cfg := a.cfg
	a.cfgMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

func (a *Application) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":    version.Name,
		"version": version.Version,
		"commit":  version.Commit,
		"date":    version.Date,
	})
}

func (a *Application) handleDashboard(w http.ResponseWriter, r *http.Request) {
	proxyStats, _ := a.proxySvc.GetStats(r.Context())
	breakerSnapshot := a.breakers.Snapshot()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime":   time.Since(a.startTime).String(),
		"proxy":    proxyStats,
		"breakers": breakerSnapshot,
		"routes":   len(a.routes),
	})
}

// observeHTTP records request count and latency for every response that
// reaches the dispatcher, not just the upstream-proxied ones proxy.Service
// already instruments internally, matching the metrics surface's "by
// method, path and status" breakdown across all route kinds.
func (a *Application) observeHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.metrics.ObserveHTTP(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// statusRecorder captures the status code an http.Handler wrote, since
// http.ResponseWriter doesn't expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withSecurityHeaders applies the fixed response headers from
// security{headers{...}} to every response, ahead of whatever the
// dispatcher or upstream sets.
func withSecurityHeaders(headers map[string]string, next http.Handler) http.Handler {
	if len(headers) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// Stop shuts down the admin server, the main listener and every running
// health checker, giving in-flight requests up to their own context
// deadline (carried by ctx) to finish.
func (a *Application) Stop(ctx context.Context) error {
	var errs []error

	if a.tcpCancel != nil {
		a.tcpCancel()
	}
	if a.mainServer != nil {
		if err := a.mainServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.adminServer != nil {
		if err := a.adminServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, checker := range a.checkers {
		if err := checker.StopChecking(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.events != nil {
		a.events.Shutdown()
	}
	if a.tcpDone != nil {
		select {
		case <-a.tcpDone:
		case <-ctx.Done():
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("app: shutdown errors: %v", errs)
	}
	return nil
}
