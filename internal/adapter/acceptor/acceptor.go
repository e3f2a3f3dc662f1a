// Package acceptor implements the connection intake and protocol dispatch
// described in §4.G: a listener wrapped with the address filter and
// optional TLS termination, handing HTTP connections to the router-driven
// dispatcher and giving each tcp_proxy route its own dedicated listener
// (a raw byte stream carries no path to dispatch on, so it can't share
// the HTTP port).
//
// Grounded on the teacher's net/http-based serving style plus the
// goroutine-per-accepted-connection pattern other_examples' nabbar-golib
// socket/server/tcp package documents: a filtering Accept loop wrapping
// the raw net.Listener, TLS applied via tls.NewListener, one goroutine per
// connection so a slow client never blocks the accept loop.
package acceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/veloxgate/veloxgate/internal/adapter/tcpproxy"
	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
	"github.com/veloxgate/veloxgate/internal/logger"
	"github.com/veloxgate/veloxgate/internal/util"
)

// TLSConfig carries the acceptor's optional server-side TLS material.
// A zero value means TLS is disabled for the port.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// FilteredListener wraps a net.Listener with the source-address
// admission filter (§4.J) and, ahead of it, the process-wide token-bucket
// admission check (§4.A, §4.G step 3): every accepted connection passes
// the rate limiter before the blacklist, and either rejection closes the
// connection immediately with no response written, regardless of
// whether the connection turns out to be HTTP or a raw tcp_proxy stream
// — §4.G step 3 runs before step 5's protocol dispatch, so both listener
// kinds share this same Accept path rather than only the HTTP one gating
// on a token.
type FilteredListener struct {
	net.Listener
	filter  ports.Filter
	limiter ports.RateLimiter
	log     *logger.StyledLogger
}

// NewFilteredListener wraps inner so every Accept passes through the rate
// limiter and filter first. Either may be nil, in which case that check
// is skipped and every connection is admitted past it.
func NewFilteredListener(inner net.Listener, filter ports.Filter, limiter ports.RateLimiter, log *logger.StyledLogger) *FilteredListener {
	return &FilteredListener{Listener: inner, filter: filter, limiter: limiter, log: log}
}

// Accept loops internally past rejected connections so the caller (an
// http.Server or a raw accept loop) only ever observes admitted ones.
func (l *FilteredListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if l.limiter != nil && !l.limiter.Allow() {
			l.log.Warn("rejected connection: rate limit exceeded", "remote_addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		if l.filter == nil {
			return conn, nil
		}

		host, _, splitErr := net.SplitHostPort(conn.RemoteAddr().String())
		if splitErr != nil {
			host = conn.RemoteAddr().String()
		}
		ip := net.ParseIP(host)
		if ip != nil && !l.filter.Allow(ip) {
			l.log.Warn("rejected connection from blacklisted address", "remote_addr", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		return conn, nil
	}
}

// Listen binds addr and wraps the resulting listener with the rate
// limiter, the address filter, and, if cfg.Enabled, server-side TLS.
// Handshakes happen lazily per-Accept inside tls.NewListener, so a
// stalled client handshake never blocks the accept loop for others
// (§4.G's "must not block the pool on handshake or I/O"). limiter may be
// nil to admit every connection unconditionally (the caller gates that on
// its own `enabled` flag per §4.A).
func Listen(addr string, cfg TLSConfig, filter ports.Filter, limiter ports.RateLimiter, log *logger.StyledLogger) (net.Listener, error) {
	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	filtered := NewFilteredListener(raw, filter, limiter, log)

	if !cfg.Enabled {
		return filtered, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return tls.NewListener(filtered, tlsCfg), nil
}

// Dispatcher implements §4.G step 5: classify the accepted HTTP request
// by its matched route and hand it to the file proxy or the upstream
// proxy. TCP routes never reach here — they get their own listener via
// ServeTCPRoutes.
type Dispatcher struct {
	router     ports.Router
	proxy      ports.ProxyService
	fileProxy  fileProxyResolver
	log        *logger.StyledLogger
}

// fileProxyResolver looks up the file-proxy instance bound to a matched
// route's prefix. Routes are built once at startup from config, so this
// is a plain map read, not a registry.
type fileProxyResolver interface {
	Resolve(prefix string) (http.Handler, bool)
}

// NewDispatcher builds the top-level HTTP handler the acceptor's listener
// is served through.
func NewDispatcher(router ports.Router, proxy ports.ProxyService, fileProxies fileProxyResolver, log *logger.StyledLogger) *Dispatcher {
	return &Dispatcher{router: router, proxy: proxy, fileProxy: fileProxies, log: log}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := d.router.Match(r.URL.Path)
	if err != nil {
		if errors.Is(err, domain.ErrRouteNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "internal routing error", http.StatusInternalServerError)
		return
	}

	switch route.Kind {
	case ports.RouteFileServer:
		handler, ok := d.fileProxy.Resolve(route.Prefix)
		if !ok {
			http.NotFound(w, r)
			return
		}
		stripped := r.Clone(r.Context())
		stripped.URL.Path = util.StripRoutePrefix(r.URL.Path, route.Prefix)
		handler.ServeHTTP(w, stripped)

	case ports.RouteUpstream:
		if _, err := d.proxy.ProxyRequest(r.Context(), w, r); err != nil {
			writeProxyError(w, err)
		}

	default:
		http.Error(w, "route is not reachable over HTTP", http.StatusBadGateway)
	}
}

// writeProxyError maps a ProxyRequest failure onto the HTTP status a
// client should see, per the sentinel errors the core domain and ports
// packages define.
func writeProxyError(w http.ResponseWriter, err error) {
	var proxyErr *domain.ProxyError
	switch {
	case errors.Is(err, domain.ErrRouteNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNoHealthyUpstream):
		http.Error(w, "no healthy upstream", http.StatusServiceUnavailable)
	case errors.Is(err, ports.ErrCircuitBreakerOpen):
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &proxyErr):
		http.Error(w, "bad gateway", http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// ServeTCPRoutes starts one dedicated listener per tcp_proxy route and
// runs each accept loop until ctx is cancelled. It blocks until every
// listener has stopped, so callers typically run it in its own goroutine.
// limiter is the same process-wide token bucket gating the main HTTP
// listener (§4.A is process-wide, not per-protocol); pass nil to admit
// every tcp_proxy connection unconditionally.
func ServeTCPRoutes(ctx context.Context, routes []ports.Route, filter ports.Filter, limiter ports.RateLimiter, log *logger.StyledLogger) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, route := range routes {
		if route.Kind != ports.RouteTCPProxy {
			continue
		}
		route := route

		listener, err := Listen(tcpAddr(route.TCPListenPort), TLSConfig{}, filter, limiter, log)
		if err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			continue
		}

		target := tcpproxy.Target{
			Host:         route.TCPTargetHost,
			Port:         route.TCPTargetPort,
			BufferSize:   route.TCPBufferSize,
			IdleTimeout:  route.TCPIdleTimeout,
			TotalTimeout: route.TCPTotalTimeout,
		}
		proxy := tcpproxy.New(target, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runTCPAcceptLoop(ctx, listener, proxy, log)
		}()

		go func() {
			<-ctx.Done()
			_ = listener.Close()
		}()
	}

	wg.Wait()
	return firstErr
}

func runTCPAcceptLoop(ctx context.Context, listener net.Listener, proxy *tcpproxy.Proxy, log *logger.StyledLogger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("tcp proxy accept error", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
		}

		go func() {
			if handleErr := proxy.Handle(ctx, conn); handleErr != nil && !errors.Is(handleErr, context.Canceled) {
				log.Warn("tcp proxy connection ended with error", "error", handleErr)
			}
		}()
	}
}

func tcpAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
