package ports

import (
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

// RouteKind distinguishes what a matched Route hands the request to.
type RouteKind int

const (
	RouteUpstream RouteKind = iota
	RouteFileServer
	RouteTCPProxy
)

// Route is one entry in the route table: a path prefix bound to either an
// upstream pool, a local filesystem root, or a raw TCP target — the three
// things the dispatcher (§4.G) can hand an accepted connection to.
type Route struct {
	Prefix string
	Kind   RouteKind

	// Upstream pool (Kind == RouteUpstream).
	Endpoints    []*domain.Endpoint
	StrategyName string
	BreakerName  string
	CacheEnabled bool
	CacheTTLSec  int

	// Local filesystem root (Kind == RouteFileServer).
	FileRoot         string
	IndexFiles       []string
	DirectoryListing bool
	CacheControl     string

	// Raw TCP target (Kind == RouteTCPProxy). TCPListenPort is the
	// acceptor's own dedicated port for this route: a raw byte stream
	// carries no HTTP path to dispatch on, so each tcp_proxy route gets
	// its own listener rather than sharing the HTTP port.
	TCPTargetHost   string
	TCPTargetPort   int
	TCPListenPort   int
	TCPBufferSize   int
	TCPIdleTimeout  time.Duration
	TCPTotalTimeout time.Duration
}

// Router resolves a request path to its longest-prefix-matching Route.
// Swap atomically replaces the whole table on a config reload.
type Router interface {
	Match(path string) (*Route, error)
	Swap(routes []Route)
	Routes() []Route
}
