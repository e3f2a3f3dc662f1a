package balancer

import (
	"context"
	"hash/fnv"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

type ipHashContextKey struct{}

// WithClientIP attaches the client address IpHashSelector reads to pick a
// deterministic endpoint for that client. The acceptor sets this before
// handing a request to the router.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipHashContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipHashContextKey{}).(string)
	return ip
}

// IPHashSelector maps a client IP to a stable endpoint via hash(ip) mod
// |available|. A client keeps hitting the same upstream as long as the
// routable set doesn't change shape.
type IPHashSelector struct {
	statsCollector ports.StatsCollector
}

func NewIPHashSelector(statsCollector ports.StatsCollector) *IPHashSelector {
	return &IPHashSelector{statsCollector: statsCollector}
}

func (h *IPHashSelector) Name() string {
	return StrategyIPHash
}

func (h *IPHashSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	routable := routableEndpoints(endpoints)
	if len(routable) == 0 {
		return nil, domain.ErrNoHealthyUpstream
	}

	ip := clientIPFromContext(ctx)
	if ip == "" {
		return routable[0], nil
	}

	h64 := fnv.New64a()
	_, _ = h64.Write([]byte(ip))
	index := h64.Sum64() % uint64(len(routable))

	return routable[index], nil
}
