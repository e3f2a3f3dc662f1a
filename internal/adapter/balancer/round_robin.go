package balancer

import (
	"context"
	"sync/atomic"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// RoundRobinSelector advances a shared counter under atomic ops so Select
// never needs a lock.
type RoundRobinSelector struct {
	statsCollector ports.StatsCollector
	counter        uint64
}

func NewRoundRobinSelector(statsCollector ports.StatsCollector) *RoundRobinSelector {
	return &RoundRobinSelector{statsCollector: statsCollector}
}

func (r *RoundRobinSelector) Name() string {
	return StrategyRoundRobin
}

func (r *RoundRobinSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	routable := routableEndpoints(endpoints)
	if len(routable) == 0 {
		return nil, domain.ErrNoHealthyUpstream
	}

	current := atomic.AddUint64(&r.counter, 1) - 1
	index := current % uint64(len(routable))

	return routable[index], nil
}

// routableEndpoints filters down to the servers IsRoutable allows traffic
// to, shared by every selector in this package.
func routableEndpoints(endpoints []*domain.Endpoint) []*domain.Endpoint {
	if len(endpoints) == 0 {
		return nil
	}
	routable := make([]*domain.Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if e.Status().IsRoutable() {
			routable = append(routable, e)
		}
	}
	return routable
}
