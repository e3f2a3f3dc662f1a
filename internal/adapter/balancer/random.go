package balancer

import (
	"context"
	"math/rand"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// RandomSelector picks uniformly among routable endpoints.
type RandomSelector struct {
	statsCollector ports.StatsCollector
}

func NewRandomSelector(statsCollector ports.StatsCollector) *RandomSelector {
	return &RandomSelector{statsCollector: statsCollector}
}

func (r *RandomSelector) Name() string {
	return StrategyRandom
}

func (r *RandomSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	routable := routableEndpoints(endpoints)
	if len(routable) == 0 {
		return nil, domain.ErrNoHealthyUpstream
	}
	return routable[rand.Intn(len(routable))], nil
}
