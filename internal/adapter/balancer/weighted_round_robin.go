package balancer

import (
	"context"
	"sync"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// WeightedRoundRobinSelector implements the Nginx smooth-weighted algorithm:
// every pick adds each endpoint's weight to its running total,
// selects the argmax, then subtracts the sum of all weights from the
// winner. This spreads picks proportionally to weight without the bursts a
// naive "repeat N times" weighted round robin produces.
type WeightedRoundRobinSelector struct {
	statsCollector ports.StatsCollector
	mu             sync.Mutex
	currentWeight  map[string]int
}

func NewWeightedRoundRobinSelector(statsCollector ports.StatsCollector) *WeightedRoundRobinSelector {
	return &WeightedRoundRobinSelector{
		statsCollector: statsCollector,
		currentWeight:  make(map[string]int),
	}
}

func (w *WeightedRoundRobinSelector) Name() string {
	return StrategyWeightedRoundRobin
}

func (w *WeightedRoundRobinSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	routable := routableEndpoints(endpoints)
	if len(routable) == 0 {
		return nil, domain.ErrNoHealthyUpstream
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	totalWeight := 0
	var best *domain.Endpoint
	bestWeight := 0

	for _, e := range routable {
		weight := e.Weight
		if weight <= 0 {
			weight = 1
		}
		totalWeight += weight

		key := e.Key()
		w.currentWeight[key] += weight

		if best == nil || w.currentWeight[key] > bestWeight {
			best = e
			bestWeight = w.currentWeight[key]
		}
	}

	w.currentWeight[best.Key()] -= totalWeight

	return best, nil
}
