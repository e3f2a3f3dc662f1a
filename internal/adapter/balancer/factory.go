package balancer

import (
	"fmt"
	"sync"

	"github.com/veloxgate/veloxgate/internal/core/ports"
)

const (
	StrategyRoundRobin         = "round-robin"
	StrategyLeastConnections   = "least-connections"
	StrategyWeightedRoundRobin = "weighted-round-robin"
	StrategyRandom             = "random"
	StrategyIPHash             = "ip-hash"
)

// Factory builds the configured EndpointSelector by name. New
// strategies register themselves at construction time, so a caller never
// has to touch this file to add one.
type Factory struct {
	creators       map[string]func(ports.StatsCollector) ports.Selector
	statsCollector ports.StatsCollector
	mu             sync.RWMutex
}

func NewFactory(statsCollector ports.StatsCollector) *Factory {
	factory := &Factory{
		creators:       make(map[string]func(ports.StatsCollector) ports.Selector),
		statsCollector: statsCollector,
	}

	factory.Register(StrategyRoundRobin, func(c ports.StatsCollector) ports.Selector {
		return NewRoundRobinSelector(c)
	})
	factory.Register(StrategyLeastConnections, func(c ports.StatsCollector) ports.Selector {
		return NewLeastConnectionsSelector(c)
	})
	factory.Register(StrategyWeightedRoundRobin, func(c ports.StatsCollector) ports.Selector {
		return NewWeightedRoundRobinSelector(c)
	})
	factory.Register(StrategyRandom, func(c ports.StatsCollector) ports.Selector {
		return NewRandomSelector(c)
	})
	factory.Register(StrategyIPHash, func(c ports.StatsCollector) ports.Selector {
		return NewIPHashSelector(c)
	})

	return factory
}

func (f *Factory) Register(name string, creator func(ports.StatsCollector) ports.Selector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[name] = creator
}

func (f *Factory) Create(name string) (ports.Selector, error) {
	f.mu.RLock()
	creator, exists := f.creators[name]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown load balancer strategy: %s", name)
	}

	return creator(f.statsCollector), nil
}

func (f *Factory) AvailableStrategies() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	strategies := make([]string, 0, len(f.creators))
	for name := range f.creators {
		strategies = append(strategies, name)
	}
	return strategies
}
