package ports

import "github.com/veloxgate/veloxgate/internal/core/domain"

// Selector is re-exported here so adapters depend on ports rather than
// domain directly; every load-balancing strategy implements it.
type Selector = domain.EndpointSelector

// SelectorFactory builds the configured strategy by name at startup; the
// StatsCollector each strategy needs for connection-count reporting is
// bound at factory construction time.
type SelectorFactory interface {
	Create(name string) (Selector, error)
	AvailableStrategies() []string
}
