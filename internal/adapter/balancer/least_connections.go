package balancer

import (
	"context"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// LeastConnectionsSelector picks argmin(active_connections), ties broken by
// list order. Connection counts live on the Endpoint itself (atomic), so
// this selector carries no state of its own.
type LeastConnectionsSelector struct {
	statsCollector ports.StatsCollector
}

func NewLeastConnectionsSelector(statsCollector ports.StatsCollector) *LeastConnectionsSelector {
	return &LeastConnectionsSelector{statsCollector: statsCollector}
}

func (l *LeastConnectionsSelector) Name() string {
	return StrategyLeastConnections
}

func (l *LeastConnectionsSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	routable := routableEndpoints(endpoints)
	if len(routable) == 0 {
		return nil, domain.ErrNoHealthyUpstream
	}

	selected := routable[0]
	min := selected.ActiveConnections()
	for _, e := range routable[1:] {
		if c := e.ActiveConnections(); c < min {
			min = c
			selected = e
		}
	}
	return selected, nil
}
