// Package upstream holds the in-memory server pool backing a route's
// upstream block: the set of domain.Endpoint actors the load balancer
// selects from and the health checker probes.
package upstream

import (
	"context"
	"sync"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

// Repository is a static, in-memory domain.EndpointRepository. Membership
// only changes on a config reload (internal/app rebuilds one per route),
// so a plain RWMutex-guarded map is enough — no versioning or diffing like
// the old discovery package's UpsertFromConfig needed for live churn
// detection.
type Repository struct {
	mu        sync.RWMutex
	endpoints map[string]*domain.Endpoint
}

// NewRepository builds a repository seeded with the given endpoints.
func NewRepository(endpoints ...*domain.Endpoint) *Repository {
	r := &Repository{endpoints: make(map[string]*domain.Endpoint, len(endpoints))}
	for _, ep := range endpoints {
		r.endpoints[ep.Key()] = ep
	}
	return r
}

func (r *Repository) GetAll(ctx context.Context) ([]*domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		all = append(all, ep)
	}
	return all, nil
}

// GetAvailable returns every endpoint whose Status is routable (§4.D: all
// but Unhealthy).
func (r *Repository) GetAvailable(ctx context.Context) ([]*domain.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := make([]*domain.Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		if ep.Status().IsRoutable() {
			available = append(available, ep)
		}
	}
	return available, nil
}

func (r *Repository) Add(ctx context.Context, endpoint *domain.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[endpoint.Key()] = endpoint
	return nil
}

func (r *Repository) Remove(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[key]; !ok {
		return &domain.ErrEndpointNotFound{URL: key}
	}
	delete(r.endpoints, key)
	return nil
}
