package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxgate/veloxgate/internal/adapter/balancer"
	"github.com/veloxgate/veloxgate/internal/adapter/cache"
	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

type fakeRouter struct {
	route *ports.Route
	err   error
}

func (f *fakeRouter) Match(path string) (*ports.Route, error) { return f.route, f.err }
func (f *fakeRouter) Swap(routes []ports.Route)                {}
func (f *fakeRouter) Routes() []ports.Route                    { return nil }

type noopBreakerRegistry struct{}

func (noopBreakerRegistry) Get(key string) ports.Breaker               { return nil }
func (noopBreakerRegistry) Remove(key string)                          {}
func (noopBreakerRegistry) Snapshot() map[string]domain.BreakerStats   { return nil }

func newUpstreamRoute(t *testing.T, backend *httptest.Server) *ports.Route {
	t.Helper()
	u, err := url.Parse(backend.URL)
	require.NoError(t, err)

	endpoint := domain.NewEndpoint("backend-1", u, u, 1, 1)

	return &ports.Route{
		Prefix:       "/api/",
		Kind:         ports.RouteUpstream,
		Endpoints:    []*domain.Endpoint{endpoint},
		StrategyName: "round_robin",
	}
}

func TestService_ProxyRequest_Success(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello from backend"))
	}))
	defer backend.Close()

	route := newUpstreamRoute(t, backend)
	router := &fakeRouter{route: route}
	factory := balancer.NewFactory(nil)

	svc := New(router, factory, noopBreakerRegistry{}, nil, cache.DefaultConfig(), nil, nil, DefaultProxyConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	rec := httptest.NewRecorder()

	stats, err := svc.ProxyRequest(context.Background(), rec, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello from backend", rec.Body.String())
	assert.Equal(t, "backend-1", stats.EndpointName)
	assert.False(t, stats.CacheHit)

	proxyStats, err := svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), proxyStats.TotalRequests)
	assert.Equal(t, int64(1), proxyStats.SuccessfulRequests)
}

func TestService_ProxyRequest_NotUpstreamRoute(t *testing.T) {
	router := &fakeRouter{route: &ports.Route{Kind: ports.RouteFileServer}}
	factory := balancer.NewFactory(nil)
	svc := New(router, factory, noopBreakerRegistry{}, nil, cache.DefaultConfig(), nil, nil, DefaultProxyConfig())

	req := httptest.NewRequest(http.MethodGet, "/static/x", nil)
	rec := httptest.NewRecorder()

	_, err := svc.ProxyRequest(context.Background(), rec, req)
	assert.Error(t, err)
}

func TestService_ProxyRequest_NoHealthyUpstream(t *testing.T) {
	router := &fakeRouter{route: &ports.Route{
		Prefix:       "/api/",
		Kind:         ports.RouteUpstream,
		Endpoints:    nil,
		StrategyName: "round_robin",
	}}
	factory := balancer.NewFactory(nil)
	svc := New(router, factory, noopBreakerRegistry{}, nil, cache.DefaultConfig(), nil, nil, DefaultProxyConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	rec := httptest.NewRecorder()

	_, err := svc.ProxyRequest(context.Background(), rec, req)
	assert.Error(t, err)
}

func TestNormalizeStrategy(t *testing.T) {
	assert.Equal(t, "round-robin", normalizeStrategy("round_robin"))
	assert.Equal(t, "least-connections", normalizeStrategy("least_connections"))
	assert.Equal(t, "ip-hash", normalizeStrategy("ip-hash"))
}
