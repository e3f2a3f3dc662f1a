package balancer

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

func mustEndpoint(t *testing.T, name string, weight int) *domain.Endpoint {
	t.Helper()
	u, err := url.Parse("http://" + name + ":8080")
	require.NoError(t, err)
	return domain.NewEndpoint(name, u, u, weight, 1)
}

// Seed scenario 4: round robin over three equally-weighted healthy servers
// visits each once every |set| picks, in registration order.
func TestRoundRobin_VisitsEveryServerInOrder(t *testing.T) {
	s1, s2, s3 := mustEndpoint(t, "s1", 1), mustEndpoint(t, "s2", 1), mustEndpoint(t, "s3", 1)
	endpoints := []*domain.Endpoint{s1, s2, s3}
	sel := NewRoundRobinSelector(nil)

	var picks []string
	for i := 0; i < 6; i++ {
		e, err := sel.Select(context.Background(), endpoints)
		require.NoError(t, err)
		picks = append(picks, e.Name)
	}
	assert.Equal(t, []string{"s1", "s2", "s3", "s1", "s2", "s3"}, picks)
}

func TestRoundRobin_NoAvailableServerIsNil(t *testing.T) {
	sel := NewRoundRobinSelector(nil)
	_, err := sel.Select(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNoHealthyUpstream)
}

// Seed scenario 5: weights [5,1,1] over the first 7 picks in Nginx smooth
// order yields s1,s1,s2,s1,s3,s1,s1.
func TestWeightedRoundRobin_NginxSmoothOrder(t *testing.T) {
	s1, s2, s3 := mustEndpoint(t, "s1", 5), mustEndpoint(t, "s2", 1), mustEndpoint(t, "s3", 1)
	endpoints := []*domain.Endpoint{s1, s2, s3}
	sel := NewWeightedRoundRobinSelector(nil)

	var picks []string
	for i := 0; i < 7; i++ {
		e, err := sel.Select(context.Background(), endpoints)
		require.NoError(t, err)
		picks = append(picks, e.Name)
	}
	assert.Equal(t, []string{"s1", "s1", "s2", "s1", "s3", "s1", "s1"}, picks)
}

// Property test (§8 invariant 8): over K picks, server i is chosen
// floor(K*w_i/W) or ceil(K*w_i/W) times.
func TestWeightedRoundRobin_DistributionMatchesWeights(t *testing.T) {
	s1, s2, s3 := mustEndpoint(t, "s1", 5), mustEndpoint(t, "s2", 1), mustEndpoint(t, "s3", 1)
	endpoints := []*domain.Endpoint{s1, s2, s3}
	sel := NewWeightedRoundRobinSelector(nil)

	const picks = 70
	counts := map[string]int{}
	for i := 0; i < picks; i++ {
		e, err := sel.Select(context.Background(), endpoints)
		require.NoError(t, err)
		counts[e.Name]++
	}

	assert.InDelta(t, 50, counts["s1"], 1)
	assert.InDelta(t, 10, counts["s2"], 1)
	assert.InDelta(t, 10, counts["s3"], 1)
}

func TestLeastConnections_PicksMinimumTiesBrokenByOrder(t *testing.T) {
	s1, s2, s3 := mustEndpoint(t, "s1", 1), mustEndpoint(t, "s2", 1), mustEndpoint(t, "s3", 1)
	s1.IncrementConnections()
	s1.IncrementConnections()
	s2.IncrementConnections()

	sel := NewLeastConnectionsSelector(nil)
	e, err := sel.Select(context.Background(), []*domain.Endpoint{s1, s2, s3})
	require.NoError(t, err)
	assert.Equal(t, "s3", e.Name)
}

func TestIPHash_IsDeterministicForSameClient(t *testing.T) {
	s1, s2, s3 := mustEndpoint(t, "s1", 1), mustEndpoint(t, "s2", 1), mustEndpoint(t, "s3", 1)
	endpoints := []*domain.Endpoint{s1, s2, s3}
	sel := NewIPHashSelector(nil)

	ctx := WithClientIP(context.Background(), "203.0.113.9")
	first, err := sel.Select(ctx, endpoints)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := sel.Select(ctx, endpoints)
		require.NoError(t, err)
		assert.Equal(t, first.Name, again.Name)
	}
}

func TestIPHash_DifferentClientsCanLandDifferently(t *testing.T) {
	s1, s2, s3 := mustEndpoint(t, "s1", 1), mustEndpoint(t, "s2", 1), mustEndpoint(t, "s3", 1)
	endpoints := []*domain.Endpoint{s1, s2, s3}
	sel := NewIPHashSelector(nil)

	seen := map[string]bool{}
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		e, err := sel.Select(WithClientIP(context.Background(), ip), endpoints)
		require.NoError(t, err)
		seen[e.Name] = true
	}
	assert.Greater(t, len(seen), 1)
}

// IsRoutable excludes only Unhealthy servers from the selectable set.
func TestRoutableEndpoints_ExcludesOnlyUnhealthy(t *testing.T) {
	healthy := mustEndpoint(t, "healthy", 1)
	healthy.RecordProbe(true, 0, 1, 3, healthy.NextCheckTime())

	unknown := mustEndpoint(t, "unknown", 1)

	unhealthy := mustEndpoint(t, "unhealthy", 1)
	for i := 0; i < 3; i++ {
		unhealthy.RecordProbe(false, 0, 1, 3, unhealthy.NextCheckTime())
	}

	routable := routableEndpoints([]*domain.Endpoint{healthy, unknown, unhealthy})
	names := map[string]bool{}
	for _, e := range routable {
		names[e.Name] = true
	}
	assert.True(t, names["healthy"])
	assert.True(t, names["unknown"])
	assert.False(t, names["unhealthy"])
}

func TestRandomSelector_AlwaysPicksFromRoutableSet(t *testing.T) {
	s1, s2 := mustEndpoint(t, "s1", 1), mustEndpoint(t, "s2", 1)
	sel := NewRandomSelector(nil)
	for i := 0; i < 20; i++ {
		e, err := sel.Select(context.Background(), []*domain.Endpoint{s1, s2})
		require.NoError(t, err)
		assert.Contains(t, []string{"s1", "s2"}, e.Name)
	}
}
