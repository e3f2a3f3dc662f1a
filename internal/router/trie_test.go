package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

func TestRouteTable_MatchesLongestPrefix(t *testing.T) {
	rt := NewRouteTable()
	rt.Swap([]ports.Route{
		{Prefix: "/", Kind: ports.RouteFileServer, FileRoot: "/var/www"},
		{Prefix: "/api", Kind: ports.RouteUpstream, StrategyName: "round_robin"},
		{Prefix: "/api/v1", Kind: ports.RouteUpstream, StrategyName: "least_connections"},
	})

	route, err := rt.Match("/api/v1/widgets")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1", route.Prefix)

	route, err = rt.Match("/api/other")
	require.NoError(t, err)
	assert.Equal(t, "/api", route.Prefix)

	route, err = rt.Match("/anything")
	require.NoError(t, err)
	assert.Equal(t, "/", route.Prefix)
}

// The trie is keyed byte by byte, not by '/'-delimited segment: a
// registered prefix matches any path it is a literal prefix of, even when
// the next character isn't a segment boundary.
func TestRouteTable_MatchesNonSegmentAlignedPrefix(t *testing.T) {
	rt := NewRouteTable()
	rt.Swap([]ports.Route{
		{Prefix: "/api", Kind: ports.RouteUpstream, StrategyName: "round_robin"},
	})

	route, err := rt.Match("/apikey")
	require.NoError(t, err)
	assert.Equal(t, "/api", route.Prefix)
}

func TestRouteTable_NoMatchReturnsErrRouteNotFound(t *testing.T) {
	rt := NewRouteTable()
	rt.Swap([]ports.Route{
		{Prefix: "/api", Kind: ports.RouteUpstream},
	})

	_, err := rt.Match("/other")
	assert.ErrorIs(t, err, domain.ErrRouteNotFound)
}

// Swap replaces the whole table atomically: a concurrent reader never sees
// a partially-built trie, and Match against the prior table (held by a
// caller that already fetched it) is unaffected by a later Swap.
func TestRouteTable_SwapReplacesAtomically(t *testing.T) {
	rt := NewRouteTable()
	rt.Swap([]ports.Route{{Prefix: "/old", Kind: ports.RouteUpstream}})

	_, err := rt.Match("/old")
	require.NoError(t, err)

	rt.Swap([]ports.Route{{Prefix: "/new", Kind: ports.RouteUpstream}})

	_, err = rt.Match("/old")
	assert.ErrorIs(t, err, domain.ErrRouteNotFound)

	route, err := rt.Match("/new")
	require.NoError(t, err)
	assert.Equal(t, "/new", route.Prefix)
}

func TestRouteTable_RoutesReturnsEverySwappedEntry(t *testing.T) {
	rt := NewRouteTable()
	rt.Swap([]ports.Route{
		{Prefix: "/", Kind: ports.RouteFileServer},
		{Prefix: "/api", Kind: ports.RouteUpstream},
	})

	routes := rt.Routes()
	assert.Len(t, routes, 2)
}
