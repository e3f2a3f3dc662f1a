package router

import (
	"sync/atomic"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// trieNode is one path byte in the prefix trie, keyed character-by-character
// as spec'd rather than by '/'-delimited segment: a registered prefix like
// "/api" must match "/apikey", not just "/api/..." boundaries. A node with a
// non-nil route terminates a registered prefix.
type trieNode struct {
	children map[byte]*trieNode
	route    *ports.Route
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode)}
}

// RouteTable is the prefix-trie implementation of ports.Router.
// Lookups walk the trie byte by byte and remember the last node that
// terminated a route, so "/api/v1/foo" resolves against a "/api/" entry
// when no more specific "/api/v1/" entry exists — longest-prefix-match.
//
// The whole trie is rebuilt and swapped atomically on reload; readers
// never block on a writer and never see a partially-updated table.
type RouteTable struct {
	root atomic.Pointer[trieNode]
}

// NewRouteTable returns an empty table; Swap must be called at least once
// before Match can resolve anything.
func NewRouteTable() *RouteTable {
	rt := &RouteTable{}
	rt.root.Store(newTrieNode())
	return rt
}

// Swap builds a fresh trie from routes and publishes it atomically: a
// config reload never blocks a running Match, and in-flight Match calls
// against the old trie complete unaffected.
func (rt *RouteTable) Swap(routes []ports.Route) {
	root := newTrieNode()
	for i := range routes {
		route := routes[i]
		node := root
		for j := 0; j < len(route.Prefix); j++ {
			ch := route.Prefix[j]
			child, ok := node.children[ch]
			if !ok {
				child = newTrieNode()
				node.children[ch] = child
			}
			node = child
		}
		node.route = &route
	}
	rt.root.Store(root)
}

// Match finds the longest registered prefix containing path.
func (rt *RouteTable) Match(path string) (*ports.Route, error) {
	node := rt.root.Load()

	// The root itself may carry the "" catch-all route (an empty prefix).
	var best *ports.Route
	if node.route != nil {
		best = node.route
	}

	cur := node
	for i := 0; i < len(path); i++ {
		child, ok := cur.children[path[i]]
		if !ok {
			break
		}
		cur = child
		if cur.route != nil {
			best = cur.route
		}
	}

	if best == nil {
		return nil, domain.ErrRouteNotFound
	}
	return best, nil
}

// Routes returns a snapshot of every registered route, in no particular
// order. The admin /config endpoint does not use it; it encodes the
// loaded config instead.
func (rt *RouteTable) Routes() []ports.Route {
	node := rt.root.Load()
	var out []ports.Route
	var walk func(n *trieNode)
	walk = func(n *trieNode) {
		if n.route != nil {
			out = append(out, *n.route)
		}
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(node)
	return out
}
