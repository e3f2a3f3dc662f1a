package proxy

import (
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

// EventKind distinguishes the three proxy lifecycle outcomes worth
// surfacing to an async consumer beyond the inline stats counters
// ProxyRequest already updates on every branch.
type EventKind string

const (
	EventSuccess     EventKind = "success"
	EventFailure     EventKind = "failure"
	EventCircuitOpen EventKind = "circuit_open"
)

// Event is one outcome of a ProxyRequest call, published to Service's
// event bus (if one is wired) for async consumption. Publishing is
// fire-and-forget: PublishAsync queues the event for the bus's worker
// pool and drops it when that queue is full, so ProxyRequest never blocks.
type Event struct {
	Kind     EventKind
	Endpoint *domain.Endpoint
	Breaker  string
	Latency  time.Duration
	Bytes    int64
}
