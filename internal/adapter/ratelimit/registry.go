package ratelimit

import (
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// Registry owns one TokenBucket per client key plus a shared global
// bucket, matching ports.RateLimiterRegistry. New keys are created
// lazily and never removed explicitly; the HTTP middleware's cleanup
// goroutine (middleware.go) prunes ones that have gone idle. The per-IP
// table is an xsync.MapOf so a hot path of many distinct client IPs
// doesn't contend a single RWMutex on every request; each entry's
// lastAccess is its own atomic so touching it needs no map-wide lock.
type Registry struct {
	buckets       *xsync.MapOf[string, *entry]
	global        *TokenBucket
	max           int64
	refillPerTick int64
	tickInterval  time.Duration
}

type entry struct {
	bucket     *TokenBucket
	lastAccess atomic.Int64 // unix nano
}

func NewRegistry(max, refillPerTick int64, tickInterval time.Duration) *Registry {
	return &Registry{
		buckets:       xsync.NewMapOf[string, *entry](),
		global:        NewTokenBucket(max, refillPerTick, tickInterval),
		max:           max,
		refillPerTick: refillPerTick,
		tickInterval:  tickInterval,
	}
}

func (r *Registry) ForKey(key string) ports.RateLimiter {
	e, _ := r.buckets.LoadOrTryCompute(key, func() (newValue *entry, cancel bool) {
		ent := &entry{bucket: NewTokenBucket(r.max, r.refillPerTick, r.tickInterval)}
		ent.lastAccess.Store(time.Now().UnixNano())
		return ent, false
	})
	e.lastAccess.Store(time.Now().UnixNano())
	return e.bucket
}

func (r *Registry) Global() ports.RateLimiter {
	return r.global
}

// PruneIdle removes per-key buckets untouched since cutoff, stopping their
// refill goroutines first. Called periodically from the HTTP middleware's
// cleanup ticker so long-running processes don't accumulate one goroutine
// per client IP ever seen.
func (r *Registry) PruneIdle(cutoff time.Time) {
	cutoffNano := cutoff.UnixNano()
	r.buckets.Range(func(key string, e *entry) bool {
		if e.lastAccess.Load() < cutoffNano {
			e.bucket.Stop()
			r.buckets.Delete(key)
		}
		return true
	})
}
