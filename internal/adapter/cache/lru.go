package cache

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

const noIndex = -1

// slabEntry is one slot in the arena. Rather than a pointer-chasing
// doubly-linked list, prev/next are slab indices: no per-node heap
// allocation beyond the entry itself, and reordering is three int32
// writes instead of pointer rewrites.
type slabEntry struct {
	key        domain.CacheKey
	entry      domain.CacheEntry
	prev, next int32
	hitCount   int64 // updated with atomic ops; Get bumps it while holding the list mutex
	inUse      bool
}

// LRU is the arena-indexed LRU+TTL response cache. A single mutex
// guards the slab, free list and MRU/LRU pointers together: every hit
// reorders the list, so there's no read-only fast path to split out
// behind a separate RWMutex without a second lock upgrade on nearly every
// call, which would cost more than it saves.
type LRU struct {
	mu    sync.Mutex
	slab  []slabEntry
	index map[domain.CacheKey]int32
	free  []int32

	head, tail int32 // MRU, LRU ends; noIndex when empty

	maxEntries      int64
	maxSizeBytes    int64
	maxResponseSize int64

	currentSize    int64
	lastCleanup    time.Time
	cleanupMinGap  time.Duration

	stats domain.CacheStats
}

// Config bounds the cache's entry count, byte size and TTL behaviour.
type Config struct {
	MaxEntries         int64
	MaxSizeBytes       int64
	MaxResponseSize    int64
	DefaultTTL         time.Duration
	MinTTL             time.Duration
	MaxTTL             time.Duration
	CacheableMethods   map[string]bool
	CacheableStatus    map[int]bool
	NoCachePathPrefixes []string
	CacheBypassHeaders []string
	CachePrivate       bool
	RespectCacheControl bool
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:      10000,
		MaxSizeBytes:    256 << 20,
		MaxResponseSize: 8 << 20,
		DefaultTTL:      60 * time.Second,
		MinTTL:          time.Second,
		MaxTTL:          24 * time.Hour,
		CacheableMethods: map[string]bool{"GET": true, "HEAD": true},
		CacheableStatus:  map[int]bool{200: true, 203: true, 300: true, 301: true, 404: true, 410: true},
		CacheBypassHeaders: []string{"Authorization"},
	}
}

func New(cfg Config) *LRU {
	return &LRU{
		index:           make(map[domain.CacheKey]int32),
		head:            noIndex,
		tail:            noIndex,
		maxEntries:      cfg.MaxEntries,
		maxSizeBytes:    cfg.MaxSizeBytes,
		maxResponseSize: cfg.MaxResponseSize,
		cleanupMinGap:   time.Minute,
	}
}

// Get looks up key, evicting it first if it has expired.
func (c *LRU) Get(key domain.CacheKey, r *http.Request) (*domain.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[key]
	if !ok {
		c.stats.Misses++
		return nil, domain.ErrCacheMiss
	}

	slot := &c.slab[idx]
	now := time.Now()
	if slot.entry.Expired(now) {
		c.removeLocked(idx)
		c.stats.Misses++
		c.stats.ExpiredEntries++
		return nil, domain.ErrCacheMiss
	}

	if r != nil && slot.entry.NeedsRevalidation(r.Header.Get("If-None-Match"), r.Header.Get("If-Modified-Since")) {
		c.stats.Misses++
		return nil, domain.ErrCacheMiss
	}

	c.moveToFrontLocked(idx)
	atomic.AddInt64(&slot.hitCount, 1)
	slot.entry.HitCount = atomic.LoadInt64(&slot.hitCount)
	c.stats.Hits++

	out := slot.entry
	return &out, nil
}

// Store implements put(key, entry): rejects non-cacheable entries,
// replaces an existing entry in place, and evicts before inserting.
func (c *LRU) Store(key domain.CacheKey, entry *domain.CacheEntry) error {
	if entry.Flags.NoStore {
		return nil
	}
	if entry.SizeBytes > c.maxResponseSize {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.index[key]; ok {
		old := c.slab[idx].entry
		c.currentSize += entry.SizeBytes - old.SizeBytes
		c.slab[idx].entry = *entry
		c.moveToFrontLocked(idx)
		c.stats.Stores++
		return nil
	}

	c.evictIfNeededLocked(entry.SizeBytes)

	idx := c.allocLocked()
	c.slab[idx] = slabEntry{key: key, entry: *entry, prev: noIndex, next: noIndex, inUse: true}
	c.index[key] = idx
	c.pushFrontLocked(idx)
	c.currentSize += entry.SizeBytes
	c.stats.Stores++
	c.stats.CurrentEntries = int64(len(c.index))
	c.stats.CurrentSizeBytes = c.currentSize
	return nil
}

func (c *LRU) Invalidate(key domain.CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.index[key]; ok {
		c.removeLocked(idx)
	}
}

func (c *LRU) Stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.CurrentEntries = int64(len(c.index))
	stats.CurrentSizeBytes = c.currentSize
	return stats
}

// evictIfNeededLocked implements evict_if_needed: prune expired entries
// first (rate-limited to once per minute), then evict from the LRU tail
// until both limits are satisfied.
func (c *LRU) evictIfNeededLocked(incomingSize int64) {
	now := time.Now()
	if now.Sub(c.lastCleanup) >= c.cleanupMinGap {
		c.pruneExpiredLocked(now)
		c.lastCleanup = now
	}

	for (int64(len(c.index)) >= c.maxEntries && c.maxEntries > 0) ||
		(c.currentSize+incomingSize > c.maxSizeBytes && c.maxSizeBytes > 0) {
		if c.tail == noIndex {
			return
		}
		c.removeLocked(c.tail)
		c.stats.Evictions++
	}
}

func (c *LRU) pruneExpiredLocked(now time.Time) {
	for idx := range c.slab {
		if c.slab[idx].inUse && c.slab[idx].entry.Expired(now) {
			c.removeLocked(int32(idx))
			c.stats.ExpiredEntries++
		}
	}
}

func (c *LRU) allocLocked() int32 {
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		return idx
	}
	c.slab = append(c.slab, slabEntry{})
	return int32(len(c.slab) - 1)
}

func (c *LRU) removeLocked(idx int32) {
	slot := &c.slab[idx]
	c.currentSize -= slot.entry.SizeBytes
	delete(c.index, slot.key)
	c.unlinkLocked(idx)
	*slot = slabEntry{prev: noIndex, next: noIndex}
	c.free = append(c.free, idx)
	c.stats.CurrentEntries = int64(len(c.index))
	c.stats.CurrentSizeBytes = c.currentSize
}

func (c *LRU) unlinkLocked(idx int32) {
	slot := &c.slab[idx]
	if slot.prev != noIndex {
		c.slab[slot.prev].next = slot.next
	} else {
		c.head = slot.next
	}
	if slot.next != noIndex {
		c.slab[slot.next].prev = slot.prev
	} else {
		c.tail = slot.prev
	}
}

func (c *LRU) pushFrontLocked(idx int32) {
	slot := &c.slab[idx]
	slot.prev = noIndex
	slot.next = c.head
	if c.head != noIndex {
		c.slab[c.head].prev = idx
	}
	c.head = idx
	if c.tail == noIndex {
		c.tail = idx
	}
}

func (c *LRU) moveToFrontLocked(idx int32) {
	if c.head == idx {
		return
	}
	c.unlinkLocked(idx)
	c.pushFrontLocked(idx)
}

// ParseCacheControl splits Cache-Control directives on commas and
// recognises no-cache, no-store, must-revalidate and private. max-age and
// s-maxage are not read here; DeriveTTL handles them.
func ParseCacheControl(header string) domain.CacheFlags {
	var flags domain.CacheFlags
	for _, part := range strings.Split(header, ",") {
		directive := strings.ToLower(strings.TrimSpace(part))
		switch {
		case directive == "no-cache":
			flags.NoCache = true
		case directive == "no-store":
			flags.NoStore = true
		case directive == "must-revalidate":
			flags.MustRevalidate = true
		case directive == "private":
			flags.Private = true
		}
	}
	return flags
}

// DeriveTTL applies the s-maxage / max-age / Expires / default precedence,
// clamped to [minTTL, maxTTL].
func DeriveTTL(header http.Header, now time.Time, defaultTTL, minTTL, maxTTL time.Duration) time.Duration {
	ttl := defaultTTL

	cc := header.Get("Cache-Control")
	if cc != "" {
		for _, part := range strings.Split(cc, ",") {
			directive := strings.ToLower(strings.TrimSpace(part))
			if v, ok := strings.CutPrefix(directive, "s-maxage="); ok {
				if secs, err := strconv.Atoi(v); err == nil {
					ttl = time.Duration(secs) * time.Second
					return clampTTL(ttl, minTTL, maxTTL)
				}
			}
		}
		for _, part := range strings.Split(cc, ",") {
			directive := strings.ToLower(strings.TrimSpace(part))
			if v, ok := strings.CutPrefix(directive, "max-age="); ok {
				if secs, err := strconv.Atoi(v); err == nil {
					ttl = time.Duration(secs) * time.Second
					return clampTTL(ttl, minTTL, maxTTL)
				}
			}
		}
	}

	if exp := header.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			ttl = t.Sub(now)
			return clampTTL(ttl, minTTL, maxTTL)
		}
	}

	return clampTTL(ttl, minTTL, maxTTL)
}

func clampTTL(ttl, min, max time.Duration) time.Duration {
	if min > 0 && ttl < min {
		return min
	}
	if max > 0 && ttl > max {
		return max
	}
	return ttl
}

// VarySignature computes the cache key's vary_signature from the request
// headers named in a response's Vary header (case-insensitive). A
// "Vary: *" response can never be precomputed and must be treated as
// no-store by the caller.
func VarySignature(vary string, reqHeader http.Header) (signature string, uncacheable bool) {
	if strings.TrimSpace(vary) == "*" {
		return "", true
	}
	var b strings.Builder
	for _, name := range strings.Split(vary, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		b.WriteString(strings.ToLower(name))
		b.WriteByte('=')
		b.WriteString(reqHeader.Get(name))
		b.WriteByte(';')
	}
	return b.String(), false
}
