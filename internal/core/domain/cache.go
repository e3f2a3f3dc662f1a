package domain

import "time"

// CacheKey identifies a cached HTTP response. VarySignature disambiguates
// entries that share method/url/query but differ by the headers named in
// the response's Vary header.
type CacheKey struct {
	Method         string
	URL            string
	QueryParams    string
	VarySignature  string
}

// CacheFlags captures the Cache-Control directives relevant to eviction and
// revalidation decisions.
type CacheFlags struct {
	Private        bool
	NoCache        bool
	NoStore        bool
	MustRevalidate bool
}

// CacheEntry is a stored HTTP response. Size accounting and TTL bookkeeping
// live alongside the body so the cache can evict without re-measuring.
type CacheEntry struct {
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ETag          string
	LastModified  string
	ContentType   string
	Body          []byte
	Status        int
	ContentLength int64
	SizeBytes     int64
	HitCount      int64
	Flags         CacheFlags
}

// Expired reports whether the entry is stale as of t.
func (e *CacheEntry) Expired(t time.Time) bool {
	return !t.Before(e.ExpiresAt)
}

// NeedsRevalidation applies the conditional-request rules: a
// must-revalidate entry, or a request carrying a conditional header that
// disagrees with the entry's validators, must be revalidated upstream.
func (e *CacheEntry) NeedsRevalidation(ifNoneMatch, ifModifiedSince string) bool {
	if e.Flags.MustRevalidate {
		return true
	}
	if ifNoneMatch != "" && ifNoneMatch != e.ETag {
		return true
	}
	if ifModifiedSince != "" && ifModifiedSince != e.LastModified {
		return true
	}
	return false
}

// CacheStats mirrors the counters the cache exposes on the admin surface.
type CacheStats struct {
	Hits            int64
	Misses          int64
	Stores          int64
	Evictions       int64
	ExpiredEntries  int64
	CurrentSizeBytes int64
	CurrentEntries  int64
}

// HitRatio returns hits/(hits+misses), or 0 when no lookups have occurred.
func (s CacheStats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
