package cache

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

func keyFor(url string) domain.CacheKey {
	return domain.CacheKey{Method: "GET", URL: url}
}

func entryWithTTL(ttl time.Duration) *domain.CacheEntry {
	now := time.Now()
	return &domain.CacheEntry{
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    200,
		SizeBytes: 10,
	}
}

// put(k,e); get(k) -> e while now < e.expires_at.
func TestLRU_PutThenGetRoundTrips(t *testing.T) {
	c := New(DefaultConfig())
	k := keyFor("/a")
	require.NoError(t, c.Store(k, entryWithTTL(time.Minute)))

	got, err := c.Get(k, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, got.Status)
	assert.EqualValues(t, 1, c.Stats().Hits)
}

// put(k,e); now := e.expires_at + eps; get(k) -> miss, expired_entries +1.
func TestLRU_ExpiredEntryIsEvictedOnGet(t *testing.T) {
	c := New(DefaultConfig())
	k := keyFor("/a")
	require.NoError(t, c.Store(k, entryWithTTL(time.Millisecond)))

	time.Sleep(5 * time.Millisecond)
	_, err := c.Get(k, nil)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.ExpiredEntries)
}

// Seed scenario 3: max_entries=2; put(A); put(B); get(A); put(C) ->
// resident {A, C}, B evicted, evictions==1.
func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c := New(cfg)

	a, b, cc := keyFor("/a"), keyFor("/b"), keyFor("/c")
	require.NoError(t, c.Store(a, entryWithTTL(time.Minute)))
	require.NoError(t, c.Store(b, entryWithTTL(time.Minute)))

	_, err := c.Get(a, nil)
	require.NoError(t, err)

	require.NoError(t, c.Store(cc, entryWithTTL(time.Minute)))

	_, errA := c.Get(a, nil)
	_, errB := c.Get(b, nil)
	_, errC := c.Get(cc, nil)

	assert.NoError(t, errA)
	assert.ErrorIs(t, errB, domain.ErrCacheMiss)
	assert.NoError(t, errC)
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

// no_store entries are never cached regardless of other fields.
func TestLRU_NoStoreNeverCached(t *testing.T) {
	c := New(DefaultConfig())
	k := keyFor("/a")
	e := entryWithTTL(time.Minute)
	e.Flags.NoStore = true
	require.NoError(t, c.Store(k, e))

	_, err := c.Get(k, nil)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

// Entries larger than max_response_size are rejected.
func TestLRU_OversizedEntryRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxResponseSize = 5
	c := New(cfg)
	k := keyFor("/a")
	e := entryWithTTL(time.Minute)
	e.SizeBytes = 6
	require.NoError(t, c.Store(k, e))

	_, err := c.Get(k, nil)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

// current_size_bytes == sum of resident entries' size_bytes; current_entries
// == |entries|, both updated on store and eviction.
func TestLRU_SizeAccountingTracksResidentSet(t *testing.T) {
	c := New(DefaultConfig())
	a, b := keyFor("/a"), keyFor("/b")
	require.NoError(t, c.Store(a, entryWithTTL(time.Minute)))
	require.NoError(t, c.Store(b, entryWithTTL(time.Minute)))

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.CurrentEntries)
	assert.EqualValues(t, 20, stats.CurrentSizeBytes)

	c.Invalidate(a)
	stats = c.Stats()
	assert.EqualValues(t, 1, stats.CurrentEntries)
	assert.EqualValues(t, 10, stats.CurrentSizeBytes)
}

// A response carrying Vary: * cannot be precomputed and is treated as
// no-store by the caller.
func TestVarySignature_StarIsUncacheable(t *testing.T) {
	_, uncacheable := VarySignature("*", http.Header{})
	assert.True(t, uncacheable)
}

func TestVarySignature_BuildsCanonicalString(t *testing.T) {
	h := http.Header{}
	h.Set("Accept-Encoding", "gzip")
	h.Set("X-Region", "eu")
	sig, uncacheable := VarySignature("Accept-Encoding, X-Region", h)
	assert.False(t, uncacheable)
	assert.Equal(t, "accept-encoding=gzip;x-region=eu;", sig)
}

func TestParseCacheControl_RecognisesDirectives(t *testing.T) {
	flags := ParseCacheControl("no-cache, private, must-revalidate")
	assert.True(t, flags.NoCache)
	assert.True(t, flags.Private)
	assert.True(t, flags.MustRevalidate)
	assert.False(t, flags.NoStore)
}

func TestDeriveTTL_PrefersSMaxageOverMaxAgeOverExpires(t *testing.T) {
	h := http.Header{}
	h.Set("Cache-Control", "s-maxage=30, max-age=10")
	ttl := DeriveTTL(h, time.Now(), time.Minute, time.Second, time.Hour)
	assert.Equal(t, 30*time.Second, ttl)
}

func TestDeriveTTL_ClampsToMinAndMax(t *testing.T) {
	h := http.Header{}
	h.Set("Cache-Control", "max-age=1000000")
	ttl := DeriveTTL(h, time.Now(), time.Minute, time.Second, 10*time.Second)
	assert.Equal(t, 10*time.Second, ttl)
}
