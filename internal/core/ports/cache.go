package ports

import (
	"net/http"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

// ResponseCache is the LRU+TTL HTTP response cache contract. Get returns
// domain.ErrCacheMiss on a miss, expiry, or an entry that needs upstream
// revalidation given the request's conditional headers.
type ResponseCache interface {
	Get(key domain.CacheKey, r *http.Request) (*domain.CacheEntry, error)
	Store(key domain.CacheKey, entry *domain.CacheEntry) error
	Invalidate(key domain.CacheKey)
	Stats() domain.CacheStats
}
