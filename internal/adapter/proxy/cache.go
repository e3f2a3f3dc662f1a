package proxy

import (
	"io"
	"net/http"
	"time"

	"github.com/veloxgate/veloxgate/internal/adapter/cache"
	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// cacheKeyFor reports whether r's request is eligible to consult the
// cache at all (GET/HEAD, not a no-cache path, no bypass header) and, if
// so, builds the key to look it up under.
func (s *Service) cacheKeyFor(r *http.Request, route *ports.Route) (domain.CacheKey, bool) {
	if s.respCache == nil || !route.CacheEnabled {
		return domain.CacheKey{}, false
	}
	if !cache.RequestCacheable(r, s.cacheConfig, s.cacheConfig.NoCachePathPrefixes, s.cacheConfig.CacheBypassHeaders) {
		return domain.CacheKey{}, false
	}

	varySignature, uncacheable := cache.VarySignature(r.Header.Get("Vary"), r.Header)
	if uncacheable {
		return domain.CacheKey{}, false
	}

	return domain.CacheKey{
		Method:        r.Method,
		URL:           r.URL.Path,
		QueryParams:   r.URL.RawQuery,
		VarySignature: varySignature,
	}, true
}

// isCacheableResponse is the response-side gate: status code, size and
// Cache-Control headers all have to agree before a response is stored.
func isCacheableResponse(resp *http.Response, cfg cache.Config) bool {
	return cache.ResponseCacheable(resp.StatusCode, resp.ContentLength, resp.Header, cfg)
}

// storeCacheEntry builds a domain.CacheEntry from the already-streamed
// response body (captured into body by streamResponse's tee) and stores
// it under key.
func (s *Service) storeCacheEntry(key domain.CacheKey, resp *http.Response, body []byte) {
	now := time.Now()
	ttl := cache.DeriveTTL(resp.Header, now, s.cacheConfig.DefaultTTL, s.cacheConfig.MinTTL, s.cacheConfig.MaxTTL)
	flags := cache.ParseCacheControl(resp.Header.Get("Cache-Control"))

	entry := &domain.CacheEntry{
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentType:   resp.Header.Get("Content-Type"),
		Body:          body,
		Status:        resp.StatusCode,
		ContentLength: int64(len(body)),
		SizeBytes:     int64(len(body)),
		Flags:         flags,
	}

	_ = s.respCache.Store(key, entry)
}

// streamResponse copies src to w using buf, additionally appending every
// chunk into cacheBuf when non-nil so a cacheable response is captured
// without a second read of the upstream body.
func (s *Service) streamResponse(w io.Writer, src io.Reader, buf []byte, cacheBuf *[]byte) (int, error) {
	flusher, _ := w.(http.Flusher)
	total := 0

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if cacheBuf != nil {
				*cacheBuf = append(*cacheBuf, buf[:n]...)
			}
			written, werr := w.Write(buf[:n])
			total += written
			if werr != nil {
				return total, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
