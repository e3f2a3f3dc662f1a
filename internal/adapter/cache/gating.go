package cache

import (
	"net/http"
	"strings"
)

// RequestCacheable implements the request-side cacheability gate: method allowed,
// path not under a no-cache prefix, and none of the bypass headers
// (default {Authorization}) present.
func RequestCacheable(r *http.Request, cfg Config, noCachePaths []string, bypassHeaders []string) bool {
	if !cfg.CacheableMethods[r.Method] {
		return false
	}
	for _, prefix := range noCachePaths {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	for _, h := range bypassHeaders {
		if r.Header.Get(h) != "" {
			return false
		}
	}
	return true
}

// ResponseCacheable implements the response-side cacheability gate.
func ResponseCacheable(status int, contentLength int64, header http.Header, cfg Config) bool {
	if !cfg.CacheableStatus[status] {
		return false
	}
	if cfg.MaxResponseSize > 0 && contentLength > cfg.MaxResponseSize {
		return false
	}

	flags := ParseCacheControl(header.Get("Cache-Control"))
	if flags.NoStore {
		return false
	}
	if flags.Private && !cfg.CachePrivate {
		return false
	}
	if cfg.RespectCacheControl && flags.NoCache {
		return false
	}
	return true
}
