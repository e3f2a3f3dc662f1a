package constants

const (
	ContextRoutePrefixKey  = "route_prefix"  // injected so the proxy can strip the matched prefix before forwarding
	ContextRequestIdKey    = "request_id"    // generated per request, carried into logs and the X-Request-Id response header
	ContextRequestTimeKey  = "request_time"  // start time, used to compute the request's latency breakdown
	ContextOriginalPathKey = "original_path" // path before prefix stripping, for logging
	ContextKeyStream       = "stream"        // marks a response that must be streamed rather than buffered
)
