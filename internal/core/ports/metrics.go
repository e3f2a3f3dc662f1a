package ports

import "net/http"

// MetricsHandler exposes the Prometheus exposition surface as a plain
// http.Handler so internal/app can mount it without importing the prometheus
// client directly.
type MetricsHandler interface {
	http.Handler
}
