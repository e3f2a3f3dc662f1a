package breaker

import (
	"strconv"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
)

// Registry owns one CircuitBreaker per name for the process lifetime. The
// lock-free xsync.MapOf handles the "many readers, rare insertions" access
// pattern without a registry-wide RWMutex: LoadOrTryCompute does the
// create-if-absent dance atomically instead of the read-then-upgrade
// double-check a sync.RWMutex+map would need.
type Registry struct {
	breakers *xsync.MapOf[string, *CircuitBreaker]
	cfg      Config
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: xsync.NewMapOf[string, *CircuitBreaker](),
		cfg:      cfg,
	}
}

func (r *Registry) Get(key string) ports.Breaker {
	b, _ := r.breakers.LoadOrTryCompute(key, func() (newValue *CircuitBreaker, cancel bool) {
		return New(key, r.cfg), false
	})
	return b
}

func (r *Registry) Remove(key string) {
	r.breakers.Delete(key)
}

// NameForUpstream builds the breaker key for a single reverse-proxy
// target, per §4.B's "Factory names follow `upstream_<host>_<port>`".
func NameForUpstream(host string, port int) string {
	return "upstream_" + host + "_" + strconv.Itoa(port)
}

// NameForService builds the breaker key for a named logical service
// (e.g. a load-balanced pool addressed by route rather than by a single
// host:port), per §4.B's "`service_<name>`".
func NameForService(name string) string {
	return "service_" + name
}

// NameForDatabase builds the breaker key for a database dependency, per
// §4.B's "`database_<name>`".
func NameForDatabase(name string) string {
	return "database_" + name
}

// NameForExternalAPI builds the breaker key for an external API
// dependency, per §4.B's "`external_api_<name>`".
func NameForExternalAPI(name string) string {
	return "external_api_" + name
}

func (r *Registry) Snapshot() map[string]domain.BreakerStats {
	out := make(map[string]domain.BreakerStats)
	r.breakers.Range(func(name string, b *CircuitBreaker) bool {
		out[name] = b.Stats()
		return true
	})
	return out
}
