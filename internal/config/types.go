package config

// Config is the root of the YAML configuration document (§6). Duration and
// size fields are left as strings here (`"30s"`, `"1d"`, `"10MB"`) and
// parsed by internal/app at wiring time via util.ParseSpecDuration /
// util.ParseSpecSize — keeping the raw document free of custom
// encoding.TextUnmarshaler plumbing and the parse errors localised to one
// place, where they can be reported as the §7 "Fatal: config parse"
// failure and turned into a non-zero exit code.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Routes         []RouteConfig        `yaml:"routes"`
	Auth           AuthConfig           `yaml:"auth"`
	Cache          CacheConfig          `yaml:"cache"`
	LoadBalancer   LoadBalancerConfig   `yaml:"load_balancer"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimiter    RateLimiterConfig    `yaml:"rate_limiter"`
	Compression    CompressionConfig    `yaml:"compression"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Logging        LoggingConfig        `yaml:"logging"`
	Security       SecurityConfig       `yaml:"security"`
	Engineering    EngineeringConfig    `yaml:"engineering"`
}

// ServerConfig is server{...}: the acceptor's bind address and the
// ambient HTTP timeouts (§4.G).
type ServerConfig struct {
	Host            string    `yaml:"host"`
	Port            int       `yaml:"port"`
	WorkerThreads   int       `yaml:"worker_threads"`
	SSL             SSLConfig `yaml:"ssl"`
	KeepAliveTimeout string   `yaml:"keep_alive_timeout"`
	ReadTimeout     string    `yaml:"read_timeout"`
	WriteTimeout    string    `yaml:"write_timeout"`
}

// SSLConfig is server.ssl{...}: TLS termination at the acceptor.
type SSLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RouteConfig is one entry of routes[...]. Exactly one of Upstream,
// FileServer or TCPProxy should be set; which one determines what the
// dispatcher does with a request matching Path (§4.G, §4.F).
type RouteConfig struct {
	Path       string            `yaml:"path"`
	Upstream   *UpstreamConfig   `yaml:"upstream"`
	FileServer *FileServerConfig `yaml:"file_server"`
	TCPProxy   *TCPProxyConfig   `yaml:"tcp_proxy"`
}

// UpstreamConfig is routes[].upstream{...}: the server pool, balancing
// strategy and health-check contract for one route (§4.D, §4.E).
type UpstreamConfig struct {
	Servers     []UpstreamServerConfig `yaml:"servers"`
	Strategy    string                 `yaml:"strategy"`
	HealthCheck HealthCheckConfig      `yaml:"health_check"`
}

// UpstreamServerConfig is one upstream.servers[] entry.
type UpstreamServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Weight int    `yaml:"weight"`
}

// HealthCheckConfig is upstream.health_check{...} (§4.D wire format).
type HealthCheckConfig struct {
	Path               string `yaml:"path"`
	Interval           string `yaml:"interval"`
	Timeout            string `yaml:"timeout"`
	HealthyThreshold   int    `yaml:"healthy_threshold"`
	UnhealthyThreshold int    `yaml:"unhealthy_threshold"`
	ExpectedStatus     int    `yaml:"expected_status"`
	ExpectedBody       string `yaml:"expected_body"`
}

// FileServerConfig is routes[].file_server{...} (§4.H).
type FileServerConfig struct {
	Root             string   `yaml:"root"`
	IndexFiles       []string `yaml:"index_files"`
	DirectoryListing bool     `yaml:"directory_listing"`
	CacheControl     string   `yaml:"cache_control"`
}

// TCPProxyConfig is routes[].tcp_proxy{...} (§4.I). IdleTimeout and
// TotalTimeout default to "" (disabled) to preserve the original's
// unbounded pump unless a deployment opts in.
type TCPProxyConfig struct {
	ListenPort   int    `yaml:"listen_port"`
	TargetHost   string `yaml:"target_host"`
	TargetPort   int    `yaml:"target_port"`
	BufferSize   int    `yaml:"buffer_size"`
	IdleTimeout  string `yaml:"idle_timeout"`
	TotalTimeout string `yaml:"total_timeout"`
}

// AuthConfig is auth{...}. JWT validation and API-key checking are
// external collaborators per §1 — the core only carries their
// configuration surface through to whatever validates requests upstream
// of the admission pipeline; no JWT/API-key logic lives in this module.
type AuthConfig struct {
	JWT    JWTConfig    `yaml:"jwt"`
	APIKey APIKeyConfig `yaml:"api_key"`
}

type JWTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

type APIKeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Header  string   `yaml:"header"`
	Keys    []string `yaml:"keys"`
}

// CacheConfig is cache{...} (§4.C).
type CacheConfig struct {
	Enabled             bool             `yaml:"enabled"`
	Type                string           `yaml:"type"`
	MaxSize             string           `yaml:"max_size"`
	MaxEntries          int64            `yaml:"max_entries"`
	MaxResponseSize     string           `yaml:"max_response_size"`
	TTL                 string           `yaml:"ttl"`
	MinTTL              string           `yaml:"min_ttl"`
	MaxTTL              string           `yaml:"max_ttl"`
	CachePrivate        bool             `yaml:"cache_private_responses"`
	RespectCacheControl bool             `yaml:"respect_cache_control"`
	NoCachePaths        []string         `yaml:"no_cache_paths"`
	CacheBypassHeaders  []string         `yaml:"cache_bypass_headers"`
	Rules               []CacheRuleConfig `yaml:"rules"`
}

// CacheRuleConfig overrides the default TTL for a path prefix.
type CacheRuleConfig struct {
	PathPrefix string `yaml:"path_prefix"`
	TTL        string `yaml:"ttl"`
}

// LoadBalancerConfig is load_balancer{...} (§4.E); per-route Strategy in
// UpstreamConfig overrides this default.
type LoadBalancerConfig struct {
	Strategy        string                `yaml:"strategy"`
	HealthChecks    HealthCheckConfig     `yaml:"health_checks"`
	SessionAffinity SessionAffinityConfig `yaml:"session_affinity"`
}

// SessionAffinityConfig is a config-surface passthrough: sticky sessions
// are outside the five selector strategies §4.E names, so there's no
// core logic behind this beyond carrying the document through to /config.
type SessionAffinityConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CookieName string `yaml:"cookie_name"`
}

// CircuitBreakerConfig is circuit_breaker{...} (§4.B).
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	FailureThreshold int      `yaml:"failure_threshold"`
	SuccessThreshold int      `yaml:"success_threshold"`
	Timeout          string   `yaml:"timeout"`
	Routes           []string `yaml:"routes"`
}

// RateLimiterConfig is rate_limiter{...} (§4.A).
type RateLimiterConfig struct {
	Enabled         bool           `yaml:"enabled"`
	RequestsPerSec  int            `yaml:"requests_per_second"`
	BurstSize       int            `yaml:"burst_size"`
	PerIP           PerIPConfig    `yaml:"per_ip"`
	Routes          []string       `yaml:"routes"`
}

type PerIPConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerSec int  `yaml:"requests_per_second"`
}

// CompressionConfig is compression{...} (§4.H's gzip path).
type CompressionConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Algorithms []string `yaml:"algorithms"`
	Level     int      `yaml:"level"`
	MinSize   string   `yaml:"min_size"`
	MimeTypes []string `yaml:"mime_types"`
}

// MetricsConfig is metrics{...} (§4.K, §6 admin endpoints).
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig is logging{...}, the ambient logging stack (teacher's
// pterm-styled slog + lumberjack rotation).
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Theme      string `yaml:"theme"`
}

// SecurityConfig is security{...}: response headers, CORS and the
// source-address blacklist (§4.J).
type SecurityConfig struct {
	Headers   map[string]string `yaml:"headers"`
	CORS      CORSConfig        `yaml:"cors"`
	Blacklist []string          `yaml:"blacklist"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
}

// EngineeringConfig holds development/debugging knobs, outside spec.md's
// scope but part of the ambient stack every teacher binary carries.
type EngineeringConfig struct {
	ShowNerdStats bool   `yaml:"show_nerdstats"`
	PprofEnabled  bool   `yaml:"pprof_enabled"`
	PprofAddress  string `yaml:"pprof_address"`
}
