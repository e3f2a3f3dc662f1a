package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultPort        = 8080
	DefaultMetricsPort = 9090
	DefaultHost        = "0.0.0.0"

	// DefaultFileWriteDelay gives a config-reload event time to land after
	// the editor finishes writing; on some platforms fsnotify fires before
	// the write is flushed.
	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sane defaults for a single
// file-proxy route serving the working directory — enough to start the
// gateway with no config file present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			WorkerThreads:   0, // 0 => GOMAXPROCS
			KeepAliveTimeout: "60s",
			ReadTimeout:     "30s",
			WriteTimeout:    "30s",
		},
		Routes: []RouteConfig{
			{
				Path: "/",
				FileServer: &FileServerConfig{
					Root:             ".",
					IndexFiles:       []string{"index.html"},
					DirectoryListing: true,
					CacheControl:     "no-cache",
				},
			},
		},
		Cache: CacheConfig{
			Enabled:         true,
			Type:            "lru",
			MaxSize:         "256MB",
			MaxEntries:      10000,
			MaxResponseSize: "8MB",
			TTL:             "60s",
			MinTTL:          "1s",
			MaxTTL:          "24h",
		},
		LoadBalancer: LoadBalancerConfig{
			Strategy: "round_robin",
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          "5s",
		},
		RateLimiter: RateLimiterConfig{
			Enabled:        true,
			RequestsPerSec: 100,
			BurstSize:      200,
			PerIP:          PerIPConfig{Enabled: true, RequestsPerSec: 20},
		},
		Compression: CompressionConfig{
			Enabled:    true,
			Algorithms: []string{"gzip"},
			Level:      6,
			MinSize:    "1KB",
			MimeTypes:  []string{"text/html", "text/css", "application/javascript", "application/json"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    DefaultMetricsPort,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FileOutput: true,
			LogDir:     "./logs",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Theme:      "default",
		},
	}
}

// Load reads config.yaml from the working directory or ./config (or the
// file named by VELOXGATE_CONFIG_FILE), overlays environment variables
// prefixed VELOXGATE_, and decodes into a Config seeded with
// DefaultConfig's values. A missing file is not an error — the defaults
// stand alone; a malformed file is, and the caller should treat it as the
// §7 fatal "config parse" case and exit non-zero.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("VELOXGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("VELOXGATE_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}
