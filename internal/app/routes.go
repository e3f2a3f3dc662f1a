package app

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/veloxgate/veloxgate/internal/adapter/breaker"
	"github.com/veloxgate/veloxgate/internal/adapter/upstream"
	"github.com/veloxgate/veloxgate/internal/config"
	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/core/ports"
	"github.com/veloxgate/veloxgate/internal/util"
)

// builtRoute is one config.RouteConfig's translation into the wire-level
// ports.Route plus, for an upstream route, the repository the health
// checker probes (the route's Endpoints slice and the repository share
// the same *domain.Endpoint pointers, so a probe result is visible to
// both the checker and the load-balancer selecting over route.Endpoints).
type builtRoute struct {
	route      ports.Route
	repository *upstream.Repository // non-nil only for RouteUpstream
}

// buildRoutes translates every routes[] entry into its ports.Route
// counterpart. Exactly one of Upstream/FileServer/TCPProxy must be set
// per entry, matching §4.F's "(source_pattern, target_connection_info)".
func buildRoutes(cfg *config.Config) ([]builtRoute, error) {
	built := make([]builtRoute, 0, len(cfg.Routes))

	for _, rc := range cfg.Routes {
		switch {
		case rc.Upstream != nil:
			br, err := buildUpstreamRoute(rc, cfg.LoadBalancer.Strategy, cfg.Cache.Enabled)
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", rc.Path, err)
			}
			built = append(built, br)

		case rc.FileServer != nil:
			built = append(built, builtRoute{route: ports.Route{
				Prefix:           rc.Path,
				Kind:             ports.RouteFileServer,
				FileRoot:         rc.FileServer.Root,
				IndexFiles:       rc.FileServer.IndexFiles,
				DirectoryListing: rc.FileServer.DirectoryListing,
				CacheControl:     rc.FileServer.CacheControl,
			}})

		case rc.TCPProxy != nil:
			idleTimeout, totalTimeout, err := parseTCPTimeouts(rc.TCPProxy)
			if err != nil {
				return nil, fmt.Errorf("route %q: %w", rc.Path, err)
			}
			built = append(built, builtRoute{route: ports.Route{
				Prefix:          rc.Path,
				Kind:            ports.RouteTCPProxy,
				TCPTargetHost:   rc.TCPProxy.TargetHost,
				TCPTargetPort:   rc.TCPProxy.TargetPort,
				TCPListenPort:   rc.TCPProxy.ListenPort,
				TCPBufferSize:   rc.TCPProxy.BufferSize,
				TCPIdleTimeout:  idleTimeout,
				TCPTotalTimeout: totalTimeout,
			}})

		default:
			return nil, fmt.Errorf("route %q: none of upstream/file_server/tcp_proxy is set", rc.Path)
		}
	}

	return built, nil
}

func parseTCPTimeouts(tc *config.TCPProxyConfig) (idle, total time.Duration, err error) {
	if tc.IdleTimeout != "" {
		if idle, err = util.ParseSpecDuration(tc.IdleTimeout); err != nil {
			return 0, 0, fmt.Errorf("idle_timeout: %w", err)
		}
	}
	if tc.TotalTimeout != "" {
		if total, err = util.ParseSpecDuration(tc.TotalTimeout); err != nil {
			return 0, 0, fmt.Errorf("total_timeout: %w", err)
		}
	}
	return idle, total, nil
}

func buildUpstreamRoute(rc config.RouteConfig, defaultStrategy string, cacheEnabled bool) (builtRoute, error) {
	uc := rc.Upstream
	strategy := uc.Strategy
	if strategy == "" {
		strategy = defaultStrategy
	}
	if strategy == "" {
		strategy = "round_robin"
	}

	checkInterval, err := durationOrDefault(uc.HealthCheck.Interval, 10*time.Second)
	if err != nil {
		return builtRoute{}, fmt.Errorf("health_check.interval: %w", err)
	}
	checkTimeout, err := durationOrDefault(uc.HealthCheck.Timeout, 2*time.Second)
	if err != nil {
		return builtRoute{}, fmt.Errorf("health_check.timeout: %w", err)
	}

	endpoints := make([]*domain.Endpoint, 0, len(uc.Servers))
	for i, sc := range uc.Servers {
		target, err := url.Parse(fmt.Sprintf("http://%s:%d", sc.Host, sc.Port))
		if err != nil {
			return builtRoute{}, fmt.Errorf("server %d: %w", i, err)
		}

		var healthURL *url.URL
		if uc.HealthCheck.Path != "" {
			healthURL, err = url.Parse(fmt.Sprintf("http://%s:%d%s", sc.Host, sc.Port, uc.HealthCheck.Path))
			if err != nil {
				return builtRoute{}, fmt.Errorf("server %d health_check.path: %w", i, err)
			}
		}

		name := sc.Host + ":" + strconv.Itoa(sc.Port)
		weight := sc.Weight
		if weight <= 0 {
			weight = 1
		}

		ep := domain.NewEndpoint(name, target, healthURL, weight, i)
		ep.CheckInterval = checkInterval
		ep.CheckTimeout = checkTimeout
		ep.ExpectedBody = uc.HealthCheck.ExpectedBody
		ep.ExpectedCode = uc.HealthCheck.ExpectedStatus
		if ep.ExpectedCode == 0 {
			ep.ExpectedCode = 200
		}

		endpoints = append(endpoints, ep)
	}

	repo := upstream.NewRepository(endpoints...)

	return builtRoute{
		route: ports.Route{
			Prefix:       rc.Path,
			Kind:         ports.RouteUpstream,
			Endpoints:    endpoints,
			StrategyName: strategy,
			BreakerName:  breakerNameForRoute(rc),
			CacheEnabled: cacheEnabled,
		},
		repository: repo,
	}, nil
}

// breakerNameForRoute applies §4.B's factory naming convention to an
// upstream route. A route proxying to exactly one backend is named after
// that single target (`upstream_<host>_<port>`); a load-balanced pool
// behind one route prefix is named after the route as a logical service
// (`service_<name>`), since no single host:port identifies the pool.
func breakerNameForRoute(rc config.RouteConfig) string {
	uc := rc.Upstream
	if len(uc.Servers) == 1 {
		return breaker.NameForUpstream(uc.Servers[0].Host, uc.Servers[0].Port)
	}
	return breaker.NameForService(serviceNameFromPath(rc.Path))
}

// serviceNameFromPath turns a route prefix like "/api/v1" into "api_v1"
// for use as a breaker_factory service name.
func serviceNameFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "root"
	}
	return strings.ReplaceAll(trimmed, "/", "_")
}

func durationOrDefault(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return util.ParseSpecDuration(s)
}
