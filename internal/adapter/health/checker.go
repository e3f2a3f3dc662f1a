package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/logger"
)

// HTTPHealthChecker is the active prober: a heap-based scheduler feeds
// due checks to a fixed worker pool, each probe goes through a HealthClient
// (retry + per-URL circuit breaker), and a status tracker keeps the log
// volume down to transitions and periodic failure summaries.
type HTTPHealthChecker struct {
	repository     domain.EndpointRepository
	client         *HealthClient
	circuitBreaker *CircuitBreaker
	tracker        *StatusTransitionTracker
	logger         *logger.StyledLogger

	mu          sync.Mutex
	running     bool
	workerCount int

	workerPool *WorkerPool
	scheduler  *HealthScheduler
	stats      *StatsCollector
}

// NewHTTPHealthChecker wires the checker against its repository; httpClient
// may be a *http.Client or any HTTPClient stub for testing.
func NewHTTPHealthChecker(repository domain.EndpointRepository, log *logger.StyledLogger, httpClient HTTPClient) *HTTPHealthChecker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHealthCheckerTimeout}
	}
	circuitBreaker := NewCircuitBreaker()
	return &HTTPHealthChecker{
		repository:     repository,
		client:         NewHealthClient(httpClient, circuitBreaker),
		circuitBreaker: circuitBreaker,
		tracker:        NewStatusTransitionTracker(),
		logger:         log,
		workerCount:    DefaultHealthCheckerWorkerCount,
	}
}

// Check performs a single, synchronous probe for callers that want an
// immediate answer outside the scheduled loop. ForceHealthCheck does not
// use it; it queues jobs on the worker pool instead.
func (c *HTTPHealthChecker) Check(ctx context.Context, endpoint *domain.Endpoint) (domain.HealthCheckResult, error) {
	return c.client.Check(ctx, endpoint)
}

func (c *HTTPHealthChecker) SetWorkerCount(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.logger.Warn("cannot change worker count while health checker is running")
		return
	}
	if count < 1 {
		count = 1
	}
	c.workerCount = count
}

func (c *HTTPHealthChecker) StartChecking(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	endpoints, err := c.repository.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to get endpoints for queue sizing: %w", err)
	}

	queueSize := endpointCountToQueueSize(len(endpoints))
	workerPool := NewWorkerPool(c.workerCount, queueSize, c.client, c.repository, c.tracker, c.logger)
	scheduler := NewHealthScheduler(workerPool.GetJobChannel())

	c.logger.Info("Health checker starting",
		"workers", c.workerCount,
		"queue_size", queueSize,
		"endpoints", len(endpoints))

	workerPool.Start(scheduler)
	scheduler.Start(ctx, c.repository)

	stats := NewStatsCollector(c.workerCount, workerPool, scheduler, c.circuitBreaker, c.tracker, c.repository)
	stats.SetRunning(true)

	c.workerPool = workerPool
	c.scheduler = scheduler
	c.stats = stats
	c.running = true
	return nil
}

func (c *HTTPHealthChecker) StopChecking(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.scheduler.Stop()
	c.workerPool.Stop()
	c.stats.SetRunning(false)
	c.running = false
	return nil
}

// ForceHealthCheck schedules an immediate probe of every known endpoint,
// bypassing the heap's dueTime ordering.
func (c *HTTPHealthChecker) ForceHealthCheck(ctx context.Context) error {
	c.mu.Lock()
	running := c.running
	workerPool := c.workerPool
	c.mu.Unlock()

	if !running {
		return fmt.Errorf("health checker is not running")
	}

	endpoints, err := c.repository.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to get endpoints: %w", err)
	}

	jobCh := workerPool.GetJobChannel()
	for _, endpoint := range endpoints {
		select {
		case jobCh <- healthCheckJob{endpoint: endpoint, ctx: ctx}:
		default:
			return fmt.Errorf("health check queue is full")
		}
	}
	return nil
}

func (c *HTTPHealthChecker) GetSchedulerStats() map[string]interface{} {
	c.mu.Lock()
	stats := c.stats
	running := c.running
	c.mu.Unlock()

	if !running {
		return map[string]interface{}{"running": false}
	}
	return stats.GetSchedulerStats()
}

// GetComprehensiveStats exposes the full admin-surface health snapshot:
// scheduler pressure, circuit breaker state, status transitions and
// per-status endpoint counts.
func (c *HTTPHealthChecker) GetComprehensiveStats(ctx context.Context) map[string]interface{} {
	c.mu.Lock()
	stats := c.stats
	running := c.running
	c.mu.Unlock()

	if !running {
		return map[string]interface{}{"running": false}
	}
	return stats.GetComprehensiveStats(ctx)
}

func endpointCountToQueueSize(endpointCount int) int {
	queueSize := endpointCount * QueueScaleFactor
	if queueSize < BaseHealthCheckerQueueSize {
		queueSize = BaseHealthCheckerQueueSize
	}
	return queueSize
}

var _ domain.HealthChecker = (*HTTPHealthChecker)(nil)
