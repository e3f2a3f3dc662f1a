package health

import (
	"context"
	"sync"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

// StatsCollector aggregates the admin-surface view of the health checker:
// scheduler/queue pressure, circuit breaker state, and per-status endpoint
// counts, assembled on demand rather than maintained incrementally.
type StatsCollector struct {
	mu             sync.RWMutex
	running        bool
	workerCount    int
	workerPool     *WorkerPool
	scheduler      *HealthScheduler
	circuitBreaker *CircuitBreaker
	statusTracker  *StatusTransitionTracker
	repository     domain.EndpointRepository
}

func NewStatsCollector(
	workerCount int,
	workerPool *WorkerPool,
	scheduler *HealthScheduler,
	circuitBreaker *CircuitBreaker,
	statusTracker *StatusTransitionTracker,
	repository domain.EndpointRepository,
) *StatsCollector {
	return &StatsCollector{
		workerCount:    workerCount,
		workerPool:     workerPool,
		scheduler:      scheduler,
		circuitBreaker: circuitBreaker,
		statusTracker:  statusTracker,
		repository:     repository,
	}
}

func (sc *StatsCollector) SetRunning(running bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.running = running
}

// GetSchedulerStats returns comprehensive statistics about the health checker
func (sc *StatsCollector) GetSchedulerStats() map[string]interface{} {
	sc.mu.RLock()
	running := sc.running
	sc.mu.RUnlock()

	if !running {
		return map[string]interface{}{
			"running": false,
		}
	}

	queueSize, queueCap, queueUsage := sc.workerPool.GetQueueStats()
	heapSize := sc.scheduler.GetScheduledCount()

	return map[string]interface{}{
		"running":          running,
		"worker_count":     sc.workerCount,
		"queue_size":       queueSize,
		"queue_cap":        queueCap,
		"queue_usage":      queueUsage,
		"scheduled_checks": heapSize,
	}
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (sc *StatsCollector) GetCircuitBreakerStats() map[string]interface{} {
	activeEndpoints := sc.circuitBreaker.GetActiveEndpoints()

	openCircuits := 0
	for _, endpoint := range activeEndpoints {
		if sc.circuitBreaker.IsOpen(endpoint) {
			openCircuits++
		}
	}

	return map[string]interface{}{
		"total_endpoints":  len(activeEndpoints),
		"open_circuits":    openCircuits,
		"active_endpoints": activeEndpoints,
	}
}

// GetStatusTrackerStats returns status transition tracker statistics
func (sc *StatsCollector) GetStatusTrackerStats() map[string]interface{} {
	activeEndpoints := sc.statusTracker.GetActiveEndpoints()

	return map[string]interface{}{
		"tracked_endpoints": len(activeEndpoints),
		"active_endpoints":  activeEndpoints,
	}
}

// GetEndpointCounts returns counts of endpoints by status
func (sc *StatsCollector) GetEndpointCounts(ctx context.Context) map[string]interface{} {
	all, err := sc.repository.GetAll(ctx)
	if err != nil {
		return map[string]interface{}{
			"error": err.Error(),
		}
	}

	available, err := sc.repository.GetAvailable(ctx)
	if err != nil {
		return map[string]interface{}{
			"error": err.Error(),
		}
	}

	statusCounts := make(map[string]int)
	for _, endpoint := range all {
		statusCounts[endpoint.Status().String()]++
	}

	return map[string]interface{}{
		"total_endpoints":     len(all),
		"available_endpoints": len(available),
		"unavailable_endpoints": len(all) - len(available),
		"status_breakdown":    statusCounts,
	}
}

// GetComprehensiveStats returns all statistics in one call
func (sc *StatsCollector) GetComprehensiveStats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"scheduler":       sc.GetSchedulerStats(),
		"circuit_breaker": sc.GetCircuitBreakerStats(),
		"status_tracker":  sc.GetStatusTrackerStats(),
		"endpoints":       sc.GetEndpointCounts(ctx),
	}
}
