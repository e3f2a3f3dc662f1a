package health

import (
	"sync"
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/logger"
)

type WorkerPool struct {
	workerCount   int
	jobCh         chan healthCheckJob
	stopCh        chan struct{}
	wg            sync.WaitGroup
	healthClient  *HealthClient
	repository    domain.EndpointRepository
	statusTracker *StatusTransitionTracker
	logger        *logger.StyledLogger
	onRecovered   RecoveryCallback
}

func NewWorkerPool(
	workerCount int,
	queueSize int,
	healthClient *HealthClient,
	repository domain.EndpointRepository,
	statusTracker *StatusTransitionTracker,
	logger *logger.StyledLogger,
) *WorkerPool {
	jobCh := make(chan healthCheckJob, queueSize)

	return &WorkerPool{
		workerCount:   workerCount,
		jobCh:         jobCh,
		stopCh:        make(chan struct{}),
		healthClient:  healthClient,
		repository:    repository,
		statusTracker: statusTracker,
		logger:        logger,
		onRecovered:   NoOpRecoveryCallback{},
	}
}

// SetRecoveryCallback installs the hook fired when an endpoint transitions
// into the Healthy state from anything else. Replaces the no-op default.
func (wp *WorkerPool) SetRecoveryCallback(cb RecoveryCallback) {
	if cb == nil {
		cb = NoOpRecoveryCallback{}
	}
	wp.onRecovered = cb
}

func (wp *WorkerPool) Start(scheduler *HealthScheduler) {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(scheduler)
	}
}

func (wp *WorkerPool) Stop() {
	close(wp.stopCh)
	wp.wg.Wait()
}

func (wp *WorkerPool) GetJobChannel() chan<- healthCheckJob {
	return wp.jobCh
}

func (wp *WorkerPool) GetQueueStats() (int, int, float64) {
	queueSize := len(wp.jobCh)
	queueCap := cap(wp.jobCh)
	queueUsage := float64(queueSize) / float64(queueCap)
	return queueSize, queueCap, queueUsage
}

func (wp *WorkerPool) worker(scheduler *HealthScheduler) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.stopCh:
			return
		case job := <-wp.jobCh:
			wp.processHealthCheck(job, scheduler)
		}
	}
}

func (wp *WorkerPool) processHealthCheck(job healthCheckJob, scheduler *HealthScheduler) {
	result, err := wp.healthClient.Check(job.ctx, job.endpoint)

	isSuccess := result.Status == domain.StatusHealthy
	now := time.Now()
	wasUnhealthy := job.endpoint.Status() == domain.StatusUnhealthy
	job.endpoint.RecordProbe(isSuccess, result.Latency, DefaultHealthyThreshold, DefaultUnhealthyThreshold, now)

	if wasUnhealthy && job.endpoint.Status() == domain.StatusHealthy {
		if cbErr := wp.onRecovered.OnEndpointRecovered(job.ctx, job.endpoint); cbErr != nil {
			wp.logger.WarnWithEndpoint("recovery callback failed for", job.endpoint.Name, "error", cbErr)
		}
	}

	nextInterval := nextCheckInterval(job.endpoint, isSuccess)
	nextCheckTime := now.Add(nextInterval)
	job.endpoint.SetNextCheckTime(nextCheckTime)

	scheduler.ScheduleCheck(job.endpoint, nextCheckTime, job.ctx)

	status := job.endpoint.Status()
	shouldLog, errorCount := wp.statusTracker.ShouldLog(job.endpoint.Key(), status, err != nil)

	if shouldLog {
		if errorCount > 0 || status == domain.StatusUnhealthy {
			wp.logger.WarnWithEndpoint("Endpoint health issues for", job.endpoint.Name,
				"status", status.String(),
				"consecutive_failures", errorCount,
				"latency", result.Latency,
				"next_check_in", nextInterval)
		} else {
			wp.logger.InfoHealthStatus("Endpoint status changed for",
				job.endpoint.Name,
				status,
				"latency", result.Latency,
				"next_check_in", nextInterval)
		}
	}
}

// nextCheckInterval stretches the scheduling interval by the endpoint's
// current backoff multiplier, capped at MaxBackoffInterval.
func nextCheckInterval(endpoint *domain.Endpoint, success bool) time.Duration {
	if success {
		return endpoint.CheckInterval
	}
	interval := endpoint.CheckInterval * time.Duration(endpoint.BackoffMultiplier())
	if interval > MaxBackoffInterval {
		return MaxBackoffInterval
	}
	return interval
}