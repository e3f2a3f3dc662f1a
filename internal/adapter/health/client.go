package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
	"github.com/veloxgate/veloxgate/internal/util"
	"github.com/veloxgate/veloxgate/internal/version"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 100 * time.Millisecond
	MaxBackoffDelay   = 2 * time.Second

	// MaxExpectedBodyReadBytes bounds how much of the probe response body
	// is read for the expected_body comparison, so a misconfigured
	// endpoint streaming an unbounded body can't stall a health check.
	MaxExpectedBodyReadBytes = 64 * 1024
)

// HealthClient performs one probe against an endpoint, retrying transient
// network/timeout failures and tripping a per-URL circuit breaker so a
// dead upstream stops eating worker-pool capacity on every scheduled tick.
type HealthClient struct {
	client         HTTPClient
	circuitBreaker *CircuitBreaker
}

func NewHealthClient(client HTTPClient, circuitBreaker *CircuitBreaker) *HealthClient {
	return &HealthClient{client: client, circuitBreaker: circuitBreaker}
}

// Check performs a single health check against an endpoint with retry logic
// and panic recovery.
func (hc *HealthClient) Check(ctx context.Context, endpoint *domain.Endpoint) (result domain.HealthCheckResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health check panic recovered: %v", r)
			result = domain.HealthCheckResult{
				Status:     domain.StatusUnhealthy,
				Error:      err,
				ErrorType:  domain.ErrorTypeHTTPError,
				StatusCode: 0,
			}
		}
	}()

	healthCheckURL := endpoint.HealthCheckURL.String()

	if hc.circuitBreaker.IsOpen(healthCheckURL) {
		result = domain.HealthCheckResult{
			Status:     domain.StatusUnhealthy,
			Error:      ErrCircuitBreakerOpen,
			ErrorType:  domain.ErrorTypeCircuitOpen,
			StatusCode: 0,
		}
		return result, &domain.HealthCheckError{
			Err:          ErrCircuitBreakerOpen,
			EndpointURL:  healthCheckURL,
			EndpointName: endpoint.Name,
		}
	}

	var lastErr error
	overallStart := time.Now()

	for attempt := 0; attempt <= DefaultMaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoffDelay(attempt)
			delayCtx, delayCancel := context.WithTimeout(context.Background(), delay)
			select {
			case <-delayCtx.Done():
			case <-ctx.Done():
				delayCancel()
				result.Latency = time.Since(overallStart)
				return result, &domain.HealthCheckError{Err: ctx.Err(), EndpointURL: healthCheckURL, EndpointName: endpoint.Name, Latency: result.Latency}
			}
			delayCancel()
		}

		result, lastErr = hc.performSingleCheck(ctx, endpoint, healthCheckURL)

		if lastErr == nil || !shouldRetry(lastErr, result.ErrorType) {
			break
		}
	}

	result.Latency = time.Since(overallStart)

	if lastErr != nil || result.Status != domain.StatusHealthy {
		hc.circuitBreaker.RecordFailure(healthCheckURL)
	} else {
		hc.circuitBreaker.RecordSuccess(healthCheckURL)
	}

	if lastErr != nil {
		return result, &domain.HealthCheckError{
			Err:          lastErr,
			EndpointURL:  healthCheckURL,
			EndpointName: endpoint.Name,
			StatusCode:   result.StatusCode,
			Latency:      result.Latency,
		}
	}

	return result, nil
}

func (hc *HealthClient) performSingleCheck(ctx context.Context, endpoint *domain.Endpoint, healthCheckURL string) (domain.HealthCheckResult, error) {
	start := time.Now()
	result := domain.HealthCheckResult{Status: domain.StatusUnknown}

	checkCtx, cancel := context.WithTimeout(ctx, endpoint.CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, healthCheckURL, http.NoBody)
	if err != nil {
		result.Latency = time.Since(start)
		result.Error = err
		result.ErrorType = classifyError(err)
		result.Status = determineStatus(0, result.Latency, err, result.ErrorType)
		return result, err
	}

	req = injectDefaultHeaders(req)
	resp, err := hc.client.Do(req)
	result.Latency = time.Since(start)

	if err != nil {
		result.Error = err
		result.ErrorType = classifyError(err)
		result.Status = determineStatus(0, result.Latency, err, result.ErrorType)
		return result, err
	}

	// SHERPA-64: defer close so the connection can be reused across checks;
	// repro was mostly seen with slow upstreams abandoning a half-read body.
	defer func() {
		if resp.Body != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}()

	result.StatusCode = resp.StatusCode
	result.Status = determineStatus(resp.StatusCode, result.Latency, nil, domain.ErrorTypeNone)

	if endpoint.ExpectedCode != 0 && resp.StatusCode != endpoint.ExpectedCode {
		result.Status = domain.StatusUnhealthy
	}

	if endpoint.ExpectedBody != "" {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxExpectedBodyReadBytes))
		if readErr != nil || string(body) != endpoint.ExpectedBody {
			result.Status = domain.StatusUnhealthy
		}
	}

	return result, nil
}

func injectDefaultHeaders(req *http.Request) *http.Request {
	req.Header.Set("User-Agent", fmt.Sprintf("%s-HealthChecker/%s", version.Name, version.Version))
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Cache-Control", "no-cache")
	return req
}

func calculateBackoffDelay(attempt int) time.Duration {
	return util.CalculateExponentialBackoff(attempt, DefaultBaseDelay, MaxBackoffDelay, 0.25)
}

func shouldRetry(err error, errorType domain.HealthCheckErrorType) bool {
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	switch errorType {
	case domain.ErrorTypeNetwork, domain.ErrorTypeTimeout:
		return true
	case domain.ErrorTypeHTTPError:
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return false
	default:
		return false
	}
}

func classifyError(err error) domain.HealthCheckErrorType {
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return domain.ErrorTypeCircuitOpen
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ErrorTypeTimeout
		}
		return domain.ErrorTypeNetwork
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorTypeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrorTypeNetwork
	}

	return domain.ErrorTypeHTTPError
}

// determineStatus converts raw probe results into StatusHealthy or
// StatusUnhealthy: network/timeout failures and non-2xx/slow responses
// count as Unhealthy, everything else as Healthy.
func determineStatus(statusCode int, latency time.Duration, err error, errorType domain.HealthCheckErrorType) domain.HealthStatus {
	if err != nil {
		return domain.StatusUnhealthy
	}

	if statusCode >= HealthyEndpointStatusRangeStart && statusCode < HealthyEndpointStatusRangeEnd {
		if latency > SlowResponseThreshold {
			return domain.StatusUnhealthy
		}
		return domain.StatusHealthy
	}

	return domain.StatusUnhealthy
}
