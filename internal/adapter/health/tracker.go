package health

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/veloxgate/veloxgate/internal/core/domain"
)

// StatusTransitionTracker reduces logging noise by only logging status
// changes, plus periodic summaries for endpoints stuck failing.
type StatusTransitionTracker struct {
	entries sync.Map // map[string]*statusEntry
}

type statusEntry struct {
	lastStatus  int32 // atomic access to domain.HealthStatus as int32
	lastLogTime int64 // Unix nano timestamp
	errorCount  int64
}

func NewStatusTransitionTracker() *StatusTransitionTracker {
	return &StatusTransitionTracker{}
}

func (st *StatusTransitionTracker) ShouldLog(endpointURL string, newStatus domain.HealthStatus, isError bool) (bool, int) {
	value, exists := st.entries.Load(endpointURL)
	if !exists {
		entry := &statusEntry{
			lastStatus:  int32(statusToInt(newStatus)),
			lastLogTime: time.Now().UnixNano(),
		}
		value, _ = st.entries.LoadOrStore(endpointURL, entry)
	}

	entry := value.(*statusEntry)
	oldStatus := intToStatus(atomic.LoadInt32(&entry.lastStatus))

	if oldStatus != newStatus {
		atomic.StoreInt32(&entry.lastStatus, int32(statusToInt(newStatus)))
		atomic.StoreInt64(&entry.errorCount, 0)
		return true, 0
	}

	if isError {
		count := atomic.AddInt64(&entry.errorCount, 1)
		lastLog := time.Unix(0, atomic.LoadInt64(&entry.lastLogTime))

		if count%10 == 0 || time.Since(lastLog) > 5*time.Minute {
			atomic.StoreInt64(&entry.lastLogTime, time.Now().UnixNano())
			return true, int(count)
		}
	}

	return false, int(atomic.LoadInt64(&entry.errorCount))
}

func (st *StatusTransitionTracker) GetActiveEndpoints() []string {
	var endpoints []string
	st.entries.Range(func(key, value interface{}) bool {
		endpoints = append(endpoints, key.(string))
		return true
	})
	return endpoints
}

func (st *StatusTransitionTracker) CleanupEndpoint(endpointURL string) {
	st.entries.Delete(endpointURL)
}

func statusToInt(status domain.HealthStatus) int {
	switch status {
	case domain.StatusHealthy:
		return 0
	case domain.StatusUnhealthy:
		return 1
	case domain.StatusRecovering:
		return 2
	case domain.StatusUnknown:
		return 3
	default:
		return 3
	}
}

func intToStatus(i int32) domain.HealthStatus {
	switch i {
	case 0:
		return domain.StatusHealthy
	case 1:
		return domain.StatusUnhealthy
	case 2:
		return domain.StatusRecovering
	case 3:
		return domain.StatusUnknown
	default:
		return domain.StatusUnknown
	}
}
