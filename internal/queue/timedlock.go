package queue

import (
	"sync"
	"time"

	"github.com/gftdcojp/flowfile-queue/internal/metrics"
	"go.uber.org/zap"
)

// lockWarnThreshold is how long a caller may wait on the queue lock before
// the wait is reported for diagnostics.
const lockWarnThreshold = 100 * time.Millisecond

// timedLock wraps the queue's reader-writer lock and reports acquisitions
// that waited longer than the warn threshold.
type timedLock struct {
	mu      sync.RWMutex
	queueID string
	logger  *zap.Logger
}

func (l *timedLock) lock() {
	start := time.Now()
	l.mu.Lock()
	l.observe("write", time.Since(start))
}

func (l *timedLock) unlock() {
	l.mu.Unlock()
}

func (l *timedLock) rlock() {
	start := time.Now()
	l.mu.RLock()
	l.observe("read", time.Since(start))
}

func (l *timedLock) runlock() {
	l.mu.RUnlock()
}

func (l *timedLock) observe(mode string, waited time.Duration) {
	metrics.LockWait.WithLabelValues(l.queueID, mode).Observe(waited.Seconds())
	if waited > lockWarnThreshold {
		l.logger.Warn("queue lock contention",
			zap.String("mode", mode),
			zap.Duration("waited", waited),
		)
	}
}
