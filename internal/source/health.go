package source

import (
	"sync"
	"time"
)

// HealthStatus summarises how a source's recent scans went.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// FailedThreshold is the number of consecutive failed scans after which a
// source is reported failed rather than degraded.
const FailedThreshold = 3

// Health is a point-in-time copy of one source's scan health.
type Health struct {
	Source    string       `json:"source"`
	Status    HealthStatus `json:"status"`
	Failures  int          `json:"failures"`
	LastError string       `json:"lastError,omitempty"`
	LastScan  time.Time    `json:"lastScan"`
}

// sourceHealth tracks consecutive failures for a single source. Fields are
// protected by mu because the scan loop writes them while HTTP handlers
// read snapshots.
type sourceHealth struct {
	mu       sync.Mutex
	name     string
	failures int
	lastErr  string
	lastScan time.Time
}

// recordSuccess resets the failure count and returns how many cycles had
// failed before.
func (h *sourceHealth) recordSuccess(at time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.failures
	h.failures = 0
	h.lastErr = ""
	h.lastScan = at
	return n
}

// recordFailure returns the new consecutive failure count.
func (h *sourceHealth) recordFailure(err error, at time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.lastErr = err.Error()
	h.lastScan = at
	return h.failures
}

func (h *sourceHealth) snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := StatusHealthy
	switch {
	case h.failures >= FailedThreshold:
		status = StatusFailed
	case h.failures > 0:
		status = StatusDegraded
	}
	return Health{
		Source:    h.name,
		Status:    status,
		Failures:  h.failures,
		LastError: h.lastErr,
		LastScan:  h.lastScan,
	}
}
