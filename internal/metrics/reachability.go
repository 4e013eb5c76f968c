package metrics

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

// DefaultUnreachableThreshold is the number of consecutive transport errors
// after which the target is considered unreachable.
const DefaultUnreachableThreshold = 50

// ReachabilityReport is the monitor's aggregate view.
type ReachabilityReport struct {
	Unreachable       bool      `json:"unreachable"`
	Since             time.Time `json:"since,omitempty"`
	Episodes          int       `json:"episodes"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	MaxConsecutive    int       `json:"maxConsecutive"`
	LastError         string    `json:"lastError,omitempty"`
}

// ReachabilityMonitor turns a run of transport errors into a single
// "target unreachable" condition. Any HTTP response, whatever its status,
// proves the target reachable and clears the condition.
type ReachabilityMonitor struct {
	threshold int
	logger    *zap.Logger

	mu     sync.Mutex
	report ReachabilityReport
}

// NewReachabilityMonitor creates a monitor. A threshold <= 0 uses
// DefaultUnreachableThreshold; a nil logger discards.
func NewReachabilityMonitor(threshold int, logger *zap.Logger) *ReachabilityMonitor {
	if threshold <= 0 {
		threshold = DefaultUnreachableThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReachabilityMonitor{threshold: threshold, logger: logger}
}

// Record implements ramp.Sink.
func (m *ReachabilityMonitor) Record(o ramp.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.Err == nil || o.StatusCode != 0 {
		if m.report.Unreachable {
			m.logger.Info("target reachable again",
				zap.Duration("after", time.Since(m.report.Since)),
				zap.Int("failed_requests", m.report.ConsecutiveErrors),
			)
		}
		m.report.Unreachable = false
		m.report.Since = time.Time{}
		m.report.ConsecutiveErrors = 0
		return
	}

	m.report.ConsecutiveErrors++
	m.report.LastError = o.Err.Error()
	m.report.MaxConsecutive = max(m.report.MaxConsecutive, m.report.ConsecutiveErrors)

	if !m.report.Unreachable && m.report.ConsecutiveErrors >= m.threshold {
		m.report.Unreachable = true
		m.report.Since = o.Timestamp
		m.report.Episodes++
		m.logger.Warn("target unreachable",
			zap.Int("consecutive_errors", m.report.ConsecutiveErrors),
			zap.String("last_error", m.report.LastError),
		)
	}
}

// Unreachable reports whether the target is currently flagged.
func (m *ReachabilityMonitor) Unreachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report.Unreachable
}

// Report returns the current view.
func (m *ReachabilityMonitor) Report() ReachabilityReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}
