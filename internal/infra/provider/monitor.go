package provider

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/failover/internal/core/clock"
)

// Status represents the health state of a provider.
type Status int

const (
	StatusHealthy   Status = iota // Provider is working normally
	StatusDegraded                // Provider is slow or failing often
	StatusThrottled               // Provider is rate limiting
	StatusBlocked                 // Provider rejected our credentials
)

func (s Status) String() string {
	switch s {
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "healthy"
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Stats holds monitoring statistics for a provider.
type Stats struct {
	Status         Status        `json:"status"`
	AverageLatency time.Duration `json:"average_latency"`
	ErrorRate      float64       `json:"error_rate"`
	RateLimited    int           `json:"rate_limited"`
	AuthFailures   int           `json:"auth_failures"`
	RequestsLast1h int           `json:"requests_last_1h"`
	LastSuccessAt  time.Time     `json:"last_success_at,omitzero"`
	LastFailureAt  time.Time     `json:"last_failure_at,omitzero"`
	RetryAfter     time.Duration `json:"retry_after"`
}

var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"quota exceeded",
	"concurrent request limit",
}

// Monitor tracks provider health from observed call outcomes.
type Monitor struct {
	mu    sync.RWMutex
	clock clock.Clock

	recentLatencies  []time.Duration
	maxLatencyWindow int

	// outcomes in the sliding window, true = failure
	outcomes       []outcome
	window         time.Duration
	rateLimited    int
	authFailures   int
	lastThrottle   time.Time
	retryAfter     time.Duration
	lastSuccessAt  time.Time
	lastFailureAt  time.Time
	slowThreshold  time.Duration
	degradedErrors float64
}

type outcome struct {
	at     time.Time
	failed bool
}

// NewMonitor creates a monitor with default thresholds.
func NewMonitor(clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Monitor{
		clock:            clk,
		recentLatencies:  make([]time.Duration, 0, 50),
		maxLatencyWindow: 50,
		window:           time.Hour,
		slowThreshold:    2 * time.Minute,
		degradedErrors:   0.3, // 30% error rate
	}
}

// RecordSuccess records a successful call and its latency.
func (m *Monitor) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
	m.lastSuccessAt = now
	m.push(now, false)
}

// RecordFailure records a failed call. Rate-limit and authentication
// failures also update the throttle state.
func (m *Monitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.lastFailureAt = now
	m.push(now, true)

	var perr *Error
	if errors.As(err, &perr) {
		switch perr.ErrCode {
		case CodeRateLimitExceeded, CodeQuotaExceeded:
			m.rateLimited++
			m.lastThrottle = now
			m.retryAfter = perr.RetryAfter
			if m.retryAfter == 0 {
				m.retryAfter = time.Minute
			}
		case CodeAuthentication:
			m.authFailures++
			m.lastThrottle = now
			m.retryAfter = 10 * time.Minute
		}
		return
	}

	if err != nil && detectThrottle(err.Error()) {
		m.rateLimited++
		m.lastThrottle = now
		m.retryAfter = time.Minute
	}
}

// Status returns the current status of the provider.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status(m.clock.Now())
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	stats := Stats{
		Status:         m.status(now),
		AverageLatency: m.averageLatency(),
		ErrorRate:      m.errorRate(now),
		RateLimited:    m.rateLimited,
		AuthFailures:   m.authFailures,
		LastSuccessAt:  m.lastSuccessAt,
		LastFailureAt:  m.lastFailureAt,
		RetryAfter:     m.remainingRetryAfter(now),
	}
	for _, o := range m.outcomes {
		if now.Sub(o.at) < time.Hour {
			stats.RequestsLast1h++
		}
	}
	return stats
}

// status computes the status. Caller holds mu.
func (m *Monitor) status(now time.Time) Status {
	inThrottle := m.remainingRetryAfter(now) > 0

	if m.authFailures > 0 && inThrottle && !m.lastFailureAt.Before(m.lastSuccessAt) {
		return StatusBlocked
	}
	if m.rateLimited > 0 && inThrottle {
		return StatusThrottled
	}
	if len(m.recentLatencies) >= 5 && m.averageLatency() > m.slowThreshold {
		return StatusDegraded
	}
	if m.countInWindow(now) >= 5 && m.errorRate(now) > m.degradedErrors {
		return StatusDegraded
	}
	return StatusHealthy
}

func (m *Monitor) remainingRetryAfter(now time.Time) time.Duration {
	if m.retryAfter <= 0 {
		return 0
	}
	return max(m.retryAfter-now.Sub(m.lastThrottle), 0)
}

func (m *Monitor) averageLatency() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

func (m *Monitor) countInWindow(now time.Time) int {
	n := 0
	for _, o := range m.outcomes {
		if now.Sub(o.at) < m.window {
			n++
		}
	}
	return n
}

func (m *Monitor) errorRate(now time.Time) float64 {
	total, failed := 0, 0
	for _, o := range m.outcomes {
		if now.Sub(o.at) >= m.window {
			continue
		}
		total++
		if o.failed {
			failed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// push appends an outcome and drops those outside the window. Caller holds mu.
func (m *Monitor) push(now time.Time, failed bool) {
	m.outcomes = append(m.outcomes, outcome{at: now, failed: failed})

	cut := 0
	for cut < len(m.outcomes) && now.Sub(m.outcomes[cut].at) >= m.window {
		cut++
	}
	if cut > 0 {
		m.outcomes = append(m.outcomes[:0], m.outcomes[cut:]...)
	}
}

func detectThrottle(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
