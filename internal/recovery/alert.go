package recovery

import (
	"sync"
	"time"

	"github.com/vietddude/failover/internal/core/domain"
)

// alerter counts errors per category over a rolling window.
type alerter struct {
	mu     sync.Mutex
	window time.Duration
	events map[domain.ErrorCategory][]time.Time
}

func newAlerter(window time.Duration) *alerter {
	return &alerter{
		window: window,
		events: make(map[domain.ErrorCategory][]time.Time),
	}
}

// record adds an event and reports the in-window count and whether it just
// reached threshold. A threshold below 1 never fires.
func (a *alerter) record(c domain.ErrorCategory, now time.Time, threshold int) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := now.Add(-a.window)
	kept := a.events[c][:0]
	for _, t := range a.events[c] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	a.events[c] = kept

	return len(kept), threshold > 0 && len(kept) == threshold
}
