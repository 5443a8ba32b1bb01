package restart

import "time"

// Default policy: at most 3 auto-restarts within any 10 minute window.
const (
	DefaultMax    = 3
	DefaultWindow = 10 * time.Minute
)

// Budget is a sliding-window restart limiter. The zero value denies every
// restart; use New for the defaults.
//
// Budget is not safe for concurrent use; the owner serializes access.
type Budget struct {
	Max    int
	Window time.Duration
	times  []time.Time
}

// New returns a Budget allowing max restarts per window. Non-positive
// arguments fall back to DefaultMax and DefaultWindow.
func New(max int, window time.Duration) Budget {
	if max <= 0 {
		max = DefaultMax
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return Budget{Max: max, Window: window}
}

// prune drops timestamps that are at least Window old.
func (b *Budget) prune(now time.Time) {
	kept := b.times[:0]
	for _, ts := range b.times {
		if now.Sub(ts) < b.Window {
			kept = append(kept, ts)
		}
	}
	b.times = kept
}

// Allow reports whether another restart may happen at now. When allowed the
// restart is recorded; when denied the budget is left unchanged.
func (b *Budget) Allow(now time.Time) bool {
	b.prune(now)
	if len(b.times) >= b.Max {
		return false
	}
	b.times = append(b.times, now)
	return true
}

// Count returns the number of restarts still inside the window at now.
func (b *Budget) Count(now time.Time) int {
	b.prune(now)
	return len(b.times)
}

// Len returns the number of recorded restarts without pruning.
func (b Budget) Len() int { return len(b.times) }

// Reset forgets all recorded restarts.
func (b *Budget) Reset() { b.times = nil }

// Clone returns a copy that shares no state with b.
func (b Budget) Clone() Budget {
	c := b
	c.times = append([]time.Time(nil), b.times...)
	return c
}
