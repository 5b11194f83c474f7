package sync

import "time"

const (
	backoffBase = 15 * time.Second
	backoffMax  = 5 * time.Minute
)

// BackoffScheduler produces exponentially growing retry delays, capped.
// Not safe for concurrent use; each worker owns one.
type BackoffScheduler struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

// NewBackoffScheduler returns a scheduler starting at base and doubling up
// to max. Zero arguments select the defaults (15s, 5m).
func NewBackoffScheduler(base, max time.Duration) *BackoffScheduler {
	if base <= 0 {
		base = backoffBase
	}
	if max <= 0 {
		max = backoffMax
	}
	return &BackoffScheduler{base: base, max: max}
}

// NextDelay returns the delay for the next retry and advances the schedule.
func (b *BackoffScheduler) NextDelay() time.Duration {
	d := b.base
	for i := 0; i < b.attempts; i++ {
		d *= 2
		if d >= b.max {
			d = b.max
			break
		}
	}
	b.attempts++
	return d
}

// Attempts reports how many delays have been handed out since the last reset.
func (b *BackoffScheduler) Attempts() int { return b.attempts }

// Reset rewinds the schedule after a successful pass.
func (b *BackoffScheduler) Reset() { b.attempts = 0 }
