package realtime

import "time"

// Defaults for Backoff.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxAttempts = 5
)

// Backoff is the reconnect schedule: attempt n (from 0) waits
// BaseDelay * 2^n, and at most MaxAttempts reconnects follow a failure.
type Backoff struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultBackoff waits 1s, 2s, 4s, 8s, 16s and then gives up.
func DefaultBackoff() Backoff {
	return Backoff{BaseDelay: DefaultBaseDelay, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns the wait before reconnect attempt n.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the shift so the duration cannot overflow.
	if attempt > 30 {
		attempt = 30
	}
	return b.BaseDelay << attempt
}

// Exhausted reports whether no reconnect may follow attempt n.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}
