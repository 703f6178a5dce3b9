// Package backoff computes retry delays for failed job attempts.
package backoff

import "time"

// DefaultSchedule is the delay before the 1st, 2nd and 3rd retry. Later
// retries reuse the last entry.
var DefaultSchedule = []time.Duration{5 * time.Second, 30 * time.Second, 5 * time.Minute}

// Strategy maps an attempt count to the delay before the next attempt.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Stepped walks a fixed list of delays and then holds the last one.
type Stepped struct {
	Steps []time.Duration
}

// Default returns the stepped 5s, 30s, 5m strategy.
func Default() Stepped {
	return Stepped{Steps: DefaultSchedule}
}

// Delay returns the wait after the given failed attempt (1-based).
func (s Stepped) Delay(attempt int) time.Duration {
	if len(s.Steps) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(s.Steps) {
		return s.Steps[len(s.Steps)-1]
	}
	return s.Steps[attempt-1]
}

// NextAttemptAt returns when a job that just failed its attempt should become eligible again.
func NextAttemptAt(s Strategy, attempt int, now time.Time) time.Time {
	return now.Add(s.Delay(attempt))
}
