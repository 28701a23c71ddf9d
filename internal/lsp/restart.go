package lsp

import (
	"math"
	"time"
)

// RestartPolicy decides whether and when a caller should recreate a session
// whose server crashed. Sessions never restart themselves.
type RestartPolicy struct {
	// MaxRestarts is the number of restarts allowed. Zero disables restarts.
	MaxRestarts int

	// InitialBackoff is the delay before the first restart.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// ResetAfter is how long a session must stay up before its crash no
	// longer counts against MaxRestarts.
	ResetAfter time.Duration
}

// DefaultRestartPolicy returns the policy used by the CLI watch command.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		ResetAfter:     time.Minute,
	}
}

// Allow reports whether the attempt-th restart (1-based) may happen.
func (p RestartPolicy) Allow(attempt int) bool {
	return attempt >= 1 && attempt <= p.MaxRestarts
}

// Delay returns how long to wait before the attempt-th restart.
func (p RestartPolicy) Delay(attempt int) time.Duration {
	return CalculateBackoff(attempt, p.InitialBackoff, p.MaxBackoff, p.Multiplier)
}

// NextAttempt returns the attempt number for a crash after uptime, given the
// number of restarts already made.
func (p RestartPolicy) NextAttempt(previous int, uptime time.Duration) int {
	if p.ResetAfter > 0 && uptime >= p.ResetAfter {
		return 1
	}
	return previous + 1
}

// CalculateBackoff calculates the backoff delay for a given attempt.
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if max > 0 && delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
