package lsp

import (
	"testing"
	"time"
)

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		got := CalculateBackoff(tt.attempt, time.Second, 30*time.Second, 2.0)
		if got != tt.expected {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
		}
	}
}

func TestCalculateBackoff_Degenerate(t *testing.T) {
	if got := CalculateBackoff(5, time.Second, 0, 2.0); got != 16*time.Second {
		t.Errorf("uncapped backoff = %v, want 16s", got)
	}
	if got := CalculateBackoff(5, time.Second, time.Minute, 0.5); got != time.Second {
		t.Errorf("shrinking multiplier = %v, want 1s", got)
	}
}

func TestRestartPolicy(t *testing.T) {
	p := DefaultRestartPolicy()

	if p.Allow(0) {
		t.Error("attempt 0 is not a restart")
	}
	if !p.Allow(1) || !p.Allow(p.MaxRestarts) {
		t.Error("attempts within MaxRestarts should be allowed")
	}
	if p.Allow(p.MaxRestarts + 1) {
		t.Error("attempt beyond MaxRestarts should be refused")
	}
	if p.Delay(3) != 4*time.Second {
		t.Errorf("Delay(3) = %v, want 4s", p.Delay(3))
	}

	if got := p.NextAttempt(3, time.Second); got != 4 {
		t.Errorf("NextAttempt after a short run = %d, want 4", got)
	}
	if got := p.NextAttempt(3, 2*time.Minute); got != 1 {
		t.Errorf("NextAttempt after a long run = %d, want 1", got)
	}

	if (RestartPolicy{}).Allow(1) {
		t.Error("zero policy should never restart")
	}
}
