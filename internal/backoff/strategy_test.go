package backoff

import (
	"testing"
	"time"
)

func TestLinearStrategy(t *testing.T) {
	strategy := LinearStrategy{}

	tests := []struct {
		name     string
		attempt  int
		base     time.Duration
		max      time.Duration
		expected time.Duration
	}{
		{name: "first retry", attempt: 1, base: 100 * time.Millisecond, max: 5 * time.Second, expected: 100 * time.Millisecond},
		{name: "second retry", attempt: 2, base: 100 * time.Millisecond, max: 5 * time.Second, expected: 200 * time.Millisecond},
		{name: "third retry", attempt: 3, base: 100 * time.Millisecond, max: 5 * time.Second, expected: 300 * time.Millisecond},
		{name: "zero attempt clamps to one", attempt: 0, base: time.Second, max: 5 * time.Second, expected: time.Second},
		{name: "capped", attempt: 10, base: time.Second, max: 3 * time.Second, expected: 3 * time.Second},
		{name: "no cap", attempt: 10, base: time.Second, max: 0, expected: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := strategy.Delay(tt.attempt, tt.base, tt.max)
			if result != tt.expected {
				t.Errorf("Delay(%d, %v, %v) = %v, want %v", tt.attempt, tt.base, tt.max, result, tt.expected)
			}
		})
	}
}

func TestExponentialJitterStrategyNoJitter(t *testing.T) {
	strategy := ExponentialJitterStrategy{Multiplier: 2}

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, want := range expected {
		got := strategy.Delay(i+1, 100*time.Millisecond, 5*time.Second)
		if got != want {
			t.Errorf("attempt %d: got %v, want %v", i+1, got, want)
		}
	}
}

func TestExponentialJitterStrategyBounds(t *testing.T) {
	strategy := ExponentialJitterStrategy{Multiplier: 2, Jitter: 0.5}
	maxDelay := time.Second

	for attempt := 1; attempt <= 40; attempt++ {
		got := strategy.Delay(attempt, 100*time.Millisecond, maxDelay)
		if got < 100*time.Millisecond || got > maxDelay {
			t.Errorf("attempt %d: delay %v out of bounds", attempt, got)
		}
	}
}

func TestDecorrelatedJitterStrategy(t *testing.T) {
	strategy := DecorrelatedJitterStrategy{}
	base := 100 * time.Millisecond
	maxDelay := 5 * time.Second

	if got := strategy.Delay(1, base, maxDelay); got != base {
		t.Errorf("first retry should wait exactly base, got %v", got)
	}

	for i := 0; i < 100; i++ {
		got := strategy.Delay(3, base, maxDelay)
		if got < base || got > 900*time.Millisecond {
			t.Fatalf("attempt 3 delay %v outside [%v, 900ms]", got, base)
		}
	}

	if got := strategy.Delay(50, base, maxDelay); got > maxDelay {
		t.Errorf("delay %v exceeds max %v", got, maxDelay)
	}
}

func TestClampJitter(t *testing.T) {
	tests := map[float64]float64{-0.5: 0, 0: 0, 0.3: 0.3, 1: 1, 1.5: 1}
	for in, want := range tests {
		if got := clampJitter(in); got != want {
			t.Errorf("clampJitter(%v) = %v, want %v", in, got, want)
		}
	}
}
