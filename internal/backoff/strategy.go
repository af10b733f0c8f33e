package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the pause before a retry. attempt is the 1-based number of
// the retry about to be made; base and max bound the result.
type Strategy interface {
	Delay(attempt int, base, max time.Duration) time.Duration
}

// LinearStrategy waits base*attempt. It never decreases between attempts.
type LinearStrategy struct{}

// Delay implements Strategy.
func (LinearStrategy) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Prevent overflow by limiting attempt
	if attempt > 1<<16 {
		attempt = 1 << 16
	}

	delay := base * time.Duration(attempt)
	if delay < 0 || (max > 0 && delay > max) {
		delay = max
	}
	return delay
}

// ExponentialJitterStrategy waits base*multiplier^(attempt-1) plus up to
// Jitter of that value, capped at max.
type ExponentialJitterStrategy struct {
	Multiplier float64
	Jitter     float64
}

// Delay implements Strategy.
func (s ExponentialJitterStrategy) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	multiplier := s.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	delay := time.Duration(float64(base) * pow(multiplier, attempt-1))
	if delay < 0 || (max > 0 && delay > max) {
		delay = max
	}

	jitter := clampJitter(s.Jitter)
	if jitter > 0 {
		jitterAmount := time.Duration(float64(delay) * jitter * rand.Float64())
		if max > 0 && delay+jitterAmount > max {
			delay = max
		} else {
			delay += jitterAmount
		}
	}
	return delay
}

// DecorrelatedJitterStrategy follows the AWS decorrelated jitter shape without
// carrying state between calls: random_between(base, min(max, base*3^attempt)).
type DecorrelatedJitterStrategy struct{}

// Delay implements Strategy.
func (DecorrelatedJitterStrategy) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 1 {
		return base
	}
	if attempt > 10 {
		attempt = 10
	}

	lower := float64(base)
	upper := lower * pow(3.0, attempt-1)
	if max > 0 && (upper > float64(max) || upper < 0) {
		upper = float64(max)
	}
	if upper < lower {
		upper = lower
	}

	result := time.Duration(lower + rand.Float64()*(upper-lower))
	if result < 0 || (max > 0 && result > max) {
		result = max
	}
	return result
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
