package backoff

import (
	"fmt"
	"strings"
)

// Strategy names accepted by ForName.
const (
	NameLinear       = "linear"
	NameExponential  = "exponential"
	NameDecorrelated = "decorrelated"
)

// ForName resolves a configured strategy name. An empty name selects linear.
func ForName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameLinear:
		return LinearStrategy{}, nil
	case NameExponential:
		return ExponentialJitterStrategy{Multiplier: 2, Jitter: 0.1}, nil
	case NameDecorrelated:
		return DecorrelatedJitterStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", name)
	}
}
