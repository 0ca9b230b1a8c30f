package aggregator

import (
	"math/rand"
	"time"
)

// Backoff schedule for retriable submission failures.
const (
	backoffBase   = 60 * time.Second
	backoffCap    = 3600 * time.Second
	backoffJitter = 0.20
	// MaxAttempts bounds the per-record attempt budget, first try included.
	MaxAttempts = 6
)

// NextBackoff computes the delay before the given attempt number (1-based:
// attempt 1 already happened when the first retry is scheduled). Exponential
// from the base, capped, with ±20 % jitter.
func NextBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 60s << 6 already clears the cap; clamp the exponent so large attempt
	// counts cannot overflow the shift
	if attempt > 7 {
		attempt = 7
	}

	delay := backoffBase << (attempt - 1)
	if delay > backoffCap {
		delay = backoffCap
	}

	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	jittered := time.Duration(float64(delay) * jitter)
	if jittered > backoffCap {
		jittered = backoffCap
	}
	return jittered
}
