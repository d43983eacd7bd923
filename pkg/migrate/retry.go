package migrate

import (
	"math/rand/v2"
	"time"
)

// Retry bounds for per-descriptor transient failures. Kept compile-time
// simple; a descriptor that fails maxRetries+1 times is dropped and its
// source row is left for a later run.
const (
	maxRetries        = 3
	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 2 * time.Second
	backoffMultiplier = 2.0
)

// backoffDelay returns the jittered exponential backoff for a given attempt
// (0-based). Jitter spreads concurrent workers that fail at the same time.
func backoffDelay(attempt int) time.Duration {
	backoff := float64(initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= backoffMultiplier
	}
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	// up to 25% jitter
	backoff += backoff * 0.25 * rand.Float64()
	return time.Duration(backoff)
}
