package batchimport

import (
	"math"
	"math/rand"
	"time"
)

// retryDelay is the pause before the given retry (1-based). The configured RetryDelay is
// always the floor; the exponential policy grows it up to maxDelay.
func retryDelay(policy BackoffPolicy, retry int, base, maxDelay time.Duration) time.Duration {
	if retry <= 0 || base <= 0 {
		return 0
	}
	if policy != BackoffExponential {
		return base
	}
	d := backoff(retry, base, maxDelay)
	if d < base {
		return base
	}
	return d
}

func backoff(attempts int, base, maxBackoff time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}
	// base * 2^(attempts-1)
	factor := math.Pow(2, float64(attempts-1))
	d := time.Duration(factor * float64(base))
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func jitter(r *rand.Rand, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 || r == nil {
		return 0
	}
	// [0, maxJitter]
	return time.Duration(r.Int63n(int64(maxJitter) + 1)) //nolint:gosec
}
