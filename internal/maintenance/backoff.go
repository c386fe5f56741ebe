package maintenance

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the wait before retry attempt n (0-based): base * 2^n,
// capped, plus up to 250ms of jitter.
func Backoff(attempt int, base, capDelay time.Duration) time.Duration {
	delay := capDelay
	if f := float64(base) * math.Pow(2, float64(attempt)); f < float64(capDelay) {
		delay = time.Duration(f)
	}

	// small jitter so replicas don't retry in lockstep
	delay += time.Duration(rand.IntN(250)) * time.Millisecond
	return delay
}
