package queue

import (
	"math"
	"math/rand"
)

// backoffDelay computes the millisecond delay before retryCount's next
// attempt, per spec.md §4.3: delay = min(MaxDelayMillis, raw +
// jitter_uniform(0, JitterFraction*raw)), where raw = base *
// multiplier^(n-1). Jitter is one-sided and additive, so a retry never
// fires sooner than the unjittered backoff floor; the MaxDelayMillis cap
// is applied after jitter, not before.
func backoffDelay(p RetryPolicy, retryCount int) int64 {
	if retryCount < 1 {
		retryCount = 1
	}
	raw := float64(p.BaseDelayMillis) * math.Pow(p.BackoffMultiplier, float64(retryCount-1))

	delayed := raw
	if p.JitterFraction > 0 {
		delayed = raw + rand.Float64()*p.JitterFraction*raw
	}
	if delayed > float64(p.MaxDelayMillis) {
		delayed = float64(p.MaxDelayMillis)
	}
	return int64(delayed)
}
