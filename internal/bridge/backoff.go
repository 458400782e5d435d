package bridge

import (
	"math/rand"
	"time"
)

// Delay is the wait before reconnect attempt n, counted from 1 after the
// last successful dial. Growth stops at MaxDelay. With Jitter the wait is
// drawn from [d/2, d], so a jittered delay never exceeds the cap; a nil rng
// yields the lower bound.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	d := b.InitialDelay
	if d <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < n; i++ {
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			break
		}
		d = time.Duration(float64(d) * mult)
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if !b.Jitter {
		return d
	}
	half := d / 2
	if rng == nil {
		return half
	}
	return half + time.Duration(rng.Int63n(int64(d-half)+1))
}
