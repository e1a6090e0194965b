package vigil

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays for source restarts. Delays
// double from Min up to Max and carry a small jitter so a burst of failing
// sources does not retry in lockstep.
type Backoff struct {
	// Min is the first delay. Defaults to 500ms.
	Min time.Duration
	// Max caps the delay growth. Defaults to 10s.
	Max time.Duration
	// NoJitter disables randomization, for deterministic tests.
	NoJitter bool
}

// Delay returns the wait before the given retry attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	min := b.Min
	if min <= 0 {
		min = 500 * time.Millisecond
	}
	max := b.Max
	if max < min {
		max = 10 * time.Second
		if max < min {
			max = min
		}
	}
	if attempt < 1 {
		attempt = 1
	}

	// Cap the exponent so the growth never shoots past Max.
	exp := math.Min(float64(attempt-1), math.Log2(float64(max)/float64(min)))
	d := time.Duration(float64(min) * math.Pow(2, exp))
	if d > max {
		d = max
	}
	if !b.NoJitter {
		// 95-105% of the computed delay.
		d = time.Duration(float64(d) * (0.95 + 0.1*rand.Float64()))
		if d > max {
			d = max
		}
	}
	return d
}
