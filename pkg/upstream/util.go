package upstream

import (
	"math/rand/v2"
	"time"
)

// jitterDuration returns base scaled by a uniform factor in
// [1-frac, 1+frac); frac=0.1 gives the ±10% spread the lazy-resolve
// timer uses, while the revive timer uses the list's own
// ReviveJitter.
func jitterDuration(base time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return base
	}
	spread := (rand.Float64()*2 - 1) * frac
	return time.Duration(float64(base) * (1 + spread))
}
