package infra

import (
	"math/rand/v2"
	"time"
)

const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 60 * time.Second
)

// CalculateBackoff returns the reconnect delay for a retry attempt:
// exponential from 1s, capped at 60s, with up to 20% jitter subtracted.
func CalculateBackoff(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	d := maxBackoff
	if retry < 6 {
		d = min(baseBackoff<<retry, maxBackoff)
	}
	jitter := time.Duration(rand.Int64N(int64(d) / 5))
	return d - jitter
}
