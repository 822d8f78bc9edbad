package worker

import (
	"math"
	"time"
)

// RetryPolicy defines the exponential backoff between task attempts.
type RetryPolicy struct {
	InitialDelay  time.Duration
	BackoffFactor float64
}

// NextDelay returns the delay for a given attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	d := time.Duration(float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1)))
	if d <= 0 {
		d = time.Second
	}
	return d
}
