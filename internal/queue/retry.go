package queue

import "time"

// RetryPolicy computes the delay before the next attempt as Base * 2^attempts,
// capped at Max.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 2 * time.Second, Max: 10 * time.Minute}
}

// Delay returns the backoff for a job that has already run attempts times.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if p.Base <= 0 {
		return 0
	}

	delay := p.Base
	for i := 0; i < attempts; i++ {
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
		delay *= 2
	}

	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}
