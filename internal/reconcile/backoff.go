package reconcile

import "time"

// RetryPolicy controls how a failed job run is retried within one firing.
// The delay before attempt n (0-based) is Start + Step*n, capped at Max.
type RetryPolicy struct {
	MaxRetries int
	Start      time.Duration
	Step       time.Duration
	Max        time.Duration
}

// Delay returns the wait before retry attempt n.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Start + p.Step*time.Duration(attempt)
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Retry policies per job. Jobs that mutate state retry harder than
// read-only ones; the comprehensive sweep retries gently because the next
// daily firing covers a miss anyway.
var (
	EnsureRetry = RetryPolicy{MaxRetries: 3, Start: 10 * time.Second, Step: 10 * time.Second, Max: 60 * time.Second}
	FireRetry   = RetryPolicy{MaxRetries: 3, Start: 30 * time.Second, Step: 30 * time.Second, Max: 180 * time.Second}
	FixRetry    = RetryPolicy{MaxRetries: 2, Start: 60 * time.Second, Step: 60 * time.Second, Max: 300 * time.Second}
	SweepRetry  = RetryPolicy{MaxRetries: 2, Start: 300 * time.Second, Step: 300 * time.Second, Max: 900 * time.Second}
)
