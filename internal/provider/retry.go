package provider

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how long a backend call is retried.
type RetryPolicy struct {
	// Attempts is the number of retries after the first call.
	Attempts int

	// Base is the first backoff delay. It doubles on every attempt.
	Base time.Duration

	// MaxWait caps a server-requested delay such as Retry-After.
	// Zero means no cap.
	MaxWait time.Duration
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Base:     time.Second,
	MaxWait:  time.Minute,
}

// Backoff returns Base * 2^attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.Base << attempt
}

// Delay returns how long to wait before the next attempt. A positive hint
// from the backend wins over the backoff schedule.
func (p RetryPolicy) Delay(attempt int, hint time.Duration) time.Duration {
	if hint <= 0 {
		return p.Backoff(attempt)
	}
	if p.MaxWait > 0 && hint > p.MaxWait {
		return p.MaxWait
	}
	return hint
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
