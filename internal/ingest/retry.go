package ingest

import (
	"context"
	"time"
)

// RetryPolicy is an exponential backoff: the wait doubles after every
// failed attempt, capped at MaxWait.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultRetryPolicy returns three attempts starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		InitialWait: time.Second,
		MaxWait:     30 * time.Second,
	}
}

// Do runs op until it succeeds, the attempts are used up, or ctx ends.
// The attempt number (starting at 1) is passed to op. The last error is
// returned; a context error wins when ctx ends during a wait.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.InitialWait

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		wait *= 2
		if p.MaxWait > 0 && wait > p.MaxWait {
			wait = p.MaxWait
		}
	}
	return err
}
