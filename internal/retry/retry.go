// Package retry implements the bounded exponential backoff used by the
// dispatcher for transport-class failures.
package retry

import (
	"context"
	"time"
)

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the policy used when nothing is configured: two attempts,
// 200ms initial backoff doubling up to 2s.
func Default() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
	}
}

// WithSleep returns a copy of p that waits using fn instead of a timer.
func (p Policy) WithSleep(fn func(ctx context.Context, d time.Duration) error) Policy {
	p.sleep = fn
	return p
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	return p
}

// Backoff returns the delay before attempt n+1, where attempt is 1-based.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do calls fn with 1-based attempt numbers until fn returns retry=false,
// the attempts are used up, or ctx is done. It returns the number of
// attempts made and ctx.Err() if the context ended the loop.
func (p Policy) Do(ctx context.Context, fn func(attempt int) (retry bool)) (int, error) {
	p = p.normalized()
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	attempt := 0
	for attempt < p.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		attempt++
		if !fn(attempt) {
			return attempt, nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.Backoff(attempt)); err != nil {
			return attempt, err
		}
	}
	return attempt, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
