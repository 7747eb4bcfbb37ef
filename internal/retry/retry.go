// Package retry re-runs units of work that failed with a transient error.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy controls how often and how long Do waits between attempts.
type Policy struct {
	MaxAttempts int           // total attempts, at least 1
	InitialWait time.Duration // wait after the first failure
	MaxWait     time.Duration // cap on a single wait
	Multiplier  float64       // growth factor per attempt
	Jitter      float64       // fraction of the wait randomized, 0-1
}

// DefaultPolicy suits short transactions that lost a lock race.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		InitialWait: 20 * time.Millisecond,
		MaxWait:     500 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// wait returns the delay after the given failed attempt (1-based).
func (p Policy) wait(attempt int) time.Duration {
	w := float64(p.InitialWait) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxWait > 0 && w > float64(p.MaxWait) {
		w = float64(p.MaxWait)
	}
	if p.Jitter > 0 {
		w += w * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(w)
}

// Do calls fn until it succeeds, returns an error transient rejects, or the
// attempts run out. The last error is returned.
func Do(ctx context.Context, p Policy, transient func(error) bool, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil || !transient(err) || attempt == attempts {
			return err
		}

		t := time.NewTimer(p.wait(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
