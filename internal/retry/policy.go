package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Policy bounds local retries of transient failures.
type Policy struct {
	MaxAttempts int           // total attempts including the first (default 3)
	Base        time.Duration // first backoff delay (default 1s)
	Cap         time.Duration // backoff ceiling (default 10s)

	// rng is swapped out by tests for deterministic jitter.
	rng func() float64
}

// DefaultPolicy returns the default bounds: 3 attempts, base 1s, cap 10s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Base: time.Second, Cap: 10 * time.Second}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Cap <= 0 {
		p.Cap = 10 * time.Second
	}
	if p.rng == nil {
		p.rng = rand.Float64
	}
	return p
}

// Backoff returns the delay before the given retry (attempt is 1-based: the
// delay after the attempt-th failure). Exponential doubling from Base,
// capped at Cap, with up to 50% positive jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base << (attempt - 1)
	if d > p.Cap || d <= 0 {
		d = p.Cap
	}
	jitter := time.Duration(p.rng() * 0.5 * float64(d))
	if d+jitter > p.Cap {
		return p.Cap
	}
	return d + jitter
}

// Do runs fn, retrying transient failures per the policy. It returns nil on
// success, the error unchanged for permanent and infrastructure failures,
// and a PermanentError wrapping the last transient failure once the attempt
// budget is exhausted. Context cancellation aborts the backoff wait.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	p = p.normalized()
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		switch Classify(err) {
		case ClassPermanent, ClassInfrastructure:
			return err
		}
		last = err
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Infra(ctx.Err())
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return Permanent(fmt.Errorf("retries exhausted after %d attempts: %w", p.MaxAttempts, last))
}
