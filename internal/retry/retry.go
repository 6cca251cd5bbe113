// Package retry provides exponential backoff schedules and a generic
// retry-with-backoff helper.
package retry

import (
	"context"
	"time"
)

// Policy describes a doubling backoff schedule.
type Policy struct {
	// Initial is the first delay. Defaults to 50ms if zero.
	Initial time.Duration

	// Max caps the delay. Defaults to 4s if zero.
	Max time.Duration

	// Attempts bounds the number of calls made by [Do]. Zero means retry
	// until the context is canceled.
	Attempts int
}

// DefaultPolicy is the schedule used by the poll loop: 50ms doubling up to 4s.
var DefaultPolicy = Policy{
	Initial: 50 * time.Millisecond,
	Max:     4 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = DefaultPolicy.Initial
	}
	if p.Max <= 0 {
		p.Max = DefaultPolicy.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// Backoff tracks the position in a Policy's schedule. The zero value is not
// usable; create one with [NewBackoff]. A Backoff is not safe for concurrent
// use.
type Backoff struct {
	policy Policy
	next   time.Duration
}

// NewBackoff returns a Backoff positioned at the start of p's schedule.
func NewBackoff(p Policy) *Backoff {
	p = p.withDefaults()
	return &Backoff{policy: p, next: p.Initial}
}

// Next returns the delay to wait now and advances the schedule: the seed
// first, then doubling, then the cap forever.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.policy.Max {
		b.next = b.policy.Max
	}
	return d
}

// Peek returns the delay the next call to Next will return.
func (b *Backoff) Peek() time.Duration {
	return b.next
}

// Reset returns the schedule to its seed.
func (b *Backoff) Reset() {
	b.next = b.policy.Initial
}

// Sleep waits for d or until ctx is canceled, whichever happens first.
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

// Do calls fn until it succeeds, p.Attempts calls have failed, or ctx is
// canceled. Between failures it waits according to p. When attempts run out
// Do returns the last error; if ctx is canceled during a wait it returns the
// zero value and the context error.
func Do[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	b := NewBackoff(p)
	for attempt := 1; ; attempt++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		if p.Attempts > 0 && attempt >= p.Attempts {
			var zero T
			return zero, err
		}

		if err := Sleep(ctx, b.Next()); err != nil {
			var zero T
			return zero, err
		}
	}
}
