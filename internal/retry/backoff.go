package retry

import "time"

// Backoff tracks consecutive failures under a Policy. It is not safe for
// concurrent use; owners guard it with their own lock.
type Backoff struct {
	policy   Policy
	delay    time.Duration
	attempts int
}

// NewBackoff returns a Backoff at its initial state.
func NewBackoff(p Policy) *Backoff {
	return &Backoff{policy: p, delay: p.InitialDelay}
}

// Next records one failed attempt. It returns the delay to wait before the
// next attempt, or ok == false when the policy's attempt budget is spent.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	b.attempts++
	if b.policy.Bounded() && b.attempts >= b.policy.MaxAttempts {
		return 0, false
	}

	delay = b.delay
	next := time.Duration(float64(b.delay) * b.policy.Multiplier)
	if next > b.policy.MaxDelay || next < b.delay {
		next = b.policy.MaxDelay
	}
	b.delay = next
	return delay, true
}

// Reset returns to the initial delay with zero recorded failures.
func (b *Backoff) Reset() {
	b.delay = b.policy.InitialDelay
	b.attempts = 0
}

// Attempts is the number of failures recorded since the last Reset.
func (b *Backoff) Attempts() int { return b.attempts }

// Delay is the wait that the next failure will produce.
func (b *Backoff) Delay() time.Duration { return b.delay }

// Policy returns the policy this Backoff follows.
func (b *Backoff) Policy() Policy { return b.policy }
