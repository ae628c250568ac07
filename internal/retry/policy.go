// Package retry holds the reconnect policy shared by the socket and the
// connection manager. Delays grow deterministically (no jitter).
package retry

import (
	"errors"
	"fmt"
	"time"
)

// Policy is immutable configuration. MaxAttempts == 0 means unbounded.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// Socket is the transport-level preset: retry forever, 1s growing by 1.3x up
// to 10s.
var Socket = Policy{
	InitialDelay: 1 * time.Second,
	Multiplier:   1.3,
	MaxDelay:     10 * time.Second,
	MaxAttempts:  0,
}

// Manager is the logical-connection preset: a quick first retry, then 10x
// growth, giving up after 3 failed attempts.
var Manager = Policy{
	InitialDelay: 25 * time.Millisecond,
	Multiplier:   10,
	MaxDelay:     10 * time.Second,
	MaxAttempts:  3,
}

// Bounded reports whether the policy gives up after MaxAttempts failures.
func (p Policy) Bounded() bool { return p.MaxAttempts > 0 }

// Validate rejects policies that cannot produce a sane delay sequence.
func (p Policy) Validate() error {
	switch {
	case p.InitialDelay <= 0:
		return errors.New("retry: initial delay must be positive")
	case p.Multiplier < 1:
		return fmt.Errorf("retry: multiplier %.2f must be >= 1", p.Multiplier)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("retry: max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	case p.MaxAttempts < 0:
		return errors.New("retry: max attempts must not be negative")
	}
	return nil
}

func (p Policy) String() string {
	attempts := "unbounded"
	if p.Bounded() {
		attempts = fmt.Sprintf("%d attempts", p.MaxAttempts)
	}
	return fmt.Sprintf("%s x%.1f <= %s, %s", p.InitialDelay, p.Multiplier, p.MaxDelay, attempts)
}
