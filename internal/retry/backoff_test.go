package retry

import (
	"testing"
	"time"
)

func TestBackoffMonotonicUntilCap(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 100 * time.Millisecond}
	b := NewBackoff(p)

	want := []time.Duration{10, 20, 40, 80, 100, 100, 100}
	var prev time.Duration
	for i, w := range want {
		d, ok := b.Next()
		if !ok {
			t.Fatalf("attempt %d: unbounded policy gave up", i+1)
		}
		if d != w*time.Millisecond {
			t.Fatalf("attempt %d: delay = %s, want %s", i+1, d, w*time.Millisecond)
		}
		if d < prev {
			t.Fatalf("attempt %d: delay decreased from %s to %s", i+1, prev, d)
		}
		prev = d
	}
	if b.Attempts() != len(want) {
		t.Fatalf("Attempts = %d, want %d", b.Attempts(), len(want))
	}
}

func TestBackoffResetAfterSuccess(t *testing.T) {
	b := NewBackoff(Policy{InitialDelay: time.Second, Multiplier: 1.3, MaxDelay: 10 * time.Second})
	b.Next()
	b.Next()
	b.Next()
	b.Reset()

	if b.Attempts() != 0 {
		t.Fatalf("Attempts after Reset = %d", b.Attempts())
	}
	if d, _ := b.Next(); d != time.Second {
		t.Fatalf("first delay after Reset = %s, want 1s", d)
	}
}

func TestBackoffBounded(t *testing.T) {
	b := NewBackoff(Policy{InitialDelay: time.Millisecond, Multiplier: 10, MaxDelay: time.Second, MaxAttempts: 3})

	if _, ok := b.Next(); !ok {
		t.Fatal("failure 1 should allow a retry")
	}
	if _, ok := b.Next(); !ok {
		t.Fatal("failure 2 should allow a retry")
	}
	if _, ok := b.Next(); ok {
		t.Fatal("failure 3 should exhaust a 3-attempt policy")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := Socket.Validate(); err != nil {
		t.Fatalf("Socket preset invalid: %v", err)
	}
	if err := Manager.Validate(); err != nil {
		t.Fatalf("Manager preset invalid: %v", err)
	}

	bad := []Policy{
		{InitialDelay: 0, Multiplier: 2, MaxDelay: time.Second},
		{InitialDelay: time.Second, Multiplier: 0.5, MaxDelay: time.Second},
		{InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Millisecond},
		{InitialDelay: time.Second, Multiplier: 2, MaxDelay: time.Second, MaxAttempts: -1},
	}
	for i, p := range bad {
		if p.Validate() == nil {
			t.Errorf("[%d] %v: expected validation error", i, p)
		}
	}
}
