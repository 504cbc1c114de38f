package resilience

import (
	"errors"
	"testing"
	"time"
)

var errDown = errors.New("down")

func fail() error    { return errDown }
func succeed() error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Execute(fail); !errors.Is(err, errDown) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	_ = b.Execute(fail)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)

	// Never two consecutive failures, so the circuit stays closed.
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("circuit opened: %v", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	_ = b.Execute(fail)
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}

	// After the timeout a probe is allowed; its success closes the circuit.
	clock = clock.Add(time.Minute)
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("circuit still open after recovery: %v", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	_ = b.Execute(fail)
	clock = clock.Add(time.Minute)
	if err := b.Execute(fail); !errors.Is(err, errDown) {
		t.Fatalf("probe err = %v", err)
	}
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen after failed probe", err)
	}
}
