package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := NewBreaker(cfg, nil)
	b.now = clock.now
	return b, clock
}

func fail() error    { return errBoom }
func succeed() error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "speech", MaxFailures: 3})
	for i := 0; i < 3; i++ {
		if err := b.Execute(fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d err=%v, want errBoom", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state=%s, want open", b.State())
	}
	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("err=%v called=%v, want ErrCircuitOpen without call", err, called)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 2})
	_ = b.Execute(fail)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)
	if b.State() != StateClosed {
		t.Fatalf("state=%s, want closed", b.State())
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMax: 2})
	_ = b.Execute(fail)
	clock.advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state=%s, want half-open", b.State())
	}
	_ = b.Execute(succeed)
	if b.State() != StateHalfOpen {
		t.Fatalf("state=%s after one probe, want half-open", b.State())
	}
	_ = b.Execute(succeed)
	if b.State() != StateClosed {
		t.Fatalf("state=%s, want closed", b.State())
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Second})
	_ = b.Execute(fail)
	clock.advance(2 * time.Second)
	_ = b.Execute(fail)
	if b.State() != StateOpen {
		t.Fatalf("state=%s, want open", b.State())
	}
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err=%v, want ErrCircuitOpen", err)
	}
}

func TestBreakerIgnoredErrors(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		MaxFailures: 1,
		Ignore:      func(err error) bool { return errors.Is(err, context.Canceled) },
	})
	if err := b.Execute(func() error { return context.Canceled }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state=%s, want closed", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1})
	_ = b.Execute(fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state=%s, want closed", b.State())
	}
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("err=%v, want nil", err)
	}
}
