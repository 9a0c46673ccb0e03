package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parivox/pkg/live/mock"
)

var errRefused = errors.New("connection refused")

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures int) (*Breaker, *manualClock) {
	clk := &manualClock{t: time.Date(2026, 3, 9, 18, 30, 0, 0, time.UTC)}
	return NewBreaker(Config{Name: "test", MaxFailures: maxFailures, Cooldown: 10 * time.Second, Now: clk.Now}), clk
}

func fail(context.Context) error    { return errRefused }
func succeed(context.Context) error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(Config{})
	if b.maxFailures != defaultMaxFailures || b.cooldown != defaultCooldown {
		t.Errorf("defaults = (%d, %v)", b.maxFailures, b.cooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := range 3 {
		if err := b.Do(ctx, fail); !errors.Is(err, errRefused) {
			t.Fatalf("call %d: got %v, want errRefused", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err=%v called=%v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(2)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed)
	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success closes", func(t *testing.T) {
		t.Parallel()
		b, clk := newTestBreaker(1)
		_ = b.Do(ctx, fail)
		clk.Advance(10 * time.Second)
		if b.State() != StateHalfOpen {
			t.Fatalf("state = %v, want half-open", b.State())
		}
		if err := b.Do(ctx, succeed); err != nil {
			t.Fatalf("probe: %v", err)
		}
		if b.State() != StateClosed {
			t.Errorf("state = %v, want closed", b.State())
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		t.Parallel()
		b, clk := newTestBreaker(3)
		for range 3 {
			_ = b.Do(ctx, fail)
		}
		clk.Advance(10 * time.Second)
		_ = b.Do(ctx, fail)
		if b.State() != StateOpen {
			t.Errorf("state = %v, want open after failed probe", b.State())
		}
		clk.Advance(5 * time.Second)
		if err := b.Do(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("cooldown restarts on failed probe: got %v", err)
		}
	})

	t.Run("single probe", func(t *testing.T) {
		t.Parallel()
		b, clk := newTestBreaker(1)
		_ = b.Do(ctx, fail)
		clk.Advance(10 * time.Second)

		release := make(chan struct{})
		done := make(chan error, 1)
		started := make(chan struct{})
		go func() {
			done <- b.Do(ctx, func(context.Context) error {
				close(started)
				<-release
				return nil
			})
		}()
		<-started
		if err := b.Do(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("second call during probe: got %v, want ErrCircuitOpen", err)
		}
		close(release)
		if err := <-done; err != nil {
			t.Errorf("probe: %v", err)
		}
	})
}

func TestBreaker_CallerCancellationNotCounted(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(1)
	_ = b.Do(context.Background(), fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestGuardTransport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := mock.NewTransport()
	inner.DialErr = errRefused
	b, clk := newTestBreaker(2)
	tr := GuardTransport(inner, b)

	for range 2 {
		if _, err := tr.Dial(ctx); !errors.Is(err, errRefused) {
			t.Fatalf("dial: got %v, want errRefused", err)
		}
	}
	inner.DialErr = nil
	if _, err := tr.Dial(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("dial while open: got %v, want ErrCircuitOpen", err)
	}
	if n := len(inner.Conns()); n != 0 {
		t.Fatalf("inner transport dialed %d times while open", n)
	}

	clk.Advance(10 * time.Second)
	conn, err := tr.Dial(ctx)
	if err != nil || conn == nil {
		t.Fatalf("probe dial: (%v, %v)", conn, err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
