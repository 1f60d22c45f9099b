package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nholik/gameserver-sentinel/internal/healthcheck"
	"github.com/nholik/gameserver-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
	mu      sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func TestRunner_Run_TriggersRunOnceOnTicks(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 2)}
	runCalls := make(chan struct{}, 2)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()

	if !waitForCalls(runCalls, 2, time.Second) {
		t.Fatalf("expected two run calls")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_StopsOnContextCancel(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}

	if !ticker.Stopped() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunner_Run_RejectsZeroTickInterval(t *testing.T) {
	r := New(zerolog.Nop(), 0)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error for zero tick interval")
	}
}

func TestRunner_Run_ImmediateFirstRun(t *testing.T) {
	ticker := &fakeTicker{ch: make(chan time.Time, 1)}
	runCalls := make(chan struct{}, 2)

	r := New(zerolog.Nop(), time.Second,
		WithTickerFactory(func(time.Duration) Ticker {
			return ticker
		}),
		WithRunOnce(func(context.Context) error {
			runCalls <- struct{}{}
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	// Should receive immediate first run without any tick
	if !waitForCalls(runCalls, 1, time.Second) {
		t.Fatalf("expected immediate first run")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("runner did not stop after cancel")
	}
}

func waitForCalls(ch <-chan struct{}, count int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for i := 0; i < count; i++ {
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
	return true
}

type fakeWatchdog struct {
	outcome watchdog.Outcome
	err     error
	calls   int
}

func (f *fakeWatchdog) Tick(context.Context) (watchdog.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func TestRunner_RunOnce_RecordsTick(t *testing.T) {
	tracker := healthcheck.NewTracker()
	wd := &fakeWatchdog{outcome: watchdog.Registered}
	r := New(zerolog.Nop(), time.Minute, WithWatchdog(wd), WithTracker(tracker))

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if wd.calls != 1 {
		t.Fatalf("expected one tick, got %d", wd.calls)
	}
	if !tracker.Ready() {
		t.Fatalf("expected tracker to be ready")
	}
	if got := tracker.Snapshot().LastOutcome; got != "registered" {
		t.Fatalf("expected outcome registered, got %q", got)
	}
}

func TestRunner_RunOnce_WrapsTickFailure(t *testing.T) {
	tracker := healthcheck.NewTracker()
	tickErr := errors.New("read watermark: throttled")
	r := New(zerolog.Nop(), time.Minute, WithWatchdog(&fakeWatchdog{err: tickErr}), WithTracker(tracker))

	err := r.RunOnce(context.Background())
	var tickFailure *TickError
	if !errors.As(err, &tickFailure) || tickFailure.Failures != 1 || tickFailure.Started.IsZero() {
		t.Fatalf("expected TickError for the first failure, got %v", err)
	}
	if !errors.Is(err, tickErr) {
		t.Fatalf("expected wrapped tick error, got %v", err)
	}
	if tracker.Ready() {
		t.Fatalf("failed tick should not mark tracker ready")
	}
	if got := tracker.Snapshot().ConsecutiveFailures; got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
}

func TestRunner_RunOnce_CountsConsecutiveFailures(t *testing.T) {
	tracker := healthcheck.NewTracker()
	wd := &fakeWatchdog{err: errors.New("describe stack: throttled")}
	r := New(zerolog.Nop(), time.Minute, WithWatchdog(wd), WithTracker(tracker))

	_ = r.RunOnce(context.Background())
	err := r.RunOnce(context.Background())

	var tickErr *TickError
	if !errors.As(err, &tickErr) || tickErr.Failures != 2 {
		t.Fatalf("expected second consecutive failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "2 in a row") {
		t.Fatalf("expected failure count in message, got %q", err.Error())
	}

	wd.err = nil
	wd.outcome = watchdog.Unchanged
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if got := tracker.Snapshot().ConsecutiveFailures; got != 0 {
		t.Fatalf("expected failures reset after success, got %d", got)
	}
}

func TestRunner_RunOnce_WithoutWatchdog(t *testing.T) {
	r := New(zerolog.Nop(), time.Minute)
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
