package runner

import (
	"context"
	"errors"
	"time"

	"github.com/nholik/gameserver-sentinel/internal/healthcheck"
	"github.com/nholik/gameserver-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Watchdog runs one idle check.
type Watchdog interface {
	Tick(ctx context.Context) (watchdog.Outcome, error)
}

// Runner invokes the idle watchdog on a fixed interval. Ticks never overlap.
type Runner struct {
	logger        zerolog.Logger
	tickInterval  time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	watchdog      Watchdog
	tracker       *healthcheck.Tracker
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithWatchdog sets the watchdog used by the default RunOnce.
func WithWatchdog(w Watchdog) Option {
	return func(r *Runner) {
		r.watchdog = w
	}
}

// WithTracker records tick results for the health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// New constructs a Runner with the given logger and tick interval.
func New(logger zerolog.Logger, tickInterval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:       logger,
		tickInterval: tickInterval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.tickInterval <= 0 {
		return errors.New("tick interval must be greater than zero")
	}

	// Run immediately on startup
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Msg("initial watchdog tick failed")
	}

	ticker := r.tickerFactory(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Msg("watchdog tick failed")
			}
		}
	}
}

// RunOnce executes a single cycle of the runner.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	if r.watchdog == nil {
		return nil
	}

	started := time.Now()
	outcome, err := r.watchdog.Tick(ctx)
	if err != nil {
		r.tracker.RecordFailure()
		return &TickError{
			Started:  started,
			Failures: r.tracker.Snapshot().ConsecutiveFailures,
			Err:      err,
		}
	}
	r.tracker.RecordTick(time.Since(started), string(outcome))
	return nil
}
