package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nholik/gameserver-sentinel/internal/metrics"
	"github.com/nholik/gameserver-sentinel/internal/notify"
	"github.com/nholik/gameserver-sentinel/internal/provider"
	"github.com/nholik/gameserver-sentinel/internal/stack"
	"github.com/nholik/gameserver-sentinel/internal/watermark"
	"github.com/rs/zerolog"
)

// DefaultThreshold is how long the server may sit empty before it is stopped.
const DefaultThreshold = 15 * time.Minute

const eventSource = "watchdog"

// restoreTimeout bounds putting the watermark back after a failed stop.
const restoreTimeout = 10 * time.Second

// Outcome is the result of a single watchdog tick.
type Outcome string

const (
	Unchanged  Outcome = "unchanged"
	Registered Outcome = "registered"
	Cleared    Outcome = "cleared"
	ShutDown   Outcome = "shutdown"
)

// PlayerCounter reports how many players are online.
type PlayerCounter interface {
	Players(ctx context.Context) (int, error)
}

// StateSetter changes the server's desired state.
type StateSetter interface {
	SetState(ctx context.Context, target stack.DesiredState) error
}

// Watchdog stops the server once it has been empty for longer than the
// idle threshold. The start of the idle period lives in a watermark.Store so
// that ticks can run in separate processes.
type Watchdog struct {
	logger    zerolog.Logger
	players   PlayerCounter
	store     watermark.Store
	stack     StateSetter
	threshold time.Duration
	server    string
	now       func() time.Time
	notifier  notify.Notifier
	metrics   *metrics.Metrics
}

// Option customizes Watchdog behavior.
type Option func(*Watchdog)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) {
		w.now = now
	}
}

// WithNotifier sends an event for every tick that changes something.
func WithNotifier(notifier notify.Notifier) Option {
	return func(w *Watchdog) {
		w.notifier = notifier
	}
}

// WithMetrics records tick outcomes and durations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watchdog) {
		w.metrics = m
	}
}

// WithServerName labels log lines and events.
func WithServerName(name string) Option {
	return func(w *Watchdog) {
		w.server = name
	}
}

// New constructs a Watchdog. A non-positive threshold falls back to DefaultThreshold.
func New(logger zerolog.Logger, players PlayerCounter, store watermark.Store, setter StateSetter, threshold time.Duration, opts ...Option) *Watchdog {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	w := &Watchdog{
		logger:    logger,
		players:   players,
		store:     store,
		stack:     setter,
		threshold: threshold,
		now:       time.Now,
		notifier:  notify.NewNoop(logger, ""),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type tickResult struct {
	outcome Outcome
	players int
	idleFor time.Duration
}

// Tick samples the player count once and advances the idle state machine.
// A failed live query is never taken to mean the server is empty.
func (w *Watchdog) Tick(ctx context.Context) (Outcome, error) {
	started := time.Now()
	result, err := w.tick(ctx)
	w.metrics.ObserveTickDuration(time.Since(started))

	if err != nil {
		w.metrics.IncTicks("error")
		var perr *provider.Error
		if errors.As(err, &perr) {
			w.metrics.IncProviderErrors(perr.Service)
		}
		w.logger.Error().Err(err).Str("server", w.server).Msg("watchdog tick failed")
		return Unchanged, err
	}

	w.metrics.IncTicks(string(result.outcome))
	w.metrics.SetLastSuccessfulTickTimestamp(w.now())

	w.logger.Info().
		Str("server", w.server).
		Str("outcome", string(result.outcome)).
		Int("players", result.players).
		Msg("watchdog tick complete")

	if result.outcome != Unchanged {
		w.emit(ctx, result)
	}
	return result.outcome, nil
}

func (w *Watchdog) tick(ctx context.Context) (tickResult, error) {
	players, err := w.players.Players(ctx)
	if err != nil {
		w.metrics.IncQueryFailures(eventSource)
		w.logger.Warn().Err(err).Str("server", w.server).Msg("player count unavailable, leaving idle clock alone")
		return tickResult{outcome: Unchanged}, nil
	}
	w.metrics.SetPlayersOnline(players)

	current, exists, err := w.store.Get(ctx)
	if err != nil {
		return tickResult{}, fmt.Errorf("read watermark: %w", err)
	}

	if players > 0 {
		if !exists {
			return tickResult{outcome: Unchanged, players: players}, nil
		}
		if err := w.store.Delete(ctx); err != nil {
			return tickResult{}, fmt.Errorf("clear watermark: %w", err)
		}
		return tickResult{outcome: Cleared, players: players}, nil
	}

	now := w.now()
	if !exists {
		return w.register(ctx, now)
	}

	since, err := current.Since()
	if err != nil {
		w.logger.Warn().Err(err).Msg("replacing unreadable watermark")
		if err := w.store.Put(ctx, now); err != nil {
			return tickResult{}, fmt.Errorf("replace watermark: %w", err)
		}
		return tickResult{outcome: Registered}, nil
	}

	idleFor := now.Sub(since)
	if idleFor <= w.threshold {
		w.logger.Debug().
			Dur("idle_for", idleFor).
			Dur("threshold", w.threshold).
			Msg("server idle, threshold not reached")
		return tickResult{outcome: Unchanged}, nil
	}

	return w.shutdown(ctx, current, since, idleFor)
}

func (w *Watchdog) register(ctx context.Context, now time.Time) (tickResult, error) {
	if err := w.store.Create(ctx, now); err != nil {
		if errors.Is(err, watermark.ErrConflict) {
			w.logger.Debug().Msg("watermark registered by a concurrent tick")
			return tickResult{outcome: Unchanged}, nil
		}
		return tickResult{}, fmt.Errorf("create watermark: %w", err)
	}
	return tickResult{outcome: Registered}, nil
}

// shutdown claims the watermark before stopping so that only one of several
// overlapping ticks issues the update. The watermark is put back if the
// update fails, keeping the next tick eligible to retry.
func (w *Watchdog) shutdown(ctx context.Context, current watermark.Watermark, since time.Time, idleFor time.Duration) (tickResult, error) {
	if err := w.store.DeleteIf(ctx, current); err != nil {
		if errors.Is(err, watermark.ErrConflict) {
			w.logger.Debug().Msg("shutdown claimed by a concurrent tick")
			return tickResult{outcome: Unchanged}, nil
		}
		return tickResult{}, fmt.Errorf("claim watermark: %w", err)
	}

	if err := w.stack.SetState(ctx, stack.Stopped); err != nil {
		stopErr := fmt.Errorf("stop server: %w", err)
		// The tick's context may be what failed the stop.
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		if restoreErr := w.store.Put(restoreCtx, since); restoreErr != nil {
			return tickResult{}, errors.Join(stopErr, fmt.Errorf("restore watermark: %w", restoreErr))
		}
		return tickResult{}, stopErr
	}

	w.metrics.IncStateChanges(string(stack.Stopped), eventSource)
	w.logger.Info().
		Str("server", w.server).
		Dur("idle_for", idleFor).
		Msg("server stopped after idle threshold")
	return tickResult{outcome: ShutDown, idleFor: idleFor}, nil
}

func (w *Watchdog) emit(ctx context.Context, result tickResult) {
	event := notify.Event{
		Server:     w.server,
		Players:    result.players,
		IdleFor:    result.idleFor,
		Source:     eventSource,
		OccurredAt: w.now().UTC(),
	}
	switch result.outcome {
	case Registered:
		event.Kind = notify.KindIdleRegistered
	case Cleared:
		event.Kind = notify.KindIdleCleared
	case ShutDown:
		event.Kind = notify.KindIdleShutdown
		event.Target = string(stack.Stopped)
	}

	if err := w.notifier.Notify(ctx, event); err != nil {
		w.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("notification failed")
	}
}
