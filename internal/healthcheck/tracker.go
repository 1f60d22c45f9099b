package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest watchdog tick.
type Snapshot struct {
	LastTickTime        *time.Time `json:"last_tick_time"`
	TickDurationMS      int64      `json:"tick_duration_ms"`
	LastOutcome         string     `json:"last_outcome,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// Tracker records watchdog tick timing for health endpoints.
type Tracker struct {
	mu           sync.RWMutex
	lastTick     time.Time
	tickDuration time.Duration
	lastOutcome  string
	failures     int
	ready        bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordTick records a successful tick and marks the tracker ready.
func (t *Tracker) RecordTick(duration time.Duration, outcome string) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.lastTick = now
	t.tickDuration = duration
	t.lastOutcome = outcome
	t.failures = 0
	t.ready = true
	t.mu.Unlock()
}

// RecordFailure counts a failed tick. The last successful tick time is kept.
func (t *Tracker) RecordFailure() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.failures++
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastTick.IsZero() {
		value := t.lastTick
		last = &value
	}
	return Snapshot{
		LastTickTime:        last,
		TickDurationMS:      int64(t.tickDuration / time.Millisecond),
		LastOutcome:         t.lastOutcome,
		ConsecutiveFailures: t.failures,
	}
}

// Ready reports whether at least one successful tick has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last successful tick completed within 2x the
// tick interval.
func (t *Tracker) Healthy(now time.Time, tickInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if tickInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastTick.IsZero() {
		return false
	}
	return now.Sub(t.lastTick) <= 2*tickInterval
}
