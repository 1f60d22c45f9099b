package watchdog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nholik/gameserver-sentinel/internal/metrics"
	"github.com/nholik/gameserver-sentinel/internal/notify"
	"github.com/nholik/gameserver-sentinel/internal/stack"
	"github.com/nholik/gameserver-sentinel/internal/watermark"
	"github.com/rs/zerolog"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakePlayers struct {
	count int
	err   error
}

func (f fakePlayers) Players(context.Context) (int, error) {
	return f.count, f.err
}

type fakeStack struct {
	err     error
	targets []stack.DesiredState
}

func (f *fakeStack) SetState(_ context.Context, target stack.DesiredState) error {
	f.targets = append(f.targets, target)
	return f.err
}

// memStore is an in-memory watermark.Store with injectable conditional failures.
type memStore struct {
	mu          sync.Mutex
	current     *watermark.Watermark
	calls       int
	createErr   error
	deleteIfErr error
	putErr      error
}

func (s *memStore) Get(context.Context) (watermark.Watermark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.current == nil {
		return watermark.Watermark{}, false, nil
	}
	return *s.current, true, nil
}

func (s *memStore) Put(_ context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.putErr != nil {
		return s.putErr
	}
	w := watermark.New(ts)
	s.current = &w
	return nil
}

func (s *memStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.current = nil
	return nil
}

func (s *memStore) Create(_ context.Context, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.createErr != nil {
		return s.createErr
	}
	if s.current != nil {
		return watermark.ErrConflict
	}
	w := watermark.New(ts)
	s.current = &w
	return nil
}

func (s *memStore) DeleteIf(_ context.Context, expected watermark.Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.deleteIfErr != nil {
		return s.deleteIfErr
	}
	if s.current == nil || s.current.Value != expected.Value {
		return watermark.ErrConflict
	}
	s.current = nil
	return nil
}

func (s *memStore) value() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", false
	}
	return s.current.Value, true
}

func storeWith(ts time.Time) *memStore {
	w := watermark.New(ts)
	return &memStore{current: &w}
}

type recordingNotifier struct {
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event notify.Event) error {
	n.events = append(n.events, event)
	return n.err
}

func newWatchdog(players PlayerCounter, store watermark.Store, setter StateSetter, opts ...Option) *Watchdog {
	opts = append([]Option{WithClock(func() time.Time { return baseTime })}, opts...)
	return New(zerolog.Nop(), players, store, setter, 15*time.Minute, opts...)
}

func TestTick_RegistersWhenEmpty(t *testing.T) {
	store := &memStore{}
	setter := &fakeStack{}

	outcome, err := newWatchdog(fakePlayers{count: 0}, store, setter).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if outcome != Registered {
		t.Fatalf("expected Registered, got %s", outcome)
	}
	if value, ok := store.value(); !ok || value != "2024-03-01T12:00:00.000Z" {
		t.Fatalf("unexpected watermark: %q (%v)", value, ok)
	}
	if len(setter.targets) != 0 {
		t.Fatalf("expected no state change")
	}
}

func TestTick_ClearsWhenPlayersReturn(t *testing.T) {
	store := storeWith(baseTime.Add(-5 * time.Minute))

	outcome, err := newWatchdog(fakePlayers{count: 3}, store, &fakeStack{}).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if outcome != Cleared {
		t.Fatalf("expected Cleared, got %s", outcome)
	}
	if _, ok := store.value(); ok {
		t.Fatalf("expected watermark to be removed")
	}
}

func TestTick_PlayersWithoutWatermarkUnchanged(t *testing.T) {
	store := &memStore{}

	outcome, err := newWatchdog(fakePlayers{count: 1}, store, &fakeStack{}).Tick(context.Background())
	if err != nil || outcome != Unchanged {
		t.Fatalf("expected Unchanged, got %s (%v)", outcome, err)
	}
	if _, ok := store.value(); ok {
		t.Fatalf("expected no watermark")
	}
}

func TestTick_ShutsDownAfterThreshold(t *testing.T) {
	store := storeWith(baseTime.Add(-16 * time.Minute))
	setter := &fakeStack{}
	notifier := &recordingNotifier{}

	outcome, err := newWatchdog(fakePlayers{count: 0}, store, setter, WithNotifier(notifier), WithServerName("mc")).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if outcome != ShutDown {
		t.Fatalf("expected ShutDown, got %s", outcome)
	}
	if len(setter.targets) != 1 || setter.targets[0] != stack.Stopped {
		t.Fatalf("expected one Stopped update, got %v", setter.targets)
	}
	if _, ok := store.value(); ok {
		t.Fatalf("expected watermark to be removed")
	}
	if len(notifier.events) != 1 {
		t.Fatalf("expected one event, got %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.Kind != notify.KindIdleShutdown || event.IdleFor != 16*time.Minute || event.Server != "mc" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestTick_BeforeThresholdUnchanged(t *testing.T) {
	for _, idle := range []time.Duration{10 * time.Minute, 15 * time.Minute} {
		store := storeWith(baseTime.Add(-idle))
		before, _ := store.value()
		setter := &fakeStack{}

		outcome, err := newWatchdog(fakePlayers{count: 0}, store, setter).Tick(context.Background())
		if err != nil || outcome != Unchanged {
			t.Fatalf("idle %s: expected Unchanged, got %s (%v)", idle, outcome, err)
		}
		if after, ok := store.value(); !ok || after != before {
			t.Fatalf("idle %s: watermark changed from %q to %q", idle, before, after)
		}
		if len(setter.targets) != 0 {
			t.Fatalf("idle %s: expected no state change", idle)
		}
	}
}

func TestTick_QueryFailureIsNotEmpty(t *testing.T) {
	store := &memStore{}
	setter := &fakeStack{}
	notifier := &recordingNotifier{}

	outcome, err := newWatchdog(fakePlayers{err: errors.New("timeout")}, store, setter, WithNotifier(notifier)).Tick(context.Background())
	if err != nil || outcome != Unchanged {
		t.Fatalf("expected Unchanged, got %s (%v)", outcome, err)
	}
	if store.calls != 0 {
		t.Fatalf("expected no store access, got %d calls", store.calls)
	}
	if len(setter.targets) != 0 || len(notifier.events) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestTick_ConcurrentRegistrationUnchanged(t *testing.T) {
	store := &memStore{createErr: watermark.ErrConflict}

	outcome, err := newWatchdog(fakePlayers{count: 0}, store, &fakeStack{}).Tick(context.Background())
	if err != nil || outcome != Unchanged {
		t.Fatalf("expected Unchanged, got %s (%v)", outcome, err)
	}
}

func TestTick_ConcurrentShutdownClaimUnchanged(t *testing.T) {
	store := storeWith(baseTime.Add(-time.Hour))
	store.deleteIfErr = watermark.ErrConflict
	setter := &fakeStack{}

	outcome, err := newWatchdog(fakePlayers{count: 0}, store, setter).Tick(context.Background())
	if err != nil || outcome != Unchanged {
		t.Fatalf("expected Unchanged, got %s (%v)", outcome, err)
	}
	if len(setter.targets) != 0 {
		t.Fatalf("expected losing tick not to stop the server")
	}
}

func TestTick_FailedShutdownRestoresWatermark(t *testing.T) {
	idleSince := baseTime.Add(-20 * time.Minute)
	store := storeWith(idleSince)
	before, _ := store.value()
	setter := &fakeStack{err: errors.New("update in progress")}

	outcome, err := newWatchdog(fakePlayers{count: 0}, store, setter).Tick(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if outcome != Unchanged {
		t.Fatalf("expected Unchanged on failure, got %s", outcome)
	}
	if after, ok := store.value(); !ok || after != before {
		t.Fatalf("expected watermark %q to be restored, got %q (%v)", before, after, ok)
	}
}

// cancelingStack cancels the tick's context mid-update, as a shutdown signal
// or a disconnecting HTTP client would.
type cancelingStack struct {
	cancel context.CancelFunc
}

func (s cancelingStack) SetState(ctx context.Context, _ stack.DesiredState) error {
	s.cancel()
	return ctx.Err()
}

func TestTick_CancelledShutdownRestoresWatermark(t *testing.T) {
	store := watermark.NewFileStore(filepath.Join(t.TempDir(), "watermark.json"), zerolog.Nop())
	idleSince := baseTime.Add(-16 * time.Minute)
	if err := store.Put(context.Background(), idleSince); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcome, err := newWatchdog(fakePlayers{count: 0}, store, cancelingStack{cancel: cancel}).Tick(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if outcome != Unchanged {
		t.Fatalf("expected Unchanged on failure, got %s", outcome)
	}

	got, ok, err := store.Get(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected watermark to survive cancellation, got ok=%v err=%v", ok, err)
	}
	if got.Value != watermark.New(idleSince).Value {
		t.Fatalf("expected original watermark %q, got %q", watermark.New(idleSince).Value, got.Value)
	}
}

func TestTick_CorruptWatermarkReregistered(t *testing.T) {
	store := &memStore{current: &watermark.Watermark{Key: watermark.Key, Value: "yesterday"}}

	outcome, err := newWatchdog(fakePlayers{count: 0}, store, &fakeStack{}).Tick(context.Background())
	if err != nil || outcome != Registered {
		t.Fatalf("expected Registered, got %s (%v)", outcome, err)
	}
	if value, _ := store.value(); value != "2024-03-01T12:00:00.000Z" {
		t.Fatalf("expected watermark reset to now, got %q", value)
	}
}

func TestTick_NotificationFailureDoesNotFailTick(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("slack down")}
	m := metrics.New()

	outcome, err := newWatchdog(fakePlayers{count: 0}, &memStore{}, &fakeStack{}, WithNotifier(notifier), WithMetrics(m)).Tick(context.Background())
	if err != nil || outcome != Registered {
		t.Fatalf("expected Registered, got %s (%v)", outcome, err)
	}
	if len(notifier.events) != 1 || notifier.events[0].Kind != notify.KindIdleRegistered {
		t.Fatalf("unexpected events: %+v", notifier.events)
	}
}

func TestTick_FullIdleCycle(t *testing.T) {
	now := baseTime
	store := &memStore{}
	setter := &fakeStack{}
	players := &fakePlayers{}
	w := New(zerolog.Nop(), playerFunc(func() (int, error) { return players.count, players.err }), store, setter, 15*time.Minute,
		WithClock(func() time.Time { return now }))

	steps := []struct {
		advance time.Duration
		players int
		want    Outcome
	}{
		{0, 0, Registered},
		{5 * time.Minute, 0, Unchanged},
		{5 * time.Minute, 2, Cleared},
		{5 * time.Minute, 0, Registered},
		{15 * time.Minute, 0, Unchanged},
		{time.Minute, 0, ShutDown},
		{5 * time.Minute, 0, Registered},
	}
	for i, step := range steps {
		now = now.Add(step.advance)
		players.count = step.players
		got, err := w.Tick(context.Background())
		if err != nil {
			t.Fatalf("step %d: Tick error: %v", i, err)
		}
		if got != step.want {
			t.Fatalf("step %d: expected %s, got %s", i, step.want, got)
		}
	}
	if len(setter.targets) != 1 {
		t.Fatalf("expected exactly one shutdown, got %d", len(setter.targets))
	}
}

type playerFunc func() (int, error)

func (f playerFunc) Players(context.Context) (int, error) {
	return f()
}
