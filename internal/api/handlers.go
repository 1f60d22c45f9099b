// Package api exposes the server lifecycle operations over HTTP.
//
// POST /on and POST /off change the desired state and answer 204 once the
// stack update has been accepted; they do not wait for the server to start
// or stop. GET /status returns a status.Snapshot. POST /tick runs one idle
// watchdog tick for schedulers that prefer HTTP over the CLI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nholik/gameserver-sentinel/internal/healthcheck"
	"github.com/nholik/gameserver-sentinel/internal/metrics"
	"github.com/nholik/gameserver-sentinel/internal/notify"
	"github.com/nholik/gameserver-sentinel/internal/provider"
	"github.com/nholik/gameserver-sentinel/internal/stack"
	"github.com/nholik/gameserver-sentinel/internal/status"
	"github.com/nholik/gameserver-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

const eventSource = "api"

// StateSetter changes the server's desired state.
type StateSetter interface {
	SetState(ctx context.Context, target stack.DesiredState) error
}

// StatusReader builds a status snapshot.
type StatusReader interface {
	Status(ctx context.Context) (status.Snapshot, error)
}

// Ticker runs one idle watchdog tick.
type Ticker interface {
	Tick(ctx context.Context) (watchdog.Outcome, error)
}

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	logger   zerolog.Logger
	state    StateSetter
	status   StatusReader
	watchdog Ticker
	notifier notify.Notifier
	metrics  *metrics.Metrics
	tracker  *healthcheck.Tracker
	server   string
	now      func() time.Time
}

// Option customizes Handlers.
type Option func(*Handlers)

// WithNotifier announces accepted state changes. Announcements are sent in
// the background and never hold up the response.
func WithNotifier(notifier notify.Notifier) Option {
	return func(h *Handlers) {
		h.notifier = notifier
	}
}

// WithMetrics counts state changes and provider errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handlers) {
		h.metrics = m
	}
}

// WithTracker records ticks run through POST /tick for the health endpoints.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(h *Handlers) {
		h.tracker = tracker
	}
}

// WithServerName labels notification events.
func WithServerName(name string) Option {
	return func(h *Handlers) {
		h.server = name
	}
}

// NewHandlers constructs Handlers.
func NewHandlers(logger zerolog.Logger, state StateSetter, statusReader StatusReader, ticker Ticker, opts ...Option) *Handlers {
	h := &Handlers{
		logger:   logger,
		state:    state,
		status:   statusReader,
		watchdog: ticker,
		notifier: notify.NewNoop(logger, ""),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if _, ok := h.notifier.(*notify.AsyncNotifier); !ok {
		h.notifier = notify.NewAsyncNotifier(logger, h.notifier, notify.DefaultDeliveryTimeout)
	}
	return h
}

// OnHandler handles POST /on.
func (h *Handlers) OnHandler(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, stack.Running)
}

// OffHandler handles POST /off.
func (h *Handlers) OffHandler(w http.ResponseWriter, r *http.Request) {
	h.setState(w, r, stack.Stopped)
}

// StatusHandler handles GET /status.
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	snapshot, err := h.status.Status(r.Context())
	if err != nil {
		h.writeError(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// TickHandler handles POST /tick.
func (h *Handlers) TickHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	started := h.now()
	outcome, err := h.watchdog.Tick(r.Context())
	if err != nil {
		h.tracker.RecordFailure()
		h.writeError(w, "tick", err)
		return
	}
	h.tracker.RecordTick(h.now().Sub(started), string(outcome))
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (h *Handlers) setState(w http.ResponseWriter, r *http.Request, target stack.DesiredState) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.state.SetState(r.Context(), target); err != nil {
		h.writeError(w, "set state", err)
		return
	}

	h.metrics.IncStateChanges(string(target), eventSource)
	h.logger.Info().Str("target", string(target)).Msg("desired state updated")

	w.WriteHeader(http.StatusNoContent)

	event := notify.Event{
		Kind:       notify.KindStateChanged,
		Server:     h.server,
		Target:     string(target),
		Source:     eventSource,
		OccurredAt: h.now().UTC(),
	}
	if err := h.notifier.Notify(r.Context(), event); err != nil {
		h.logger.Warn().Err(err).Msg("notification failed")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, op string, err error) {
	code := StatusCode(err)

	var perr *provider.Error
	if errors.As(err, &perr) {
		h.metrics.IncProviderErrors(perr.Service)
	}

	event := h.logger.Error()
	if code < http.StatusInternalServerError {
		event = h.logger.Warn()
	}
	event.Err(err).Str("op", op).Int("status", code).Msg("request failed")

	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// StatusCode maps an operation error to an HTTP status code.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, stack.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrNotFound):
		return http.StatusNotFound
	case provider.IsProviderError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
