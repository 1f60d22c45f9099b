package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for gameserver-sentinel.
type Metrics struct {
	registry                *prometheus.Registry
	tickDurationSeconds     prometheus.Histogram
	ticksTotal              *prometheus.CounterVec
	queryFailuresTotal      *prometheus.CounterVec
	stateChangesTotal       *prometheus.CounterVec
	providerErrorsTotal     *prometheus.CounterVec
	playersOnline           prometheus.Gauge
	lastSuccessfulTickGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		tickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gameserver_sentinel_tick_duration_seconds",
			Help:    "Duration of idle watchdog ticks in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameserver_sentinel_ticks_total",
			Help: "Total watchdog ticks by outcome.",
		}, []string{"outcome"}),
		queryFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameserver_sentinel_live_query_failures_total",
			Help: "Total live player queries that failed, by caller.",
		}, []string{"caller"}),
		stateChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameserver_sentinel_state_changes_total",
			Help: "Total desired state updates by target and source.",
		}, []string{"target", "source"}),
		providerErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gameserver_sentinel_provider_errors_total",
			Help: "Total cloud provider errors by service.",
		}, []string{"service"}),
		playersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gameserver_sentinel_players_online",
			Help: "Players online at the last successful live query.",
		}),
		lastSuccessfulTickGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gameserver_sentinel_last_successful_tick_timestamp",
			Help: "Unix timestamp of the last successful watchdog tick.",
		}),
	}

	registry.MustRegister(
		m.tickDurationSeconds,
		m.ticksTotal,
		m.queryFailuresTotal,
		m.stateChangesTotal,
		m.providerErrorsTotal,
		m.playersOnline,
		m.lastSuccessfulTickGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTickDuration records the duration of a completed tick.
func (m *Metrics) ObserveTickDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.tickDurationSeconds.Observe(duration.Seconds())
}

// IncTicks increments the tick counter for outcome.
func (m *Metrics) IncTicks(outcome string) {
	if m == nil {
		return
	}
	m.ticksTotal.WithLabelValues(outcome).Inc()
}

// IncQueryFailures increments the live query failure counter.
func (m *Metrics) IncQueryFailures(caller string) {
	if m == nil {
		return
	}
	m.queryFailuresTotal.WithLabelValues(caller).Inc()
}

// IncStateChanges increments the state change counter.
func (m *Metrics) IncStateChanges(target, source string) {
	if m == nil {
		return
	}
	m.stateChangesTotal.WithLabelValues(target, source).Inc()
}

// IncProviderErrors increments the provider error counter for service.
func (m *Metrics) IncProviderErrors(service string) {
	if m == nil {
		return
	}
	m.providerErrorsTotal.WithLabelValues(service).Inc()
}

// SetPlayersOnline records the last observed player count.
func (m *Metrics) SetPlayersOnline(players int) {
	if m == nil {
		return
	}
	m.playersOnline.Set(float64(players))
}

// SetLastSuccessfulTickTimestamp sets the last successful tick time.
func (m *Metrics) SetLastSuccessfulTickTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulTickGauge.Set(float64(t.Unix()))
}
