package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nholik/gameserver-sentinel/internal/healthcheck"
	"github.com/nholik/gameserver-sentinel/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Options configures the HTTP listeners.
type Options struct {
	ListenAddr   string
	HealthPort   int
	MetricsPort  int
	TickInterval time.Duration
	Tracker      *healthcheck.Tracker
	Metrics      *metrics.Metrics
}

// Serve runs the API listener until ctx is canceled. Health and metrics
// routes are mounted on the API listener unless they have their own port.
func Serve(ctx context.Context, logger zerolog.Logger, api http.Handler, opts Options) error {
	startAuxiliary(ctx, logger, opts)

	server := &http.Server{
		Addr:              opts.ListenAddr,
		Handler:           apiMux(api, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("server", "api").Str("addr", opts.ListenAddr).Msg("http server starting")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func apiMux(api http.Handler, opts Options) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", api)
	if opts.HealthPort == 0 {
		registerHealthRoutes(mux, opts.Tracker, opts.TickInterval)
	}
	if opts.MetricsPort == 0 {
		registerMetricsRoute(mux, opts.Metrics)
	}
	return mux
}

// startAuxiliary launches dedicated health and metrics servers as configured.
func startAuxiliary(ctx context.Context, logger zerolog.Logger, opts Options) {
	healthPort, metricsPort := opts.HealthPort, opts.MetricsPort
	if healthPort == 0 && metricsPort == 0 {
		return
	}

	if healthPort > 0 && metricsPort > 0 && healthPort == metricsPort {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, opts.Tracker, opts.TickInterval)
		registerMetricsRoute(mux, opts.Metrics)
		startServer(ctx, logger, mux, healthPort, "health/metrics")
		return
	}

	if healthPort > 0 {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, opts.Tracker, opts.TickInterval)
		startServer(ctx, logger, mux, healthPort, "health")
	}

	if metricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, opts.Metrics)
		startServer(ctx, logger, mux, metricsPort, "metrics")
	}
}

func registerHealthRoutes(mux *http.ServeMux, tracker *healthcheck.Tracker, tickInterval time.Duration) {
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(tracker, tickInterval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(tracker, tickInterval))
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
