package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/nholik/gameserver-sentinel/internal/api"
	"github.com/nholik/gameserver-sentinel/internal/cluster"
	"github.com/nholik/gameserver-sentinel/internal/config"
	"github.com/nholik/gameserver-sentinel/internal/healthcheck"
	"github.com/nholik/gameserver-sentinel/internal/metrics"
	"github.com/nholik/gameserver-sentinel/internal/notify"
	"github.com/nholik/gameserver-sentinel/internal/query"
	"github.com/nholik/gameserver-sentinel/internal/runner"
	"github.com/nholik/gameserver-sentinel/internal/server"
	"github.com/nholik/gameserver-sentinel/internal/stack"
	"github.com/nholik/gameserver-sentinel/internal/status"
	"github.com/nholik/gameserver-sentinel/internal/watchdog"
	"github.com/nholik/gameserver-sentinel/internal/watermark"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type app struct {
	cfg      config.Config
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	notifier *notify.AsyncNotifier
	stack    *stack.Client
	status   *status.Aggregator
	watchdog *watchdog.Watchdog
}

func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	delivery, err := buildNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	notifier := notify.NewAsyncNotifier(logger, delivery, notify.DefaultDeliveryTimeout)

	m := metrics.New()
	stackClient := stack.NewClient(awsCfg, cfg.StackARN, cfg.RoleARN, logger)
	clusterClient := cluster.NewClient(awsCfg, cfg.ClusterARN)
	statusQuery := query.New(cfg.ServerHost, query.Timeouts(cfg.StatusQuery))
	watchdogQuery := query.New(cfg.ServerHost, query.Timeouts(cfg.WatchdogQuery))

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		notifier: notifier,
		stack:    stackClient,
		status:   status.New(logger, stackClient, clusterClient, statusQuery, status.WithMetrics(m)),
		watchdog: watchdog.New(logger, watchdogQuery, buildStore(cfg, awsCfg, logger), stackClient, cfg.IdleThreshold,
			watchdog.WithNotifier(notifier),
			watchdog.WithMetrics(m),
			watchdog.WithServerName(cfg.ServerHost),
		),
	}, nil
}

func buildStore(cfg config.Config, awsCfg aws.Config, logger zerolog.Logger) watermark.Store {
	if cfg.TableName != "" {
		return watermark.NewDynamoStore(awsCfg, cfg.TableName)
	}
	logger.Info().Str("path", cfg.StateFile).Msg("no watermark table configured, using file store")
	return watermark.NewFileStore(cfg.StateFile, logger)
}

func buildNotifier(cfg config.Config, logger zerolog.Logger) (notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.NewSlackNotifier(logger, cfg.SlackWebhookURL)}

	webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		return nil, err
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.NotifyDryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier, nil
}

func (a *app) setState(ctx context.Context, target stack.DesiredState) error {
	if err := a.stack.SetState(ctx, target); err != nil {
		return err
	}
	event := notify.Event{
		Kind:       notify.KindStateChanged,
		Server:     a.cfg.ServerHost,
		Target:     string(target),
		Source:     "cli",
		OccurredAt: time.Now().UTC(),
	}
	a.logger.Info().Str("target", string(target)).Msg("desired state updated")
	if err := a.notifier.Notify(ctx, event); err != nil {
		a.logger.Warn().Err(err).Msg("notification failed")
	}
	return nil
}

// flush waits for background notifications, bounded by the delivery timeout.
func (a *app) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), notify.DefaultDeliveryTimeout)
	defer cancel()
	if err := a.notifier.Wait(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("pending notifications dropped")
	}
}

func (a *app) serve(ctx context.Context) error {
	tracker := healthcheck.NewTracker()
	handlers := api.NewHandlers(a.logger, a.stack, a.status, a.watchdog,
		api.WithNotifier(a.notifier),
		api.WithMetrics(a.metrics),
		api.WithTracker(tracker),
		api.WithServerName(a.cfg.ServerHost),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, a.logger, api.NewRouter(handlers), server.Options{
			ListenAddr:   a.cfg.ListenAddr,
			HealthPort:   a.cfg.HealthPort,
			MetricsPort:  a.cfg.MetricsPort,
			TickInterval: a.cfg.TickInterval,
			Tracker:      tracker,
			Metrics:      a.metrics,
		})
	})
	if a.cfg.TickInterval > 0 {
		g.Go(func() error {
			return runner.New(a.logger, a.cfg.TickInterval,
				runner.WithWatchdog(a.watchdog),
				runner.WithTracker(tracker),
			).Run(gctx)
		})
	} else {
		a.logger.Info().Msg("tick interval is zero, watchdog runs only on external triggers")
	}

	a.logger.Info().
		Str("server", a.cfg.ServerHost).
		Dur("idle_threshold", a.cfg.IdleThreshold).
		Dur("tick_interval", a.cfg.TickInterval).
		Msg("gameserver-sentinel starting")
	return g.Wait()
}
