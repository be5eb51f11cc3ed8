package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-scan-api/config"
	"github.com/target/mmk-scan-api/internal/adapters/jenkins"
	"github.com/target/mmk-scan-api/internal/core"
	"github.com/target/mmk-scan-api/internal/data"
	"github.com/target/mmk-scan-api/internal/observability/notify/pagerduty"
	"github.com/target/mmk-scan-api/internal/observability/notify/slack"
	"github.com/target/mmk-scan-api/internal/observability/statsd"
	"github.com/target/mmk-scan-api/internal/service"
	"github.com/target/mmk-scan-api/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Scans         *service.ScanJobService
	Reconciler    *service.Reconciler
	Repo          core.ScanJobRepository
	Runner        core.Runner
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// Close releases the metrics connection.
func (o ObservabilityContainer) Close() error {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink.Close()
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config *config.AppConfig
	// DB backs the job store. When nil, jobs are kept in memory for the life of the process.
	DB *sql.DB
	// RedisClient backs idempotency keys and the console log cache. Optional.
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires the store, runner client, reconciler and job lifecycle service.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)
	metrics := observability.metricsSink()

	runner, err := jenkins.NewClient(jenkins.Config{
		BaseURL:     cfg.Runner.URL,
		User:        cfg.Runner.User,
		Token:       cfg.Runner.Token,
		JobName:     cfg.Runner.JobName,
		Timeout:     cfg.Runner.Timeout,
		MaxLogBytes: cfg.Runner.MaxLogBytes,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create jenkins client: %w", err)
	}

	repo := buildRepository(deps.DB, logger)

	reconciler, err := service.NewReconciler(service.ReconcilerOptions{
		Repo:            repo,
		Runner:          runner,
		Logger:          logger,
		Metrics:         metrics,
		FailureNotifier: observability.FailureNotifier,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create reconciler: %w", err)
	}

	retry := service.TriggerRetryPolicy{
		MaxRetries:      cfg.Runner.TriggerRetries,
		InitialInterval: cfg.Runner.RetryInitialInterval,
		MaxInterval:     cfg.Runner.RetryMaxInterval,
	}
	scans, err := service.NewScanJobService(service.ScanJobServiceOptions{
		Repo:       repo,
		Runner:     runner,
		Reconciler: reconciler,
		Cache:      newScanJobCache(deps.RedisClient, cfg.Cache),
		Retry:      &retry,
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create scan job service: %w", err)
	}

	return ServiceContainer{
		Scans:         scans,
		Reconciler:    reconciler,
		Repo:          repo,
		Runner:        runner,
		Observability: observability,
	}, nil
}

//nolint:ireturn // the memory store stands in for Postgres when no database is configured.
func buildRepository(db *sql.DB, logger *slog.Logger) core.ScanJobRepository {
	if db == nil {
		logger.Warn("no database configured; scan jobs are kept in memory and lost on restart")
		return data.NewMemoryScanJobStore(nil)
	}
	return data.NewScanJobRepo(db, data.ScanJobRepoConfig{Logger: logger})
}

func newScanJobCache(client redis.UniversalClient, cfg config.CacheConfig) *core.ScanJobCacheService {
	if client == nil {
		return nil
	}
	return core.NewScanJobCacheService(data.NewRedisCacheRepo(client), core.ScanJobCacheConfig{
		LogTTL:         cfg.LogTTL,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
}

// metricsSink returns nil rather than a typed nil so callers can test for absence.
//
//nolint:ireturn // statsd.Sink lets tests substitute a Recorder.
func (o ObservabilityContainer) metricsSink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "scanapi",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{Logger: baseLogger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger,
		Sinks:  sinks,
	})
}
