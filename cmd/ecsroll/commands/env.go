package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudcompose/ecsroll/pkg/awsclient"
	"github.com/cloudcompose/ecsroll/pkg/config"
	"github.com/cloudcompose/ecsroll/pkg/controller"
	"github.com/cloudcompose/ecsroll/pkg/stores"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
)

// serviceVersion is reported in traces.
var serviceVersion = "dev"

const shutdownTimeout = 5 * time.Second

// environment holds what a command needs to talk to one cluster.
type environment struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	store   *stores.FileStore
	history *stores.HistoryStore
	ctrl    *controller.Controller
}

type setupOptions struct {
	provider bool
	history  bool

	// override adjusts the loaded config from command flags.
	override func(*config.Config) error
}

// setup loads the config file and builds telemetry, stores and, when asked,
// the provider client and controller.
func setup(ctx context.Context, opts setupOptions) (*environment, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if opts.override != nil {
		if err := opts.override(cfg); err != nil {
			return nil, err
		}
	}

	tel, err := telemetry.NewTelemetry(telemetryConfig(cfg, metricsAddr))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	env := &environment{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}
	env.store = stores.NewFileStore(cfg.Upgrade.StateDir, env.logger)

	if err := tel.Metrics.StartMetricsServer(env.logger); err != nil {
		env.Close()
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	if verbose {
		tel.Events.Subscribe(telemetry.LogSubscriber(env.logger), telemetry.FilterByCluster(cfg.Cluster.Name))
	}

	if opts.history && cfg.History.Path != "" {
		history, err := stores.OpenHistoryStore(ctx, cfg.History.Path)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.history = history
		if err := history.HealthCheck(ctx); err != nil {
			env.Close()
			return nil, fmt.Errorf("history journal at %s is unavailable: %w", cfg.History.Path, err)
		}
		controller.NewJournal(history, env.logger).Attach(tel.Events)
	}

	if opts.provider {
		policy := retryPolicy(cfg.Retry)
		if err := policy.Validate(); err != nil {
			env.Close()
			return nil, err
		}

		client, err := awsclient.New(ctx, cfg.Cluster.AWS,
			awsclient.WithPolicy(policy),
			awsclient.WithMetrics(tel.Metrics),
			awsclient.WithLogger(env.logger),
		)
		if err != nil {
			env.Close()
			return nil, err
		}

		env.ctrl = controller.New(cfg.Cluster.Name, client, env.store,
			controller.WithInterval(cfg.Upgrade.Interval.Std()),
			controller.WithVerbose(cfg.Upgrade.Verbose || verbose),
			controller.WithLogger(env.logger),
			controller.WithMetrics(tel.Metrics),
			controller.WithEvents(tel.Events),
		)
	}

	return env, nil
}

// Close flushes telemetry and closes the history journal.
func (e *environment) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if e.history != nil {
		errs = append(errs, e.history.Close())
	}
	errs = append(errs, e.tel.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to shut down cleanly")
	}
}

func retryPolicy(cfg config.RetryConfig) awsclient.Policy {
	policy := awsclient.DefaultPolicy()
	policy.MaxDuration = cfg.MaxDuration.Std()
	policy.BaseDelay = cfg.BaseDelay.Std()
	policy.MaxDelay = cfg.MaxDelay.Std()
	return policy
}

func telemetryConfig(cfg *config.Config, metricsAddr string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = serviceVersion

	tc.Logging.Level = cfg.Telemetry.LogLevel
	tc.Logging.Format = cfg.Telemetry.LogFormat

	tc.Tracing.Exporter = cfg.Telemetry.TracingExporter
	tc.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint
	tc.Tracing.Enabled = tc.Tracing.Exporter != "" && tc.Tracing.Exporter != "none"

	tc.Metrics.ListenAddress = cfg.Telemetry.MetricsAddr
	if metricsAddr != "" {
		tc.Metrics.ListenAddress = metricsAddr
	}
	return tc
}
