package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Telemetry bundles logging, tracing, metrics and events for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Shutdown gracefully shuts down all telemetry components in reverse order
// of initialization.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Metrics.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// LogSubscriber returns an event subscriber that writes every event to logger.
func LogSubscriber(logger zerolog.Logger) EventSubscriber {
	return func(event Event) {
		var e *zerolog.Event
		switch event.Level {
		case EventLevelError:
			e = logger.Error()
		case EventLevelWarning:
			e = logger.Warn()
		default:
			e = logger.Info()
		}
		e = e.Str("event", event.Type).Str("cluster", event.Cluster)
		if event.CampaignID != "" {
			e = e.Str("campaign_id", event.CampaignID)
		}
		if event.InstanceID != "" {
			e = e.Str("instance_id", event.InstanceID)
		}
		if len(event.Data) > 0 {
			e = e.Fields(event.Data)
		}
		e.Msg(event.Message)
	}
}
