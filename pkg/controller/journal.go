package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudcompose/ecsroll/pkg/stores"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
)

// journalTimeout bounds a single history write.
const journalTimeout = 5 * time.Second

// Journal records persisted node changes in the transition history.
type Journal struct {
	history *stores.HistoryStore
	logger  zerolog.Logger
}

// NewJournal returns a journal writing to history.
func NewJournal(history *stores.HistoryStore, logger zerolog.Logger) *Journal {
	return &Journal{
		history: history,
		logger:  logger.With().Str("component", "journal").Logger(),
	}
}

// Attach subscribes the journal to node events of ep.
func (j *Journal) Attach(ep *telemetry.EventPublisher) {
	ep.Subscribe(j.Handle, telemetry.FilterByType(
		telemetry.EventTypeNodeStateChanged,
		telemetry.EventTypeNodeCompleted,
	))
}

// Handle converts a node event into a transition record. Failures are
// logged; history never interrupts an upgrade.
func (j *Journal) Handle(event telemetry.Event) {
	t := transitionFromEvent(event)
	if t == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if err := j.history.Record(ctx, t); err != nil {
		j.logger.Warn().Err(err).
			Str("event_id", event.ID).
			Str("instance_id", event.InstanceID).
			Msg("Failed to record transition")
	}
}

func transitionFromEvent(event telemetry.Event) *stores.Transition {
	if event.Type != telemetry.EventTypeNodeStateChanged && event.Type != telemetry.EventTypeNodeCompleted {
		return nil
	}

	from, _ := event.Data["from"].(string)
	to, _ := event.Data["to"].(string)
	return &stores.Transition{
		CampaignID:  event.CampaignID,
		ClusterName: event.Cluster,
		InstanceID:  event.InstanceID,
		FromState:   from,
		ToState:     to,
		Completed:   event.Type == telemetry.EventTypeNodeCompleted,
		RecordedAt:  event.Timestamp,
	}
}
