package workflow

import (
	"context"
	"fmt"

	"github.com/cloudcompose/ecsroll/pkg/stores"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
)

// Decision is the operator's answer when an earlier campaign is found.
type Decision int

const (
	// DecisionResume continues the saved campaign at its cursor.
	DecisionResume Decision = iota

	// DecisionDiscard deletes the saved campaign and starts a new one.
	DecisionDiscard
)

func (d Decision) String() string {
	switch d {
	case DecisionResume:
		return "resume"
	case DecisionDiscard:
		return "discard"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// ResumeDecider decides what to do with a partially completed campaign.
type ResumeDecider interface {
	Decide(ctx context.Context, snapshot *stores.Snapshot) (Decision, error)
}

// ResumeDeciderFunc adapts a function to ResumeDecider.
type ResumeDeciderFunc func(ctx context.Context, snapshot *stores.Snapshot) (Decision, error)

// Decide calls f.
func (f ResumeDeciderFunc) Decide(ctx context.Context, snapshot *stores.Snapshot) (Decision, error) {
	return f(ctx, snapshot)
}

// Always returns a decider that gives the same answer without asking.
func Always(d Decision) ResumeDecider {
	return ResumeDeciderFunc(func(context.Context, *stores.Snapshot) (Decision, error) {
		return d, nil
	})
}

// Inventory lists the nodes a new campaign should replace, in order.
type Inventory func(ctx context.Context) ([]Node, error)

// Load opens the campaign for cluster. When a snapshot exists the decider
// chooses between resuming it and discarding it; otherwise, or after a
// discard, a new campaign is built from inventory.
func Load(
	ctx context.Context,
	cluster string,
	store stores.WorkflowStore,
	ctrl Controller,
	inventory Inventory,
	decider ResumeDecider,
	opts ...Option,
) (*Workflow, error) {
	snapshot, err := store.Load(ctx, cluster)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow for %s: %w", cluster, err)
	}

	if snapshot != nil {
		decision, err := decider.Decide(ctx, snapshot)
		if err != nil {
			return nil, err
		}

		switch decision {
		case DecisionResume:
			return Resume(snapshot, store, ctrl, opts...)
		case DecisionDiscard:
			if err := store.Delete(ctx, cluster); err != nil {
				return nil, fmt.Errorf("failed to discard workflow for %s: %w", cluster, err)
			}
			discarded := newWorkflow(cluster, snapshot.CampaignID, store, ctrl, opts)
			discarded.logger.Info().Int("cursor", snapshot.Cursor()).Msg("Discarded partially completed upgrade")
			discarded.publish(telemetry.EventTypeCampaignDiscarded, nil, "Discarded partially completed upgrade", map[string]interface{}{
				"cursor": snapshot.Cursor(),
			})
		default:
			return nil, fmt.Errorf("unknown resume decision %s", decision)
		}
	}

	nodes, err := inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inventory nodes of %s: %w", cluster, err)
	}
	return New(cluster, nodes, store, ctrl, opts...)
}
