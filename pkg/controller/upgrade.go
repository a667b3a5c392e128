package controller

import (
	"context"
	"fmt"

	"github.com/cloudcompose/ecsroll/pkg/engine"
	"github.com/cloudcompose/ecsroll/pkg/workflow"
)

// Upgrade opens the campaign for the cluster and advances it. With
// singleStep set it performs exactly one step; otherwise it steps every
// interval until every node is replaced, the context ends, an error
// occurs, or the persisted snapshot is removed by another process.
func (c *Controller) Upgrade(ctx context.Context, decider workflow.ResumeDecider, singleStep bool) error {
	w, err := workflow.Load(ctx, c.cluster, c.store, c, c.Servers, decider, c.workflowOptions()...)
	if err != nil {
		return err
	}

	if singleStep {
		c.logger.Info().Msg("Running single step")
		_, err := w.Step(ctx)
		return err
	}

	c.logger.Info().
		Int("nodes", len(w.Nodes())).
		Int("cursor", w.Cursor()).
		Str("campaign_id", w.CampaignID()).
		Msg("Starting upgrade of container instances")

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	removed, err := c.store.Watch(watchCtx, c.cluster)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Cannot watch workflow snapshot, external removal will go unnoticed")
		removed = nil
	}

	for {
		more, err := w.Step(ctx)
		if err != nil {
			return err
		}
		if !more {
			c.logger.Info().Str("campaign_id", w.CampaignID()).Msg("Upgrade complete")
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("upgrade of %s interrupted: %w", c.cluster, ctx.Err())
		case _, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			return engine.NewConfigurationError(
				fmt.Sprintf("workflow snapshot of %s was removed while the upgrade was running", c.cluster), nil,
			).WithResource(c.store.Path(c.cluster)).WithCode(engine.ErrCodeSnapshotRemoved)
		case <-c.clock.After(c.interval):
		}
	}
}
