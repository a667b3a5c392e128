// Package workflow implements the rolling-upgrade state machine.
//
// A Workflow replaces the nodes of one cluster in a fixed order, one at a
// time. Each call to Step advances the node under the cursor by at most one
// state, and only while the cluster is healthy. The workflow is persisted
// after every change so an interrupted campaign can be resumed.
package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudcompose/ecsroll/pkg/engine"
	"github.com/cloudcompose/ecsroll/pkg/stores"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
)

// LifecycleTerminated is the instance lifecycle state reported once the
// provider has finished terminating an instance.
const LifecycleTerminated = "terminated"

// Controller performs the cloud-side actions of a campaign.
type Controller interface {
	// EvaluateHealth reports whether the cluster is safe to disturb.
	// An unhealthy cluster is not an error.
	EvaluateHealth(ctx context.Context, verbose bool) (bool, error)

	// ReplaceInstance asks the provider to terminate and replace an instance.
	ReplaceInstance(ctx context.Context, instanceID string) error

	// InstanceStatus returns the lifecycle state of an instance.
	InstanceStatus(ctx context.Context, instanceID string) (string, error)
}

// Workflow is one campaign over the nodes of a cluster. It is not safe for
// concurrent use.
type Workflow struct {
	cluster    string
	campaignID string
	nodes      []*Node
	cursor     int

	store   stores.WorkflowStore
	ctrl    Controller
	verbose bool
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithVerbose makes every health evaluation produce diagnostics.
func WithVerbose(verbose bool) Option {
	return func(w *Workflow) { w.verbose = verbose }
}

// WithLogger sets the workflow logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithMetrics records transitions and progress.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithEvents publishes campaign and node events.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(w *Workflow) { w.events = ep }
}

func newWorkflow(cluster, campaignID string, store stores.WorkflowStore, ctrl Controller, opts []Option) *Workflow {
	w := &Workflow{
		cluster:    cluster,
		campaignID: campaignID,
		store:      store,
		ctrl:       ctrl,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().
		Str("component", "workflow").
		Str("cluster", cluster).
		Str("campaign_id", campaignID).
		Logger()
	return w
}

// New starts a campaign over nodes, replaced in the given order. Every node
// must be in StateInitial and instance IDs must be unique.
func New(cluster string, nodes []Node, store stores.WorkflowStore, ctrl Controller, opts ...Option) (*Workflow, error) {
	w := newWorkflow(cluster, uuid.New().String(), store, ctrl, opts)

	for _, n := range nodes {
		if n.State != StateInitial || n.Completed {
			return nil, fmt.Errorf("node %s must start in state %s, got %s", n.InstanceID, StateInitial, n.State)
		}
		n := n
		n.ClusterName = cluster
		w.nodes = append(w.nodes, &n)
	}
	if err := w.checkUnique(); err != nil {
		return nil, err
	}

	w.metrics.SetWorkflowProgress(cluster, 0, len(w.nodes))
	w.publish(telemetry.EventTypeCampaignStarted, nil, fmt.Sprintf("Starting upgrade of %d container instances", len(w.nodes)), nil)
	return w, nil
}

// Resume rebuilds a campaign from a snapshot. The cursor is placed on the
// first node that is not completed. Snapshots that break the ordering
// invariants are rejected.
func Resume(snapshot *stores.Snapshot, store stores.WorkflowStore, ctrl Controller, opts ...Option) (*Workflow, error) {
	campaignID := snapshot.CampaignID
	if campaignID == "" {
		campaignID = uuid.New().String()
	}
	w := newWorkflow(snapshot.ClusterName, campaignID, store, ctrl, opts)

	for _, r := range snapshot.Nodes {
		n, err := nodeFromRecord(snapshot.ClusterName, r)
		if err != nil {
			return nil, corrupt(snapshot.ClusterName, err)
		}
		w.nodes = append(w.nodes, &n)
	}
	w.cursor = snapshot.Cursor()

	if err := w.checkUnique(); err != nil {
		return nil, corrupt(snapshot.ClusterName, err)
	}
	if err := w.checkInvariants(); err != nil {
		return nil, corrupt(snapshot.ClusterName, err)
	}

	w.metrics.SetWorkflowProgress(w.cluster, w.cursor, len(w.nodes))
	w.publish(telemetry.EventTypeCampaignResumed, w.current(), "Resuming partially completed upgrade", map[string]interface{}{
		"cursor": w.cursor,
	})
	return w, nil
}

func corrupt(cluster string, err error) error {
	return engine.NewConfigurationError("workflow snapshot is inconsistent", err).
		WithResource(cluster).
		WithCode(engine.ErrCodeStateCorrupt)
}

func (w *Workflow) checkUnique() error {
	seen := make(map[string]bool, len(w.nodes))
	for _, n := range w.nodes {
		if n.InstanceID == "" {
			return fmt.Errorf("node %q has no instance id", n.InstanceName)
		}
		if seen[n.InstanceID] {
			return fmt.Errorf("instance %s appears more than once", n.InstanceID)
		}
		seen[n.InstanceID] = true
	}
	return nil
}

// checkInvariants verifies that nodes before the cursor are completed and
// terminated and nodes after it are untouched.
func (w *Workflow) checkInvariants() error {
	for i, n := range w.nodes {
		if err := n.State.Validate(); err != nil {
			return err
		}
		if n.Completed && n.State != StateTerminated {
			return fmt.Errorf("node %s is completed in state %s", n.InstanceID, n.State)
		}
		switch {
		case i < w.cursor && !n.Completed:
			return fmt.Errorf("node %s before the cursor is not completed", n.InstanceID)
		case i > w.cursor && (n.Completed || n.State != StateInitial):
			return fmt.Errorf("node %s after the cursor was already mutated", n.InstanceID)
		}
	}
	return nil
}

// ClusterName returns the cluster being upgraded.
func (w *Workflow) ClusterName() string { return w.cluster }

// CampaignID identifies the campaign across restarts.
func (w *Workflow) CampaignID() string { return w.campaignID }

// Cursor returns the index of the node being processed.
func (w *Workflow) Cursor() int { return w.cursor }

// Done reports whether every node has been replaced.
func (w *Workflow) Done() bool { return w.cursor >= len(w.nodes) }

// Nodes returns a copy of the node list.
func (w *Workflow) Nodes() []Node {
	out := make([]Node, len(w.nodes))
	for i, n := range w.nodes {
		out[i] = *n
	}
	return out
}

// Current returns the node under the cursor.
func (w *Workflow) Current() (Node, bool) {
	if n := w.current(); n != nil {
		return *n, true
	}
	return Node{}, false
}

func (w *Workflow) current() *Node {
	if w.Done() {
		return nil
	}
	return w.nodes[w.cursor]
}

// Snapshot returns the persisted form of the workflow.
func (w *Workflow) Snapshot() *stores.Snapshot {
	snap := &stores.Snapshot{
		ClusterName: w.cluster,
		CampaignID:  w.campaignID,
		Nodes:       make([]stores.NodeRecord, len(w.nodes)),
	}
	for i, n := range w.nodes {
		snap.Nodes[i] = n.record()
	}
	return snap
}

// change describes a mutation of the node under the cursor.
type change struct {
	from      NodeState
	to        NodeState
	completed bool
}

// Step advances the campaign by at most one state of the current node. It
// returns false once every node has been replaced; the snapshot is then
// deleted. An unhealthy cluster is not an error: the node stays where it is
// and Step returns true. Errors leave the persisted state untouched.
func (w *Workflow) Step(ctx context.Context) (more bool, err error) {
	node := w.current()
	if node == nil {
		// A resumed snapshot can already be complete.
		if err := w.store.Delete(ctx, w.cluster); err != nil {
			return false, fmt.Errorf("failed to delete workflow for %s: %w", w.cluster, err)
		}
		return false, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "workflow.step",
		telemetry.AttrCluster.String(w.cluster),
		telemetry.AttrCampaignID.String(w.campaignID),
		telemetry.AttrInstanceID.String(node.InstanceID),
		telemetry.AttrNodeState.String(node.State.String()),
		telemetry.AttrCursor.Int(w.cursor),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	w.logger.Info().Str("node", node.String()).Int("cursor", w.cursor).Msg("Processing node")

	timer := telemetry.NewTimer()
	c, err := w.advance(ctx, node)
	w.metrics.RecordStep(w.cluster, node.State.String(), timer.Duration())
	if err != nil {
		return false, err
	}

	if c != nil {
		if err := w.store.Save(ctx, w.Snapshot()); err != nil {
			return false, fmt.Errorf("failed to persist workflow for %s: %w", w.cluster, err)
		}
		w.record(node, *c)
	}

	if w.Done() {
		if err := w.store.Delete(ctx, w.cluster); err != nil {
			return false, fmt.Errorf("failed to delete workflow for %s: %w", w.cluster, err)
		}
		w.metrics.RecordCampaignCompleted(w.cluster)
		w.publish(telemetry.EventTypeCampaignCompleted, nil, "Upgrade complete", map[string]interface{}{
			"nodes": len(w.nodes),
		})
		return false, nil
	}
	return true, nil
}

// advance applies the transition function to node. It returns nil when
// nothing changed.
func (w *Workflow) advance(ctx context.Context, node *Node) (*change, error) {
	switch node.State {
	case StateInitial:
		healthy, err := w.ctrl.EvaluateHealth(ctx, w.verbose)
		if err != nil {
			return nil, err
		}
		if !healthy {
			w.logger.Info().Str("instance_id", node.InstanceID).Msg("Cluster is unhealthy, waiting before replacing node")
			return nil, nil
		}
		if err := w.ctrl.ReplaceInstance(ctx, node.InstanceID); err != nil {
			return nil, err
		}
		return w.transition(node, StateShuttingDown), nil

	case StateShuttingDown:
		status, err := w.ctrl.InstanceStatus(ctx, node.InstanceID)
		if err != nil {
			return nil, err
		}
		healthy, err := w.ctrl.EvaluateHealth(ctx, w.verbose)
		if err != nil {
			return nil, err
		}
		if status != LifecycleTerminated || !healthy {
			w.logger.Info().
				Str("instance_id", node.InstanceID).
				Str("instance_state", status).
				Bool("healthy", healthy).
				Msg("Waiting for node to be replaced")
			return nil, nil
		}
		return w.transition(node, StateTerminated), nil

	case StateTerminated:
		healthy, err := w.ctrl.EvaluateHealth(ctx, w.verbose)
		if err != nil {
			return nil, err
		}
		if !healthy {
			w.logger.Info().Str("instance_id", node.InstanceID).Msg("Waiting for cluster to settle after replacement")
			return nil, nil
		}
		node.Completed = true
		w.cursor++
		return &change{from: StateTerminated, to: StateTerminated, completed: true}, nil

	default:
		return nil, corrupt(w.cluster, node.State.Validate())
	}
}

func (w *Workflow) transition(node *Node, to NodeState) *change {
	if next, ok := node.State.Next(); !ok || next != to {
		panic(fmt.Sprintf("workflow: illegal transition %s -> %s", node.State, to))
	}
	c := &change{from: node.State, to: to}
	node.State = to
	return c
}

// record reports a persisted change to the logger, metrics and events.
func (w *Workflow) record(node *Node, c change) {
	w.metrics.SetWorkflowProgress(w.cluster, w.cursor, len(w.nodes))

	data := map[string]interface{}{
		"from": c.from.String(),
		"to":   c.to.String(),
	}
	if c.completed {
		w.logger.Info().Str("instance_id", node.InstanceID).Int("cursor", w.cursor).Msg("Node replaced")
		w.publish(telemetry.EventTypeNodeCompleted, node, "Node replaced", data)
		return
	}

	w.metrics.RecordNodeTransition(w.cluster, c.from.String(), c.to.String())
	w.logger.Info().
		Str("instance_id", node.InstanceID).
		Str("from", c.from.String()).
		Str("to", c.to.String()).
		Msg("Node state changed")
	w.publish(telemetry.EventTypeNodeStateChanged, node, "Node state changed", data)
}

func (w *Workflow) publish(eventType string, node *Node, msg string, data map[string]interface{}) {
	event := telemetry.Event{
		Type:       eventType,
		Source:     "workflow",
		Cluster:    w.cluster,
		CampaignID: w.campaignID,
		Message:    msg,
		Data:       data,
	}
	if node != nil {
		event.InstanceID = node.InstanceID
	}
	if err := w.events.Publish(event); err != nil {
		w.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}
