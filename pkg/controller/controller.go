// Package controller drives rolling upgrades of an ECS cluster.
//
// A Controller implements the cloud-side actions the workflow needs
// (health, replacement, instance status), inventories the nodes of a new
// campaign and runs the step loop until the campaign is complete.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/cloudcompose/ecsroll/pkg/awsclient"
	"github.com/cloudcompose/ecsroll/pkg/engine"
	"github.com/cloudcompose/ecsroll/pkg/health"
	"github.com/cloudcompose/ecsroll/pkg/stores"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
	"github.com/cloudcompose/ecsroll/pkg/workflow"
)

// DefaultInterval is the pause between steps in continuous mode.
const DefaultInterval = 10 * time.Second

// Controller operates on one cluster.
type Controller struct {
	cluster   string
	api       awsclient.API
	evaluator *health.Evaluator
	store     *stores.FileStore

	interval time.Duration
	verbose  bool
	clock    clock.Clock
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
}

var _ workflow.Controller = (*Controller)(nil)

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the pause between steps.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithVerbose enables health diagnostics during upgrades.
func WithVerbose(verbose bool) Option {
	return func(c *Controller) { c.verbose = verbose }
}

// WithClock replaces the wall clock used between steps.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithLogger sets the controller logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithMetrics records health and workflow metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithEvents publishes campaign events.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(c *Controller) { c.events = ep }
}

// New returns a controller for cluster. The Auto Scaling group backing the
// cluster must share its name.
func New(cluster string, api awsclient.API, store *stores.FileStore, opts ...Option) *Controller {
	c := &Controller{
		cluster:  cluster,
		api:      api,
		store:    store,
		interval: DefaultInterval,
		clock:    clock.WallClock,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "controller").Str("cluster", cluster).Logger()
	c.evaluator = health.NewEvaluator(cluster, api,
		health.WithLogger(c.logger),
		health.WithMetrics(c.metrics),
	)
	return c
}

// Cluster returns the cluster name.
func (c *Controller) Cluster() string {
	return c.cluster
}

// EvaluateHealth reports whether the cluster is safe to disturb.
func (c *Controller) EvaluateHealth(ctx context.Context, verbose bool) (bool, error) {
	healthy, _, err := c.evaluator.Evaluate(ctx, verbose)
	return healthy, err
}

// Health evaluates the cluster and returns the full report.
func (c *Controller) Health(ctx context.Context, verbose bool) (*health.Report, error) {
	_, report, err := c.evaluator.Evaluate(ctx, verbose)
	return report, err
}

// ReplaceInstance marks the instance unhealthy in its Auto Scaling group,
// which terminates and replaces it.
func (c *Controller) ReplaceInstance(ctx context.Context, instanceID string) error {
	_, err := c.api.SetInstanceHealth(ctx, &autoscaling.SetInstanceHealthInput{
		InstanceId:   aws.String(instanceID),
		HealthStatus: aws.String("Unhealthy"),
	})
	if err != nil {
		return fmt.Errorf("failed to mark %s unhealthy: %w", instanceID, err)
	}

	c.logger.Info().Str("instance_id", instanceID).Msg("Requested instance replacement")
	if err := c.events.Publish(telemetry.Event{
		Type:       telemetry.EventTypeReplaceRequested,
		Source:     "controller",
		Cluster:    c.cluster,
		InstanceID: instanceID,
		Message:    "Instance marked unhealthy",
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish event")
	}
	return nil
}

// InstanceStatus returns the lifecycle state of an EC2 instance, such as
// "running" or "terminated".
func (c *Controller) InstanceStatus(ctx context.Context, instanceID string) (string, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("instance-id"),
			Values: []string{instanceID},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe %s: %w", instanceID, err)
	}
	// Terminated instances stop being listed about an hour after shutdown.
	if len(out.Reservations) == 0 {
		return workflow.LifecycleTerminated, nil
	}
	if len(out.Reservations) != 1 || len(out.Reservations[0].Instances) == 0 {
		return "", engine.NewConfigurationError(
			fmt.Sprintf("expected one instance for %s and got %d", instanceID, len(out.Reservations)), nil,
		).WithResource(instanceID).WithCode(engine.ErrCodeInstanceNotUnique)
	}

	state := out.Reservations[0].Instances[0].State
	if state == nil {
		return "", nil
	}
	return string(state.Name), nil
}

// Servers inventories the running instances registered with the cluster,
// in the order a new campaign replaces them.
func (c *Controller) Servers(ctx context.Context) ([]workflow.Node, error) {
	instances, err := health.ContainerInstances(ctx, c.api, c.cluster)
	if err != nil {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("container instances of %s could not be listed", c.cluster), err,
		).WithResource(c.cluster).WithCode(engine.ErrCodeInstancesUnavailable)
	}

	var ids []string
	for _, ci := range instances {
		if id := aws.ToString(ci.Ec2InstanceId); id != "" {
			ids = append(ids, id)
		}
	}
	// An empty id list would describe every instance in the account.
	if len(ids) == 0 {
		return nil, nil
	}

	var nodes []workflow.Node
	var token *string
	for {
		out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: ids,
			Filters: []ec2types.Filter{{
				Name:   aws.String("instance-state-name"),
				Values: []string{string(ec2types.InstanceStateNameRunning)},
			}},
			NextToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances of %s: %w", c.cluster, err)
		}
		for _, r := range out.Reservations {
			for _, inst := range r.Instances {
				nodes = append(nodes, workflow.Node{
					PrivateAddress: aws.ToString(inst.PrivateIpAddress),
					InstanceID:     aws.ToString(inst.InstanceId),
					InstanceName:   c.instanceName(inst),
					ClusterName:    c.cluster,
				})
			}
		}
		token = out.NextToken
		if token == nil {
			break
		}
	}
	return nodes, nil
}

func (c *Controller) instanceName(inst ec2types.Instance) string {
	for _, tag := range inst.Tags {
		if aws.ToString(tag.Key) == "Name" && aws.ToString(tag.Value) != "" {
			return aws.ToString(tag.Value)
		}
	}
	return c.cluster
}

// CreateCluster creates the ECS cluster and returns its status.
func (c *Controller) CreateCluster(ctx context.Context) (string, error) {
	out, err := c.api.CreateCluster(ctx, &ecs.CreateClusterInput{
		ClusterName: aws.String(c.cluster),
	})
	if err != nil {
		return "", fmt.Errorf("ECS cluster %s does not exist and could not be created: %w", c.cluster, err)
	}
	if out.Cluster == nil {
		return "", fmt.Errorf("ECS cluster %s was not returned after creation", c.cluster)
	}

	status := aws.ToString(out.Cluster.Status)
	c.logger.Info().
		Str("arn", aws.ToString(out.Cluster.ClusterArn)).
		Str("status", status).
		Msg("Created ECS cluster")
	return status, nil
}

// Status returns the saved campaign, or nil when none is in progress.
func (c *Controller) Status(ctx context.Context) (*stores.Snapshot, error) {
	return c.store.Load(ctx, c.cluster)
}

func (c *Controller) workflowOptions() []workflow.Option {
	return []workflow.Option{
		workflow.WithVerbose(c.verbose),
		workflow.WithLogger(c.logger),
		workflow.WithMetrics(c.metrics),
		workflow.WithEvents(c.events),
	}
}
