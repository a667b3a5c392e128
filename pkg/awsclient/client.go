package awsclient

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	jujuerrors "github.com/juju/errors"
	"github.com/rs/zerolog"

	"github.com/cloudcompose/ecsroll/pkg/config"
	"github.com/cloudcompose/ecsroll/pkg/engine"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
)

// Client wraps the provider SDK clients so that every call runs under one
// retry Policy and is measured and traced.
type Client struct {
	ecs   ECSAPI
	asg   AutoScalingAPI
	ec2   EC2API
	elb   ELBAPI
	elbv2 ELBV2API

	policy  Policy
	metrics *telemetry.Metrics
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy replaces the default retry policy.
func WithPolicy(p Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithMetrics records provider calls, errors and retries.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a Client on top of already constructed SDK clients.
func NewClient(ecsAPI ECSAPI, asgAPI AutoScalingAPI, ec2API EC2API, elbAPI ELBAPI, elbv2API ELBV2API, opts ...Option) *Client {
	c := &Client{
		ecs:    ecsAPI,
		asg:    asgAPI,
		ec2:    ec2API,
		elb:    elbAPI,
		elbv2:  elbv2API,
		policy: DefaultPolicy(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	notify := c.policy.Notify
	c.policy.Notify = func(op string, err error, attempt int) {
		c.metrics.RecordProviderRetry(op)
		c.logger.Debug().Err(err).Str("operation", op).Int("attempt", attempt).Msg("Retrying provider call")
		if notify != nil {
			notify(op, err, attempt)
		}
	}
	return c
}

// New loads SDK configuration for the region and credentials in cfg and
// returns a Client for it. The SDK's own retryer is disabled so the Policy
// is the only retry layer.
func New(ctx context.Context, cfg config.AWSConfig, opts ...Option) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, jujuerrors.Annotatef(err, "loading AWS configuration for region %q", cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return NewClient(
		ecs.NewFromConfig(awsCfg),
		autoscaling.NewFromConfig(awsCfg),
		ec2.NewFromConfig(awsCfg),
		elasticloadbalancing.NewFromConfig(awsCfg),
		elasticloadbalancingv2.NewFromConfig(awsCfg),
		opts...,
	), nil
}

// Policy returns the retry policy in effect.
func (c *Client) Policy() Policy {
	return c.policy
}

func (c *Client) invoke(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "provider."+op, telemetry.AttrOperation.String(op))
	timer := telemetry.NewTimer()

	err := c.policy.Do(ctx, op, fn)

	c.metrics.RecordProviderCall(op, timer.Duration())
	if err != nil {
		c.metrics.RecordProviderError(op, errorClass(err))
	}
	telemetry.EndSpan(span, err)
	return err
}

func errorClass(err error) string {
	var e *engine.EngineError
	if errors.As(err, &e) {
		return string(e.Class)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "unknown"
}

// CreateCluster creates an ECS cluster.
func (c *Client) CreateCluster(ctx context.Context, params *ecs.CreateClusterInput, optFns ...func(*ecs.Options)) (*ecs.CreateClusterOutput, error) {
	var out *ecs.CreateClusterOutput
	err := c.invoke(ctx, "CreateCluster", func(ctx context.Context) error {
		var err error
		out, err = c.ecs.CreateCluster(ctx, params, optFns...)
		return err
	})
	return out, err
}

// DescribeClusters describes ECS clusters.
func (c *Client) DescribeClusters(ctx context.Context, params *ecs.DescribeClustersInput, optFns ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error) {
	var out *ecs.DescribeClustersOutput
	err := c.invoke(ctx, "DescribeClusters", func(ctx context.Context) error {
		var err error
		out, err = c.ecs.DescribeClusters(ctx, params, optFns...)
		return err
	})
	return out, err
}

// ListServices lists one page of service ARNs.
func (c *Client) ListServices(ctx context.Context, params *ecs.ListServicesInput, optFns ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
	var out *ecs.ListServicesOutput
	err := c.invoke(ctx, "ListServices", func(ctx context.Context) error {
		var err error
		out, err = c.ecs.ListServices(ctx, params, optFns...)
		return err
	})
	return out, err
}

// DescribeServices describes up to ten services.
func (c *Client) DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	var out *ecs.DescribeServicesOutput
	err := c.invoke(ctx, "DescribeServices", func(ctx context.Context) error {
		var err error
		out, err = c.ecs.DescribeServices(ctx, params, optFns...)
		return err
	})
	return out, err
}

// ListContainerInstances lists one page of container instance ARNs.
func (c *Client) ListContainerInstances(ctx context.Context, params *ecs.ListContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.ListContainerInstancesOutput, error) {
	var out *ecs.ListContainerInstancesOutput
	err := c.invoke(ctx, "ListContainerInstances", func(ctx context.Context) error {
		var err error
		out, err = c.ecs.ListContainerInstances(ctx, params, optFns...)
		return err
	})
	return out, err
}

// DescribeContainerInstances describes up to one hundred container instances.
func (c *Client) DescribeContainerInstances(ctx context.Context, params *ecs.DescribeContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeContainerInstancesOutput, error) {
	var out *ecs.DescribeContainerInstancesOutput
	err := c.invoke(ctx, "DescribeContainerInstances", func(ctx context.Context) error {
		var err error
		out, err = c.ecs.DescribeContainerInstances(ctx, params, optFns...)
		return err
	})
	return out, err
}

// DescribeAutoScalingGroups describes auto scaling groups.
func (c *Client) DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	var out *autoscaling.DescribeAutoScalingGroupsOutput
	err := c.invoke(ctx, "DescribeAutoScalingGroups", func(ctx context.Context) error {
		var err error
		out, err = c.asg.DescribeAutoScalingGroups(ctx, params, optFns...)
		return err
	})
	return out, err
}

// SetInstanceHealth sets the health status reported for an instance.
func (c *Client) SetInstanceHealth(ctx context.Context, params *autoscaling.SetInstanceHealthInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetInstanceHealthOutput, error) {
	var out *autoscaling.SetInstanceHealthOutput
	err := c.invoke(ctx, "SetInstanceHealth", func(ctx context.Context) error {
		var err error
		out, err = c.asg.SetInstanceHealth(ctx, params, optFns...)
		return err
	})
	return out, err
}

// DescribeInstances describes EC2 instances.
func (c *Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	var out *ec2.DescribeInstancesOutput
	err := c.invoke(ctx, "DescribeInstances", func(ctx context.Context) error {
		var err error
		out, err = c.ec2.DescribeInstances(ctx, params, optFns...)
		return err
	})
	return out, err
}

// DescribeTargetHealth describes the health of a target group's targets.
func (c *Client) DescribeTargetHealth(ctx context.Context, params *elasticloadbalancingv2.DescribeTargetHealthInput, optFns ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error) {
	var out *elasticloadbalancingv2.DescribeTargetHealthOutput
	err := c.invoke(ctx, "DescribeTargetHealth", func(ctx context.Context) error {
		var err error
		out, err = c.elbv2.DescribeTargetHealth(ctx, params, optFns...)
		return err
	})
	return out, err
}

// DescribeInstanceHealth describes the health of a classic load balancer's instances.
func (c *Client) DescribeInstanceHealth(ctx context.Context, params *elasticloadbalancing.DescribeInstanceHealthInput, optFns ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeInstanceHealthOutput, error) {
	var out *elasticloadbalancing.DescribeInstanceHealthOutput
	err := c.invoke(ctx, "DescribeInstanceHealth", func(ctx context.Context) error {
		var err error
		out, err = c.elb.DescribeInstanceHealth(ctx, params, optFns...)
		return err
	})
	return out, err
}
