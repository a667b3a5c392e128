// Package awsclienttest provides a function-backed fake of the provider API
// for tests.
package awsclienttest

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
)

// Fake implements every awsclient interface. Each method delegates to the
// matching function field and fails when that field is nil.
type Fake struct {
	CreateClusterFunc              func(context.Context, *ecs.CreateClusterInput) (*ecs.CreateClusterOutput, error)
	DescribeClustersFunc           func(context.Context, *ecs.DescribeClustersInput) (*ecs.DescribeClustersOutput, error)
	ListServicesFunc               func(context.Context, *ecs.ListServicesInput) (*ecs.ListServicesOutput, error)
	DescribeServicesFunc           func(context.Context, *ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error)
	ListContainerInstancesFunc     func(context.Context, *ecs.ListContainerInstancesInput) (*ecs.ListContainerInstancesOutput, error)
	DescribeContainerInstancesFunc func(context.Context, *ecs.DescribeContainerInstancesInput) (*ecs.DescribeContainerInstancesOutput, error)
	DescribeAutoScalingGroupsFunc  func(context.Context, *autoscaling.DescribeAutoScalingGroupsInput) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetInstanceHealthFunc          func(context.Context, *autoscaling.SetInstanceHealthInput) (*autoscaling.SetInstanceHealthOutput, error)
	DescribeInstancesFunc          func(context.Context, *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error)
	DescribeTargetHealthFunc       func(context.Context, *elasticloadbalancingv2.DescribeTargetHealthInput) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error)
	DescribeInstanceHealthFunc     func(context.Context, *elasticloadbalancing.DescribeInstanceHealthInput) (*elasticloadbalancing.DescribeInstanceHealthOutput, error)
}

func unexpected(op string) error {
	return fmt.Errorf("awsclienttest: unexpected call to %s", op)
}

func (f *Fake) CreateCluster(ctx context.Context, in *ecs.CreateClusterInput, _ ...func(*ecs.Options)) (*ecs.CreateClusterOutput, error) {
	if f.CreateClusterFunc == nil {
		return nil, unexpected("CreateCluster")
	}
	return f.CreateClusterFunc(ctx, in)
}

func (f *Fake) DescribeClusters(ctx context.Context, in *ecs.DescribeClustersInput, _ ...func(*ecs.Options)) (*ecs.DescribeClustersOutput, error) {
	if f.DescribeClustersFunc == nil {
		return nil, unexpected("DescribeClusters")
	}
	return f.DescribeClustersFunc(ctx, in)
}

func (f *Fake) ListServices(ctx context.Context, in *ecs.ListServicesInput, _ ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
	if f.ListServicesFunc == nil {
		return nil, unexpected("ListServices")
	}
	return f.ListServicesFunc(ctx, in)
}

func (f *Fake) DescribeServices(ctx context.Context, in *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	if f.DescribeServicesFunc == nil {
		return nil, unexpected("DescribeServices")
	}
	return f.DescribeServicesFunc(ctx, in)
}

func (f *Fake) ListContainerInstances(ctx context.Context, in *ecs.ListContainerInstancesInput, _ ...func(*ecs.Options)) (*ecs.ListContainerInstancesOutput, error) {
	if f.ListContainerInstancesFunc == nil {
		return nil, unexpected("ListContainerInstances")
	}
	return f.ListContainerInstancesFunc(ctx, in)
}

func (f *Fake) DescribeContainerInstances(ctx context.Context, in *ecs.DescribeContainerInstancesInput, _ ...func(*ecs.Options)) (*ecs.DescribeContainerInstancesOutput, error) {
	if f.DescribeContainerInstancesFunc == nil {
		return nil, unexpected("DescribeContainerInstances")
	}
	return f.DescribeContainerInstancesFunc(ctx, in)
}

func (f *Fake) DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	if f.DescribeAutoScalingGroupsFunc == nil {
		return nil, unexpected("DescribeAutoScalingGroups")
	}
	return f.DescribeAutoScalingGroupsFunc(ctx, in)
}

func (f *Fake) SetInstanceHealth(ctx context.Context, in *autoscaling.SetInstanceHealthInput, _ ...func(*autoscaling.Options)) (*autoscaling.SetInstanceHealthOutput, error) {
	if f.SetInstanceHealthFunc == nil {
		return nil, unexpected("SetInstanceHealth")
	}
	return f.SetInstanceHealthFunc(ctx, in)
}

func (f *Fake) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.DescribeInstancesFunc == nil {
		return nil, unexpected("DescribeInstances")
	}
	return f.DescribeInstancesFunc(ctx, in)
}

func (f *Fake) DescribeTargetHealth(ctx context.Context, in *elasticloadbalancingv2.DescribeTargetHealthInput, _ ...func(*elasticloadbalancingv2.Options)) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error) {
	if f.DescribeTargetHealthFunc == nil {
		return nil, unexpected("DescribeTargetHealth")
	}
	return f.DescribeTargetHealthFunc(ctx, in)
}

func (f *Fake) DescribeInstanceHealth(ctx context.Context, in *elasticloadbalancing.DescribeInstanceHealthInput, _ ...func(*elasticloadbalancing.Options)) (*elasticloadbalancing.DescribeInstanceHealthOutput, error) {
	if f.DescribeInstanceHealthFunc == nil {
		return nil, unexpected("DescribeInstanceHealth")
	}
	return f.DescribeInstanceHealthFunc(ctx, in)
}
