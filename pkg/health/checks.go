package health

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/cloudcompose/ecsroll/pkg/engine"
)

const (
	statusActive    = "ACTIVE"
	stateInService  = "InService"
	describeSvcMax  = 10
	describeInstMax = 100
)

func (e *Evaluator) checkCluster(ctx context.Context, report *Report) (bool, error) {
	out, err := e.provider.DescribeClusters(ctx, &ecs.DescribeClustersInput{
		Clusters: []string{e.cluster},
	})
	if err != nil {
		return false, fmt.Errorf("describing cluster %s: %w", e.cluster, err)
	}
	if len(out.Clusters) == 0 {
		return false, engine.NewConfigurationError(
			fmt.Sprintf("cluster %s could not be found", e.cluster), nil,
		).WithResource(e.cluster).WithCode(engine.ErrCodeClusterNotFound)
	}

	ok := true
	for _, c := range out.Clusters {
		name := aws.ToString(c.ClusterName)
		if status := aws.ToString(c.Status); status != statusActive {
			ok = false
			e.fail(report, Finding{Check: CheckCluster, Resource: name, Status: status, Detail: "cluster is not active"})
		}
		if c.PendingTasksCount > 0 {
			ok = false
			e.fail(report, Finding{
				Check:    CheckCluster,
				Resource: name,
				Status:   aws.ToString(c.Status),
				Detail:   fmt.Sprintf("%d tasks are pending", c.PendingTasksCount),
			})
		}
	}
	return ok, nil
}

func (e *Evaluator) checkInstances(ctx context.Context, report *Report) (bool, error) {
	instances, err := ContainerInstances(ctx, e.provider, e.cluster)
	if err != nil {
		return false, engine.NewConfigurationError(
			fmt.Sprintf("container instances of %s could not be listed", e.cluster), err,
		).WithResource(e.cluster).WithCode(engine.ErrCodeInstancesUnavailable)
	}

	desired, err := e.desiredCapacity(ctx)
	if err != nil {
		return false, err
	}

	ok := true
	if len(instances) != desired {
		ok = false
		e.fail(report, Finding{
			Check:    CheckInstances,
			Resource: e.cluster,
			Detail:   fmt.Sprintf("%d container instances registered, %d desired", len(instances), desired),
		})
	}
	for _, ci := range instances {
		if status := aws.ToString(ci.Status); status != statusActive {
			ok = false
			e.fail(report, Finding{
				Check:    CheckInstances,
				Resource: instanceName(ci),
				Status:   status,
				Detail:   "container instance is not active",
			})
		}
	}
	return ok, nil
}

func (e *Evaluator) desiredCapacity(ctx context.Context) (int, error) {
	out, err := e.provider.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{e.cluster},
	})
	if err != nil {
		return 0, fmt.Errorf("describing auto scaling group %s: %w", e.cluster, err)
	}
	if len(out.AutoScalingGroups) != 1 {
		return 0, engine.NewConfigurationError(
			fmt.Sprintf("ASG %s is not unique, found %d groups", e.cluster, len(out.AutoScalingGroups)), nil,
		).WithResource(e.cluster).WithCode(engine.ErrCodeGroupNotUnique)
	}
	return int(aws.ToInt32(out.AutoScalingGroups[0].DesiredCapacity)), nil
}

func instanceName(ci ecstypes.ContainerInstance) string {
	if id := aws.ToString(ci.Ec2InstanceId); id != "" {
		return id
	}
	return aws.ToString(ci.ContainerInstanceArn)
}

// ContainerInstances lists and describes every container instance registered
// with cluster, following continuation tokens.
func ContainerInstances(ctx context.Context, api ContainerInstanceAPI, cluster string) ([]ecstypes.ContainerInstance, error) {
	var arns []string
	var token *string
	for {
		page, err := api.ListContainerInstances(ctx, &ecs.ListContainerInstancesInput{
			Cluster:   aws.String(cluster),
			NextToken: token,
		})
		if err != nil {
			return nil, err
		}
		arns = append(arns, page.ContainerInstanceArns...)
		token = page.NextToken
		if token == nil {
			break
		}
	}

	var instances []ecstypes.ContainerInstance
	for _, batch := range chunk(arns, describeInstMax) {
		out, err := api.DescribeContainerInstances(ctx, &ecs.DescribeContainerInstancesInput{
			Cluster:            aws.String(cluster),
			ContainerInstances: batch,
		})
		if err != nil {
			return nil, err
		}
		instances = append(instances, out.ContainerInstances...)
	}
	return instances, nil
}

// ContainerInstanceAPI lists and describes container instances.
type ContainerInstanceAPI interface {
	ListContainerInstances(ctx context.Context, params *ecs.ListContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.ListContainerInstancesOutput, error)
	DescribeContainerInstances(ctx context.Context, params *ecs.DescribeContainerInstancesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeContainerInstancesOutput, error)
}

func (e *Evaluator) describeServices(ctx context.Context) ([]ecstypes.Service, error) {
	services, err := e.listAndDescribeServices(ctx)
	if err != nil {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("services of %s could not be listed", e.cluster), err,
		).WithResource(e.cluster).WithCode(engine.ErrCodeServicesUnavailable)
	}
	return services, nil
}

func (e *Evaluator) listAndDescribeServices(ctx context.Context) ([]ecstypes.Service, error) {
	var arns []string
	var token *string
	for {
		page, err := e.provider.ListServices(ctx, &ecs.ListServicesInput{
			Cluster:   aws.String(e.cluster),
			NextToken: token,
		})
		if err != nil {
			return nil, err
		}
		arns = append(arns, page.ServiceArns...)
		token = page.NextToken
		if token == nil {
			break
		}
	}

	var services []ecstypes.Service
	for _, batch := range chunk(arns, describeSvcMax) {
		out, err := e.provider.DescribeServices(ctx, &ecs.DescribeServicesInput{
			Cluster:  aws.String(e.cluster),
			Services: batch,
		})
		if err != nil {
			return nil, err
		}
		services = append(services, out.Services...)
	}
	return services, nil
}

// checkServices passes trivially when the cluster runs no services.
func (e *Evaluator) checkServices(services []ecstypes.Service, report *Report) bool {
	ok := true
	for _, svc := range services {
		if status := aws.ToString(svc.Status); status != statusActive {
			ok = false
			e.fail(report, Finding{
				Check:    CheckServices,
				Resource: aws.ToString(svc.ServiceName),
				Status:   status,
				Detail:   "service is not active",
			})
		}
	}
	return ok
}

func (e *Evaluator) checkLoadBalancers(ctx context.Context, services []ecstypes.Service, report *Report) (bool, error) {
	targetGroups, classic := balancers(services)
	ok := true

	for _, arn := range targetGroups {
		out, err := e.provider.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
			TargetGroupArn: aws.String(arn),
		})
		if err != nil {
			return false, fmt.Errorf("describing target health of %s: %w", arn, err)
		}
		for _, d := range out.TargetHealthDescriptions {
			state := targetState(d)
			if state == elbv2types.TargetHealthStateEnumHealthy {
				continue
			}
			ok = false
			target := ""
			if d.Target != nil {
				target = aws.ToString(d.Target.Id)
			}
			e.fail(report, Finding{
				Check:    CheckLoadBalancers,
				Resource: fmt.Sprintf("%s/%s", arn, target),
				Status:   string(state),
				Detail:   "target is not healthy",
			})
		}
	}

	for _, name := range classic {
		out, err := e.provider.DescribeInstanceHealth(ctx, &elasticloadbalancing.DescribeInstanceHealthInput{
			LoadBalancerName: aws.String(name),
		})
		if err != nil {
			return false, fmt.Errorf("describing instance health of %s: %w", name, err)
		}
		for _, s := range out.InstanceStates {
			state := aws.ToString(s.State)
			if state == stateInService {
				continue
			}
			ok = false
			e.fail(report, Finding{
				Check:    CheckLoadBalancers,
				Resource: fmt.Sprintf("%s/%s", name, aws.ToString(s.InstanceId)),
				Status:   state,
				Detail:   "instance is not in service",
			})
		}
	}
	return ok, nil
}

func targetState(d elbv2types.TargetHealthDescription) elbv2types.TargetHealthStateEnum {
	if d.TargetHealth == nil {
		return ""
	}
	return d.TargetHealth.State
}

// balancers returns the distinct target groups and classic balancers
// referenced by services, in first-seen order.
func balancers(services []ecstypes.Service) (targetGroups, classic []string) {
	seen := make(map[string]bool)
	for _, svc := range services {
		for _, lb := range svc.LoadBalancers {
			if arn := aws.ToString(lb.TargetGroupArn); arn != "" && !seen[arn] {
				seen[arn] = true
				targetGroups = append(targetGroups, arn)
			}
			if name := aws.ToString(lb.LoadBalancerName); name != "" && !seen[name] {
				seen[name] = true
				classic = append(classic, name)
			}
		}
	}
	return targetGroups, classic
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for len(items) > size {
		out = append(out, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
