package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/rs/zerolog"

	"github.com/cloudcompose/ecsroll/pkg/awsclient/awsclienttest"
	"github.com/cloudcompose/ecsroll/pkg/engine"
)

// cluster is an in-memory ECS cluster served through the fake provider.
type cluster struct {
	name          string
	status        string
	pending       int32
	instances     []ecstypes.ContainerInstance
	desired       int32
	groups        int
	services      []ecstypes.Service
	servicesPage  int
	targets       map[string][]elbv2types.TargetHealthDescription
	classic       map[string][]elbtypes.InstanceState
	missing       bool
	listInstErr   error
	listSvcErr    error
	describeCalls [][]string
	targetCalls   []string
}

func healthyCluster(n int) *cluster {
	c := &cluster{
		name:    "web",
		status:  "ACTIVE",
		desired: int32(n),
		groups:  1,
		targets: map[string][]elbv2types.TargetHealthDescription{},
		classic: map[string][]elbtypes.InstanceState{},
	}
	for i := 0; i < n; i++ {
		c.instances = append(c.instances, ecstypes.ContainerInstance{
			ContainerInstanceArn: aws.String(fmt.Sprintf("arn:ci/%d", i)),
			Ec2InstanceId:        aws.String(fmt.Sprintf("i-%d", i)),
			Status:               aws.String("ACTIVE"),
		})
	}
	return c
}

func (c *cluster) addService(name string, lbs ...ecstypes.LoadBalancer) {
	c.services = append(c.services, ecstypes.Service{
		ServiceArn:    aws.String("arn:svc/" + name),
		ServiceName:   aws.String(name),
		Status:        aws.String("ACTIVE"),
		LoadBalancers: lbs,
	})
}

func (c *cluster) fake() *awsclienttest.Fake {
	return &awsclienttest.Fake{
		DescribeClustersFunc: func(_ context.Context, in *ecs.DescribeClustersInput) (*ecs.DescribeClustersOutput, error) {
			if c.missing {
				return &ecs.DescribeClustersOutput{
					Failures: []ecstypes.Failure{{Arn: aws.String(in.Clusters[0]), Reason: aws.String("MISSING")}},
				}, nil
			}
			return &ecs.DescribeClustersOutput{Clusters: []ecstypes.Cluster{{
				ClusterName:       aws.String(c.name),
				Status:            aws.String(c.status),
				PendingTasksCount: c.pending,
			}}}, nil
		},
		ListContainerInstancesFunc: func(context.Context, *ecs.ListContainerInstancesInput) (*ecs.ListContainerInstancesOutput, error) {
			if c.listInstErr != nil {
				return nil, c.listInstErr
			}
			out := &ecs.ListContainerInstancesOutput{}
			for _, ci := range c.instances {
				out.ContainerInstanceArns = append(out.ContainerInstanceArns, aws.ToString(ci.ContainerInstanceArn))
			}
			return out, nil
		},
		DescribeContainerInstancesFunc: func(_ context.Context, in *ecs.DescribeContainerInstancesInput) (*ecs.DescribeContainerInstancesOutput, error) {
			out := &ecs.DescribeContainerInstancesOutput{}
			for _, arn := range in.ContainerInstances {
				for _, ci := range c.instances {
					if aws.ToString(ci.ContainerInstanceArn) == arn {
						out.ContainerInstances = append(out.ContainerInstances, ci)
					}
				}
			}
			return out, nil
		},
		DescribeAutoScalingGroupsFunc: func(context.Context, *autoscaling.DescribeAutoScalingGroupsInput) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
			out := &autoscaling.DescribeAutoScalingGroupsOutput{}
			for i := 0; i < c.groups; i++ {
				out.AutoScalingGroups = append(out.AutoScalingGroups, asgtypes.AutoScalingGroup{
					AutoScalingGroupName: aws.String(c.name),
					DesiredCapacity:      aws.Int32(c.desired),
				})
			}
			return out, nil
		},
		ListServicesFunc: c.listServices,
		DescribeServicesFunc: func(_ context.Context, in *ecs.DescribeServicesInput) (*ecs.DescribeServicesOutput, error) {
			c.describeCalls = append(c.describeCalls, in.Services)
			if len(in.Services) > 10 {
				return nil, errors.New("too many services in one call")
			}
			out := &ecs.DescribeServicesOutput{}
			for _, arn := range in.Services {
				for _, svc := range c.services {
					if aws.ToString(svc.ServiceArn) == arn {
						out.Services = append(out.Services, svc)
					}
				}
			}
			return out, nil
		},
		DescribeTargetHealthFunc: func(_ context.Context, in *elasticloadbalancingv2.DescribeTargetHealthInput) (*elasticloadbalancingv2.DescribeTargetHealthOutput, error) {
			arn := aws.ToString(in.TargetGroupArn)
			c.targetCalls = append(c.targetCalls, arn)
			return &elasticloadbalancingv2.DescribeTargetHealthOutput{TargetHealthDescriptions: c.targets[arn]}, nil
		},
		DescribeInstanceHealthFunc: func(_ context.Context, in *elasticloadbalancing.DescribeInstanceHealthInput) (*elasticloadbalancing.DescribeInstanceHealthOutput, error) {
			return &elasticloadbalancing.DescribeInstanceHealthOutput{InstanceStates: c.classic[aws.ToString(in.LoadBalancerName)]}, nil
		},
	}
}

// listServices pages through services, servicesPage at a time, using the
// index of the next service as the continuation token.
func (c *cluster) listServices(_ context.Context, in *ecs.ListServicesInput) (*ecs.ListServicesOutput, error) {
	if c.listSvcErr != nil {
		return nil, c.listSvcErr
	}
	size := c.servicesPage
	if size == 0 {
		size = 100
	}
	start := 0
	if in.NextToken != nil {
		start, _ = strconv.Atoi(aws.ToString(in.NextToken))
	}
	end := start + size
	if end > len(c.services) {
		end = len(c.services)
	}
	out := &ecs.ListServicesOutput{}
	for _, svc := range c.services[start:end] {
		out.ServiceArns = append(out.ServiceArns, aws.ToString(svc.ServiceArn))
	}
	if end < len(c.services) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func healthyTarget(id string) elbv2types.TargetHealthDescription {
	return elbv2types.TargetHealthDescription{
		Target:       &elbv2types.TargetDescription{Id: aws.String(id)},
		TargetHealth: &elbv2types.TargetHealth{State: elbv2types.TargetHealthStateEnumHealthy},
	}
}

func evaluate(t *testing.T, c *cluster, verbose bool) (bool, *Report) {
	t.Helper()
	healthy, report, err := NewEvaluator(c.name, c.fake()).Evaluate(context.Background(), verbose)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	return healthy, report
}

func TestEvaluateHealthyCluster(t *testing.T) {
	c := healthyCluster(3)
	c.addService("api", ecstypes.LoadBalancer{TargetGroupArn: aws.String("arn:tg/api")})
	c.addService("legacy", ecstypes.LoadBalancer{LoadBalancerName: aws.String("legacy-elb")})
	c.targets["arn:tg/api"] = []elbv2types.TargetHealthDescription{healthyTarget("i-0"), healthyTarget("i-1")}
	c.classic["legacy-elb"] = []elbtypes.InstanceState{{InstanceId: aws.String("i-2"), State: aws.String("InService")}}

	healthy, report := evaluate(t, c, true)
	if !healthy {
		t.Fatalf("expected healthy cluster, findings: %v", report.Findings)
	}
	if report.Summary() != "web is healthy" {
		t.Errorf("unexpected summary %q", report.Summary())
	}
}

func TestEvaluateInstanceCountMismatch(t *testing.T) {
	c := healthyCluster(2)
	c.desired = 3

	healthy, report := evaluate(t, c, true)
	if healthy {
		t.Fatal("expected unhealthy verdict when a node is missing")
	}
	if !report.Failed(CheckInstances) {
		t.Error("expected instance check to fail")
	}
	if report.Failed(CheckCluster) || report.Failed(CheckServices) || report.Failed(CheckLoadBalancers) {
		t.Errorf("expected only the instance check to fail, got %v", report.FailedChecks())
	}
}

func TestEvaluateInactiveInstance(t *testing.T) {
	c := healthyCluster(3)
	c.instances[1].Status = aws.String("DRAINING")

	healthy, report := evaluate(t, c, true)
	if healthy {
		t.Fatal("expected unhealthy verdict")
	}
	if len(report.Findings) != 1 || report.Findings[0].Resource != "i-1" || report.Findings[0].Status != "DRAINING" {
		t.Errorf("unexpected findings: %v", report.Findings)
	}
}

func TestEvaluateClusterCheck(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*cluster)
		healthy bool
	}{
		{name: "active", mutate: func(*cluster) {}, healthy: true},
		{name: "inactive", mutate: func(c *cluster) { c.status = "INACTIVE" }, healthy: false},
		{name: "pending tasks", mutate: func(c *cluster) { c.pending = 2 }, healthy: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := healthyCluster(1)
			tt.mutate(c)
			healthy, report := evaluate(t, c, false)
			if healthy != tt.healthy {
				t.Errorf("expected healthy=%v, got %v", tt.healthy, healthy)
			}
			if report.Failed(CheckCluster) == tt.healthy {
				t.Errorf("cluster check failed=%v, want %v", report.Failed(CheckCluster), !tt.healthy)
			}
		})
	}
}

func TestEvaluateServiceWithoutLoadBalancers(t *testing.T) {
	c := healthyCluster(1)
	c.addService("worker")

	healthy, _ := evaluate(t, c, false)
	if !healthy {
		t.Error("a service without load balancers should not fail the verdict")
	}
	if len(c.targetCalls) != 0 {
		t.Errorf("expected no target health lookups, got %v", c.targetCalls)
	}
}

func TestEvaluateUnhealthyTarget(t *testing.T) {
	c := healthyCluster(2)
	c.addService("api", ecstypes.LoadBalancer{TargetGroupArn: aws.String("arn:tg/api")})
	c.targets["arn:tg/api"] = []elbv2types.TargetHealthDescription{
		healthyTarget("i-0"),
		{
			Target:       &elbv2types.TargetDescription{Id: aws.String("i-1")},
			TargetHealth: &elbv2types.TargetHealth{State: elbv2types.TargetHealthStateEnumUnhealthy},
		},
	}

	healthy, report := evaluate(t, c, true)
	if healthy {
		t.Fatal("expected unhealthy verdict for an unhealthy target")
	}
	if !report.Failed(CheckLoadBalancers) {
		t.Error("expected load balancer check to fail")
	}
	if got := report.Findings[0].Resource; got != "arn:tg/api/i-1" {
		t.Errorf("expected finding for arn:tg/api/i-1, got %s", got)
	}
}

func TestEvaluateClassicOutOfService(t *testing.T) {
	c := healthyCluster(1)
	c.addService("legacy", ecstypes.LoadBalancer{LoadBalancerName: aws.String("legacy-elb")})
	c.classic["legacy-elb"] = []elbtypes.InstanceState{{InstanceId: aws.String("i-0"), State: aws.String("OutOfService")}}

	healthy, report := evaluate(t, c, false)
	if healthy || !report.Failed(CheckLoadBalancers) {
		t.Errorf("expected classic balancer to fail the verdict, got healthy=%v", healthy)
	}
}

func TestEvaluateDistinctTargetGroups(t *testing.T) {
	c := healthyCluster(1)
	tg := ecstypes.LoadBalancer{TargetGroupArn: aws.String("arn:tg/shared")}
	c.addService("a", tg)
	c.addService("b", tg)
	c.targets["arn:tg/shared"] = []elbv2types.TargetHealthDescription{healthyTarget("i-0")}

	if healthy, _ := evaluate(t, c, false); !healthy {
		t.Fatal("expected healthy cluster")
	}
	if len(c.targetCalls) != 1 {
		t.Errorf("expected one lookup per distinct target group, got %v", c.targetCalls)
	}
}

func TestEvaluateNoServices(t *testing.T) {
	c := healthyCluster(2)

	healthy, _ := evaluate(t, c, false)
	if !healthy {
		t.Error("a cluster without services should pass the service check")
	}
	if len(c.describeCalls) != 0 {
		t.Errorf("expected no DescribeServices calls, got %d", len(c.describeCalls))
	}
}

func TestEvaluateFollowsServicePages(t *testing.T) {
	c := healthyCluster(1)
	for i := 0; i < 25; i++ {
		c.addService(fmt.Sprintf("svc-%02d", i))
	}
	c.services[24].Status = aws.String("DRAINING")
	c.servicesPage = 7

	healthy, report := evaluate(t, c, true)
	if healthy {
		t.Fatal("expected the draining service on the last page to be found")
	}
	if report.Findings[0].Resource != "svc-24" {
		t.Errorf("unexpected finding %v", report.Findings[0])
	}

	var described int
	for _, batch := range c.describeCalls {
		described += len(batch)
	}
	if described != 25 {
		t.Errorf("expected 25 services described, got %d", described)
	}
	if len(c.describeCalls) != 3 {
		t.Errorf("expected 3 describe batches, got %d", len(c.describeCalls))
	}
}

func TestEvaluateConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*cluster)
		code   string
	}{
		{name: "cluster missing", mutate: func(c *cluster) { c.missing = true }, code: engine.ErrCodeClusterNotFound},
		{name: "no group", mutate: func(c *cluster) { c.groups = 0 }, code: engine.ErrCodeGroupNotUnique},
		{name: "two groups", mutate: func(c *cluster) { c.groups = 2 }, code: engine.ErrCodeGroupNotUnique},
		{
			name:   "instances unlistable",
			mutate: func(c *cluster) { c.listInstErr = errors.New("retry budget exhausted") },
			code:   engine.ErrCodeInstancesUnavailable,
		},
		{
			name:   "services unlistable",
			mutate: func(c *cluster) { c.listSvcErr = errors.New("retry budget exhausted") },
			code:   engine.ErrCodeServicesUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := healthyCluster(1)
			tt.mutate(c)

			healthy, report, err := NewEvaluator(c.name, c.fake()).Evaluate(context.Background(), false)
			if err == nil {
				t.Fatalf("expected configuration error, got healthy=%v", healthy)
			}
			if !engine.IsConfiguration(err) {
				t.Errorf("expected configuration class, got %v", err)
			}
			if code := engine.CodeOf(err); code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, code)
			}
			if report != nil {
				t.Error("expected no report alongside an error")
			}
		})
	}
}

func TestVerboseDoesNotChangeVerdict(t *testing.T) {
	c := healthyCluster(2)
	c.desired = 3

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	quietHealthy, quiet, err := NewEvaluator(c.name, c.fake(), WithLogger(logger)).Evaluate(context.Background(), false)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no diagnostics without verbose, got %s", buf.String())
	}

	loudHealthy, loud, err := NewEvaluator(c.name, c.fake(), WithLogger(logger)).Evaluate(context.Background(), true)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if quietHealthy != loudHealthy {
		t.Errorf("verdict changed with verbose: %v vs %v", quietHealthy, loudHealthy)
	}
	if len(quiet.Findings) != 0 {
		t.Errorf("expected no findings without verbose, got %v", quiet.Findings)
	}
	if len(loud.Findings) == 0 {
		t.Error("expected findings in verbose mode")
	}
	if !strings.Contains(buf.String(), `"check":"instances"`) {
		t.Errorf("expected structured diagnostic, got %s", buf.String())
	}
}
