package awsclient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/smithy-go"

	"github.com/cloudcompose/ecsroll/pkg/awsclient"
	"github.com/cloudcompose/ecsroll/pkg/awsclient/awsclienttest"
	"github.com/cloudcompose/ecsroll/pkg/engine"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
)

func testPolicy() awsclient.Policy {
	return awsclient.Policy{
		MaxDuration: 200 * time.Millisecond,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestClientRetriesThroughFake(t *testing.T) {
	calls := 0
	fake := &awsclienttest.Fake{
		DescribeClustersFunc: func(_ context.Context, in *ecs.DescribeClustersInput) (*ecs.DescribeClustersOutput, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("connection reset")
			}
			return &ecs.DescribeClustersOutput{
				Clusters: []ecstypes.Cluster{{ClusterName: aws.String(in.Clusters[0]), Status: aws.String("ACTIVE")}},
			}, nil
		},
	}

	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	retries := 0
	p := testPolicy()
	p.Notify = func(string, error, int) { retries++ }
	client := awsclient.NewClient(fake, fake, fake, fake, fake,
		awsclient.WithPolicy(p),
		awsclient.WithMetrics(metrics),
	)

	out, err := client.DescribeClusters(context.Background(), &ecs.DescribeClustersInput{Clusters: []string{"web"}})
	if err != nil {
		t.Fatalf("DescribeClusters() error = %v", err)
	}
	if got := aws.ToString(out.Clusters[0].Status); got != "ACTIVE" {
		t.Errorf("expected ACTIVE, got %s", got)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if retries != 1 {
		t.Errorf("expected caller notify to be chained, got %d calls", retries)
	}
}

func TestClientSurfacesRejection(t *testing.T) {
	fake := &awsclienttest.Fake{
		ListServicesFunc: func(context.Context, *ecs.ListServicesInput) (*ecs.ListServicesOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "ClusterNotFoundException", Message: "missing"}
		},
	}
	client := awsclient.NewClient(fake, fake, fake, fake, fake, awsclient.WithPolicy(testPolicy()))

	_, err := client.ListServices(context.Background(), &ecs.ListServicesInput{Cluster: aws.String("web")})
	if !engine.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	var e *engine.EngineError
	if !errors.As(err, &e) || e.Operation != "ListServices" {
		t.Errorf("expected operation to be recorded, got %v", err)
	}
}

func TestFakeRejectsUnexpectedCalls(t *testing.T) {
	fake := &awsclienttest.Fake{}
	client := awsclient.NewClient(fake, fake, fake, fake, fake, awsclient.WithPolicy(testPolicy()))

	_, err := client.CreateCluster(context.Background(), &ecs.CreateClusterInput{ClusterName: aws.String("web")})
	if err == nil {
		t.Fatal("expected error from unconfigured fake")
	}
	if !engine.IsTransient(err) {
		t.Errorf("expected unclassified failure to be retried to exhaustion, got %v", err)
	}
}
