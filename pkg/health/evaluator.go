// Package health decides whether an ECS cluster is safe to disturb.
//
// The verdict is the conjunction of four checks: the cluster itself, its
// container instances against the Auto Scaling group's desired capacity,
// every service, and every load balancer those services route through. Any
// failing check fails the verdict. Misconfiguration (missing cluster,
// ambiguous Auto Scaling group, unlistable instances or services) is
// returned as a configuration error and never reported as unhealthy.
package health

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cloudcompose/ecsroll/pkg/awsclient"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
)

// Provider is the part of the provider API the evaluator reads.
type Provider interface {
	awsclient.ECSAPI
	awsclient.AutoScalingAPI
	awsclient.ELBAPI
	awsclient.ELBV2API
}

// Evaluator evaluates the health of one cluster. Verdicts are never cached.
type Evaluator struct {
	cluster  string
	provider Provider
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger used for verbose diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithMetrics records verdicts and failing checks.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// NewEvaluator returns an evaluator for the named cluster. The Auto Scaling
// group backing the cluster is expected to share its name.
func NewEvaluator(cluster string, provider Provider, opts ...Option) *Evaluator {
	e := &Evaluator{
		cluster:  cluster,
		provider: provider,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "health").Str("cluster", cluster).Logger()
	return e
}

// Cluster returns the evaluated cluster name.
func (e *Evaluator) Cluster() string {
	return e.cluster
}

// Evaluate runs all four checks and returns the verdict. Every check runs
// even after one has failed so the report is complete; an error aborts the
// evaluation. verbose only controls diagnostics, never the verdict.
func (e *Evaluator) Evaluate(ctx context.Context, verbose bool) (bool, *Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "health.evaluate",
		telemetry.AttrCluster.String(e.cluster),
		telemetry.AttrVerbose.Bool(verbose),
	)
	report := newReport(e.cluster, verbose)

	healthy, err := e.evaluate(ctx, report)
	if err != nil {
		telemetry.EndSpan(span, err)
		return false, nil, err
	}

	report.Healthy = healthy
	span.SetAttributes(telemetry.AttrHealthy.Bool(healthy))
	telemetry.EndSpan(span, nil)

	e.metrics.RecordHealthEvaluation(e.cluster, healthy)
	e.logger.Debug().Bool("healthy", healthy).Strs("failed", report.FailedChecks()).Msg("Evaluated cluster health")
	return healthy, report, nil
}

func (e *Evaluator) evaluate(ctx context.Context, report *Report) (bool, error) {
	clusterOK, err := e.checkCluster(ctx, report)
	if err != nil {
		return false, err
	}

	instancesOK, err := e.checkInstances(ctx, report)
	if err != nil {
		return false, err
	}

	services, err := e.describeServices(ctx)
	if err != nil {
		return false, err
	}
	servicesOK := e.checkServices(services, report)

	balancersOK, err := e.checkLoadBalancers(ctx, services, report)
	if err != nil {
		return false, err
	}

	return clusterOK && instancesOK && servicesOK && balancersOK, nil
}

func (e *Evaluator) fail(report *Report, f Finding) {
	if !report.failed[f.Check] {
		report.failed[f.Check] = true
		e.metrics.RecordHealthCheckFailure(e.cluster, f.Check)
	}
	if !report.Verbose {
		return
	}
	report.Findings = append(report.Findings, f)
	e.logger.Warn().
		Str("check", f.Check).
		Str("resource", f.Resource).
		Str("status", f.Status).
		Msg(f.Detail)
}
