package health

import (
	"fmt"
	"strings"
	"time"
)

// Check names used in findings and metrics.
const (
	CheckCluster       = "cluster"
	CheckInstances     = "instances"
	CheckServices      = "services"
	CheckLoadBalancers = "load_balancers"
)

// Finding describes one failing sub-check.
type Finding struct {
	Check    string `json:"check"`
	Resource string `json:"resource"`
	Status   string `json:"status,omitempty"`
	Detail   string `json:"detail"`
}

// String renders the finding on one line.
func (f Finding) String() string {
	if f.Status == "" {
		return fmt.Sprintf("%s: %s %s", f.Check, f.Resource, f.Detail)
	}
	return fmt.Sprintf("%s: %s is %s, %s", f.Check, f.Resource, f.Status, f.Detail)
}

// Report is the outcome of one evaluation. Findings are only collected in
// verbose mode.
type Report struct {
	Cluster     string    `json:"cluster"`
	Healthy     bool      `json:"healthy"`
	Verbose     bool      `json:"verbose"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	Findings    []Finding `json:"findings,omitempty"`

	failed map[string]bool
}

func newReport(cluster string, verbose bool) *Report {
	return &Report{
		Cluster:     cluster,
		Verbose:     verbose,
		EvaluatedAt: time.Now().UTC(),
		failed:      make(map[string]bool),
	}
}

// Failed reports whether the named check failed.
func (r *Report) Failed(check string) bool {
	return r.failed[check]
}

// FailedChecks lists the checks that failed, in evaluation order.
func (r *Report) FailedChecks() []string {
	var out []string
	for _, c := range []string{CheckCluster, CheckInstances, CheckServices, CheckLoadBalancers} {
		if r.failed[c] {
			out = append(out, c)
		}
	}
	return out
}

// Summary is the one-line verdict printed to operators.
func (r *Report) Summary() string {
	if r.Healthy {
		return fmt.Sprintf("%s is healthy", r.Cluster)
	}
	failed := r.FailedChecks()
	if len(failed) == 0 {
		return fmt.Sprintf("%s is unhealthy", r.Cluster)
	}
	return fmt.Sprintf("%s is unhealthy (%s)", r.Cluster, strings.Join(failed, ", "))
}
