package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the cluster configuration file read by ecsroll.
type Config struct {
	// Cluster identifies the ECS cluster and the account it lives in.
	Cluster ClusterConfig `yaml:"cluster" validate:"required"`

	// Upgrade controls the rolling replacement loop.
	Upgrade UpgradeConfig `yaml:"upgrade"`

	// Retry is the policy applied to every provider call.
	Retry RetryConfig `yaml:"retry"`

	// History configures the optional transition journal.
	History HistoryConfig `yaml:"history"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ClusterConfig names the cluster. The Auto Scaling group backing the
// cluster is expected to carry the same name.
type ClusterConfig struct {
	Name string    `yaml:"name" validate:"required,cluster_name"`
	AWS  AWSConfig `yaml:"aws"`
}

// AWSConfig holds the provider connection settings.
type AWSConfig struct {
	// Region is the AWS region, e.g. "us-east-1".
	Region string `yaml:"region" validate:"required"`

	// Profile selects a shared config profile.
	Profile string `yaml:"profile,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials. When unset the
	// default credential chain is used.
	AccessKeyID     string `yaml:"access_key_id,omitempty" validate:"required_with=SecretAccessKey"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" validate:"required_with=AccessKeyID"`

	// Endpoint overrides the service endpoint, for local stacks.
	Endpoint string `yaml:"endpoint,omitempty" validate:"omitempty,url"`
}

// UpgradeConfig controls the upgrade driver.
type UpgradeConfig struct {
	// Interval is the pause between two steps in continuous mode.
	Interval Duration `yaml:"interval" validate:"gt=0"`

	// StateDir is where workflow snapshots are written.
	StateDir string `yaml:"state_dir" validate:"required"`

	// SingleStep runs exactly one step per invocation.
	SingleStep bool `yaml:"single_step"`

	// Verbose logs each failing health finding during the upgrade.
	Verbose bool `yaml:"verbose"`
}

// RetryConfig parameterises the provider retry policy.
type RetryConfig struct {
	MaxDuration Duration `yaml:"max_duration" validate:"gt=0"`
	BaseDelay   Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay    Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// HistoryConfig configures the SQLite transition journal. An empty path
// disables it.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// TelemetryConfig configures the ambient observability stack.
type TelemetryConfig struct {
	LogLevel        string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat       string `yaml:"log_format" validate:"oneof=console json"`
	MetricsAddr     string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
	TracingExporter string `yaml:"tracing_exporter" validate:"oneof=none stdout otlp"`
	TracingEndpoint string `yaml:"tracing_endpoint,omitempty" validate:"required_if=TracingExporter otlp"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML accepts "10s", "500ms" and similar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
