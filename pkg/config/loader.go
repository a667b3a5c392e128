package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the cluster configuration is looked up when no
// --config flag is given.
const DefaultPath = "cloud-compose/config.yml"

// DefaultRegion is used when neither the file nor AWS_REGION sets one.
const DefaultRegion = "us-east-1"

var clusterNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		Cluster: ClusterConfig{
			AWS: AWSConfig{Region: DefaultRegion},
		},
		Upgrade: UpgradeConfig{
			Interval: Duration(10 * time.Second),
			StateDir: filepath.Join(os.TempDir(), "cloud-compose"),
		},
		Retry: RetryConfig{
			MaxDuration: Duration(10 * time.Second),
			BaseDelay:   Duration(500 * time.Millisecond),
			MaxDelay:    Duration(2 * time.Second),
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "none",
		},
	}
}

// Load reads, overlays the environment onto, and validates the file at path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default, applies environment overrides and
// validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays the standard AWS environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("AWS_REGION"); v != "" {
		c.Cluster.AWS.Region = v
	}
	if v := getenv("AWS_PROFILE"); v != "" && c.Cluster.AWS.Profile == "" {
		c.Cluster.AWS.Profile = v
	}
	id, secret := getenv("AWS_ACCESS_KEY_ID"), getenv("AWS_SECRET_ACCESS_KEY")
	if id != "" && secret != "" {
		c.Cluster.AWS.AccessKeyID = id
		c.Cluster.AWS.SecretAccessKey = secret
	}
}

// Validate checks the configuration with struct tags.
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cluster_name", func(fl validator.FieldLevel) bool {
		return clusterNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
