package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	metricsAddr string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	serviceVersion = version

	rootCmd := &cobra.Command{
		Use:   "ecsroll",
		Short: "Rolling replacement of ECS container instances",
		Long: `ecsroll replaces the EC2 container instances of an ECS cluster one at a
time. Before and after each replacement it checks that the cluster, its
instances, its services and their load balancers are healthy.

Progress is saved after every step, so an interrupted upgrade can be resumed.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "cluster config file (default cloud-compose/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "output detailed health check information")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newUpgradeCommand())
	rootCmd.AddCommand(newUpCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
