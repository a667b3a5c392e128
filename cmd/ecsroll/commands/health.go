package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newHealthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check ECS cluster health",
		Long: `Evaluate the health of the cluster the way an upgrade does before and
after every replacement.

The cluster is healthy when it is ACTIVE with no pending tasks, every
expected container instance is registered and ACTIVE, every service is ACTIVE
and every load balancer in front of a service reports its targets healthy.`,
		Example: `  # Check health
  ecsroll health

  # Show every failing check
  ecsroll health --verbose

  # Machine readable report
  ecsroll health --verbose --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), setupOptions{provider: true})
			if err != nil {
				return err
			}
			defer env.Close()

			log.Debug().Str("cluster", env.cfg.Cluster.Name).Bool("verbose", verbose).Msg("Checking cluster health")

			report, err := env.ctrl.Health(cmd.Context(), verbose)
			if err != nil {
				return fmt.Errorf("health check of %s failed: %w", env.cfg.Cluster.Name, err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, report)
			}

			if report.Healthy {
				fmt.Fprintf(out, "%s is healthy\n", report.Cluster)
			} else {
				fmt.Fprintf(out, "%s is unhealthy\n", report.Cluster)
			}
			for _, f := range report.Findings {
				fmt.Fprintf(out, "  - %s\n", f)
			}
			return nil
		},
	}

	return cmd
}
