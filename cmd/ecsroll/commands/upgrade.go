package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cloudcompose/ecsroll/pkg/config"
	"github.com/cloudcompose/ecsroll/pkg/controller"
	"github.com/cloudcompose/ecsroll/pkg/telemetry"
	"github.com/cloudcompose/ecsroll/pkg/workflow"
)

func newUpgradeCommand() *cobra.Command {
	var (
		singleStep bool
		interval   time.Duration
		resume     bool
		discard    bool
	)

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the ECS cluster",
		Long: `Replace the container instances of the cluster one at a time.

Each node is marked unhealthy in its Auto Scaling group only while the cluster
is healthy, and the next node is not touched until the replaced instance has
terminated and the cluster is healthy again. Progress is saved after every
step. When a saved upgrade is found you are asked whether to continue it.`,
		Example: `  # Run the whole upgrade, pausing 10s between steps
  ecsroll upgrade

  # Perform one step and exit (for cron or CI)
  ecsroll upgrade --single-step --yes

  # Throw away a saved upgrade and start over
  ecsroll upgrade --discard`,
		RunE: func(cmd *cobra.Command, args []string) error {
			override := func(cfg *config.Config) error {
				if cmd.Flags().Changed("single-step") {
					cfg.Upgrade.SingleStep = singleStep
				}
				if cmd.Flags().Changed("interval") {
					if interval <= 0 {
						return fmt.Errorf("interval must be positive, got %s", interval)
					}
					cfg.Upgrade.Interval = config.Duration(interval)
				}
				return nil
			}

			env, err := setup(cmd.Context(), setupOptions{provider: true, history: true, override: override})
			if err != nil {
				return err
			}
			defer env.Close()

			log.Info().
				Str("cluster", env.cfg.Cluster.Name).
				Bool("single_step", env.cfg.Upgrade.SingleStep).
				Msg("Upgrading cluster")

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				env.tel.Events.Subscribe(func(e telemetry.Event) {
					_ = enc.Encode(e)
				}, telemetry.FilterByCluster(env.cfg.Cluster.Name))
			}

			var decider workflow.ResumeDecider = &consoleDecider{
				in:       cmd.InOrStdin(),
				out:      cmd.OutOrStdout(),
				modified: env.store.Stat,
			}
			switch {
			case resume:
				decider = workflow.Always(workflow.DecisionResume)
			case discard:
				decider = workflow.Always(workflow.DecisionDiscard)
			}

			return env.ctrl.Upgrade(cmd.Context(), decider, env.cfg.Upgrade.SingleStep)
		},
	}

	cmd.Flags().BoolVar(&singleStep, "single-step", false, "perform only one upgrade step and then exit")
	cmd.Flags().DurationVar(&interval, "interval", controller.DefaultInterval, "pause between steps")
	cmd.Flags().BoolVarP(&resume, "yes", "y", false, "resume a saved upgrade without asking")
	cmd.Flags().BoolVar(&discard, "discard", false, "discard a saved upgrade without asking")
	cmd.MarkFlagsMutuallyExclusive("yes", "discard")

	return cmd
}
