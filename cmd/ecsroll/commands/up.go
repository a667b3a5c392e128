package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newUpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Create the ECS cluster",
		Long: `Create the ECS cluster named in the config file. Creating a cluster that
already exists is a no-op.

The Auto Scaling group that provides the container instances is provisioned
separately and must carry the cluster's name.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), setupOptions{provider: true})
			if err != nil {
				return err
			}
			defer env.Close()

			log.Info().Str("cluster", env.cfg.Cluster.Name).Msg("Creating cluster")

			status, err := env.ctrl.CreateCluster(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, map[string]string{
					"cluster": env.cfg.Cluster.Name,
					"status":  status,
				})
			}
			fmt.Fprintf(out, "%s is %s\n", env.cfg.Cluster.Name, status)
			fmt.Fprintf(out, "Provision the Auto Scaling group %q to add container instances.\n", env.cfg.Cluster.Name)
			return nil
		},
	}

	return cmd
}
