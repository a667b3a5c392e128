package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudcompose/ecsroll/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit    int
		campaign string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded node transitions",
		Long: `List the node transitions recorded in the history journal, newest first.

The journal is written during upgrades when history.path is set in the
config file. With --campaign the transitions of that campaign are listed
oldest first and --limit is ignored.`,
		Example: `  # Last 20 transitions
  ecsroll history

  # Everything
  ecsroll history --limit 0

  # Every transition of one campaign, oldest first
  ecsroll history --campaign 3f2a9c1e-6b7d-4e0a-9d51-2c8f7b6e4a10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), setupOptions{history: true})
			if err != nil {
				return err
			}
			defer env.Close()

			if env.history == nil {
				return fmt.Errorf("history is disabled: set history.path in the config file")
			}

			var transitions []*stores.Transition
			if campaign != "" {
				transitions, err = env.history.ListByCampaign(cmd.Context(), campaign)
			} else {
				transitions, err = env.history.ListByCluster(cmd.Context(), env.cfg.Cluster.Name, limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, transitions)
			}
			if len(transitions) == 0 {
				if campaign != "" {
					fmt.Fprintf(out, "No transitions recorded for campaign %s\n", campaign)
					return nil
				}
				fmt.Fprintf(out, "No transitions recorded for %s\n", env.cfg.Cluster.Name)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tCAMPAIGN\tINSTANCE\tFROM\tTO\tCOMPLETED")
			for _, t := range transitions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
					t.RecordedAt.Local().Format("2006-01-02 15:04:05"),
					t.CampaignID, t.InstanceID, t.FromState, t.ToState, t.Completed)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of transitions to show (0 for all)")
	cmd.Flags().StringVar(&campaign, "campaign", "", "show every transition of this campaign")

	return cmd
}
