package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudcompose/ecsroll/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved upgrade",
		Long: `Show the upgrade saved for the cluster, if any: every node, its state and
the node the next step works on.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd.Context(), setupOptions{})
			if err != nil {
				return err
			}
			defer env.Close()

			snapshot, err := env.store.Load(cmd.Context(), env.cfg.Cluster.Name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, snapshot)
			}
			if snapshot == nil {
				fmt.Fprintf(out, "No upgrade in progress for %s\n", env.cfg.Cluster.Name)
				return nil
			}
			return printSnapshot(out, snapshot)
		},
	}

	return cmd
}

func printSnapshot(out io.Writer, snapshot *stores.Snapshot) error {
	cursor := snapshot.Cursor()
	fmt.Fprintf(out, "Cluster:  %s\n", snapshot.ClusterName)
	fmt.Fprintf(out, "Campaign: %s\n", snapshot.CampaignID)
	if !snapshot.SavedAt.IsZero() {
		fmt.Fprintf(out, "Saved:    %s\n", snapshot.SavedAt.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "Progress: %d/%d\n\n", cursor, len(snapshot.Nodes))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tINSTANCE\tNAME\tADDRESS\tSTATE\tDONE")
	for i, n := range snapshot.Nodes {
		marker := ""
		if i == cursor {
			marker = ">"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", marker, n.InstanceID, n.InstanceName, n.PrivateIP, n.State, n.Completed)
	}
	return w.Flush()
}
