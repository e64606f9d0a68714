package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the health of a node",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := notifyClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), h); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", h.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Node:   %s\n", printer.Muted(h.NodeID))
			if h.Cluster != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Cluster publisher: %s\n", h.Cluster)
			}
		}

		if h.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", h.Status)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show backlog sizes and waiting polls per topic",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := notifyClient.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), st)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TOPIC\tBACKLOG\tLISTENERS")
		for _, t := range st.Topics {
			fmt.Fprintf(w, "%s\t%d\t%d\n", t.Topic, t.Backlog, t.Listeners)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\n", "total", st.Notifications, st.Listeners)
		return w.Flush()
	},
}
