package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var delayCmd = &cobra.Command{
	Use:     "delay <topic>",
	Short:   "Show how long handlers of a topic should spread their requests",
	GroupID: "notifications",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := notifyClient.Delay(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("getting delay: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d listener(s), delay window %ds\n",
			printer.Accent(resp.Topic), resp.Listeners, resp.DelaySeconds)
		return nil
	},
}
