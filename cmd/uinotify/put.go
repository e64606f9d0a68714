package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/uinotify/internal/model"
)

var putCmd = &cobra.Command{
	Use:     "put <topic> [payload-json]",
	Short:   "Publish a notification",
	GroupID: "notifications",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetString("to")
		except, _ := cmd.Flags().GetStringSlice("except")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		local, _ := cmd.Flags().GetBool("local")

		req := &model.PutRequest{
			Topic:           args[0],
			User:            to,
			ExcludedUserIDs: except,
			TimeoutMs:       ttl.Milliseconds(),
		}
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("payload is not valid JSON")
			}
			req.Payload = json.RawMessage(args[1])
		}
		if local {
			f := false
			req.PublishOverCluster = &f
		}

		resp, err := notifyClient.Put(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("putting notification: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Accepted %d notification(s) on %s\n", resp.Accepted, printer.Accent(req.Topic))
		return nil
	},
}

func init() {
	putCmd.Flags().String("to", "", "only this user may receive the notification")
	putCmd.Flags().StringSlice("except", nil, "users that must not receive the notification")
	putCmd.Flags().Duration("ttl", time.Duration(0), "time to live (default: server setting)")
	putCmd.Flags().Bool("local", false, "do not publish to other cluster nodes")
	putCmd.MarkFlagsMutuallyExclusive("to", "except")
}
