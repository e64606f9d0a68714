package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/uinotify/internal/client"
	"github.com/alfredjeanlab/uinotify/internal/model"
)

var pollCmd = &cobra.Command{
	Use:     "poll <topic>...",
	Short:   "Follow topics and print new notifications",
	GroupID: "notifications",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		once, _ := cmd.Flags().GetBool("once")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		p := client.NewPoller(notifyClient, args, &client.PollerOptions{Timeout: timeout, Logger: logger})

		out := cmd.OutOrStdout()
		show := func(n model.Notification) {
			if jsonOutput {
				_ = printJSON(out, n)
				return
			}
			fmt.Fprintln(out, printer.Notification(n))
		}

		// The first poll subscribes and never returns notifications.
		if _, err := p.PollOnce(ctx); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
		if once {
			fresh, err := p.PollOnce(ctx)
			if err != nil {
				return fmt.Errorf("polling: %w", err)
			}
			for _, n := range fresh {
				show(n)
			}
			return nil
		}

		if err := p.Run(ctx, show); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("polling: %w", err)
		}
		return nil
	},
}

func init() {
	pollCmd.Flags().Duration("timeout", 30*time.Second, "long-poll timeout per request")
	pollCmd.Flags().Bool("once", false, "poll a single time after subscribing")
}
