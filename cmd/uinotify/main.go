// Command uinotify runs the notification hub and talks to it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/uinotify/internal/client"
	"github.com/alfredjeanlab/uinotify/internal/ui"
)

var (
	serverAddr string
	httpURL    string
	transport  string
	authToken  string
	user       string
	jsonOutput bool

	notifyClient client.NotificationClient
	printer      ui.Printer
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var rootCmd = &cobra.Command{
	Use:           "uinotify <command>",
	Short:         "Cluster-aware UI notification hub",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		printer = ui.Printer{Color: !jsonOutput && ui.ShouldUseColor(os.Stdout)}
		switch transport {
		case "http":
			notifyClient = client.NewHTTPClient(httpURL, authToken, user)
		case "grpc":
			c, err := client.NewGRPCClient(serverAddr, authToken, user)
			if err != nil {
				return fmt.Errorf("failed to connect to server: %w", err)
			}
			notifyClient = c
		default:
			return fmt.Errorf("unknown transport %q (must be http or grpc)", transport)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if notifyClient != nil {
			notifyClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", envOr("UINOTIFY_HTTP_URL", "http://localhost:8080"), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("UINOTIFY_SERVER", "localhost:9090"), "gRPC server address")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", "http", "transport protocol (http or grpc)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("UINOTIFY_AUTH_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().StringVar(&user, "user", os.Getenv("UINOTIFY_USER"), "user to poll as")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "notifications", Title: "Notifications:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(delayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, printer.Warn("Error: "+err.Error()))
		os.Exit(1)
	}
}
