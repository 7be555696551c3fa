package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/metrics"
	"github.com/conneroisu/quill/internal/services"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the development server with live reload",
	Long: `Build the site, serve the output directory and rebuild on every change.
Connected browsers reload automatically; stylesheet changes are swapped in
without a full page reload.

Examples:
  quill serve                   # Serve on localhost:1313
  quill serve --port 8080       # Serve on a different port
  quill serve --notify          # Use filesystem notifications to react faster`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{
			"port":   "server.port",
			"host":   "server.host",
			"notify": "watch.notify",
		})
	},
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "Port to serve on (default 1313)")
	serveCmd.Flags().String("host", "", "Host to bind to (default localhost)")
	serveCmd.Flags().Bool("notify", false, "Wake the change detector on filesystem notifications")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return services.NewServeService(cfg, logger, metrics.New(nil)).Serve(ctx)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
