package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/metrics"
	"github.com/conneroisu/quill/internal/services"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Rebuild the site on change without serving",
	Long: `Watch the content, layout and static directories and rebuild whatever a
change affects. Useful when another server already serves the output.

Examples:
  quill watch                   # Watch the configured directories
  quill watch --notify          # React to filesystem notifications`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{"notify": "watch.notify"})
	},
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Bool("notify", false, "Wake the change detector on filesystem notifications")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	return services.NewWatchService(cfg, logger, metrics.New(nil)).Watch(ctx, nil)
}
