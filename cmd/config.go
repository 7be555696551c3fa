package cmd

import (
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Long: `Display the configuration after applying the config file, QUILL_
environment variables, flags and defaults.

Examples:
  quill config show             # YAML
  quill config show -o json     # JSON`,
	RunE: runConfigShow,
}

var configFormat = newChoice("yaml", "yaml", "json")

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)

	configShowCmd.Flags().VarP(configFormat, "output", "o", "Output format (yaml, json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	return writeStructured(cmd.OutOrStdout(), configFormat.String(), cfg)
}
