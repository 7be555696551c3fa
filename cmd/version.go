package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/version"
)

var versionFormat = newChoice("text", "text", "json", "yaml")

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		out := cmd.OutOrStdout()

		if versionFormat.String() != "text" {
			return writeStructured(out, versionFormat.String(), info)
		}

		fmt.Fprintf(out, "quill %s\n", info.Short())
		if !info.BuildTime.IsZero() {
			fmt.Fprintf(out, "Built: %s\n", info.BuildTime.UTC().Format("2006-01-02 15:04:05 UTC"))
		}
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().VarP(versionFormat, "output", "o", "Output format (text, json, yaml)")
}
