package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/build"
	"github.com/conneroisu/quill/internal/metrics"
	"github.com/conneroisu/quill/internal/services"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the site once",
	Long: `Build the site without starting the development server. Only sources
that changed since the last build are rendered again; the rest is reused
from the persisted build cache.

Examples:
  quill build                   # Incremental build
  quill build --clean           # Remove output and cache, then build everything
  quill build -o json           # Print the build report as JSON`,
	RunE: runBuild,
}

var (
	buildClean  bool
	buildOutput = newChoice("text", "text", "json", "yaml")
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "Remove the output directory and build cache first")
	buildCmd.Flags().VarP(buildOutput, "output", "o", "Report format (text, json, yaml)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	svc := services.NewBuildService(cfg, logger, metrics.New(nil))
	result, err := svc.Build(cmd.Context(), services.BuildOptions{Clean: buildClean})
	if result != nil && result.Report != nil {
		if printErr := printReport(cmd, result.Report); printErr != nil {
			return printErr
		}
	}
	return err
}

func printReport(cmd *cobra.Command, report *build.Report) error {
	out := cmd.OutOrStdout()
	if buildOutput.String() != "text" {
		return writeStructured(out, buildOutput.String(), report)
	}

	fmt.Fprintf(out, "Built %d, restored %d, skipped %d, pruned %d in %s\n",
		report.Built, report.Restored, report.Skipped, report.Pruned, report.Duration.Round(time.Millisecond))
	if report.Failed > 0 {
		fmt.Fprintf(out, "%d failed:\n", report.Failed)
		for _, f := range report.Failures {
			fmt.Fprintf(out, "  %s: %s\n", f.File, f.Message)
		}
	}
	return nil
}
