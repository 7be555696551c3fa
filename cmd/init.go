package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/services"
)

var initCmd = &cobra.Command{
	Use:     "init [directory]",
	Aliases: []string{"i"},
	Short:   "Create a new site",
	Long: `Create the configuration file and the standard directory layout for a new
site, with a sample page, layout, stylesheet and script.

Examples:
  quill init                    # Initialize the current directory
  quill init my-site            # Initialize a new directory
  quill init --minimal          # Only the configuration and directories`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initMinimal bool
	initForce   bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Skip the sample content")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	err := services.NewInitService().InitProject(services.InitOptions{
		ProjectDir: dir,
		Minimal:    initMinimal,
		Force:      initForce,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created a new site in %s\nRun 'quill serve' to start the development server.\n", dir)
	return nil
}
