package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/services"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the build cache",
	Long: `List the records of the persisted build cache: every tracked source, its
recorded modification time, its dependencies and whether rendered output is
cached for it.

Examples:
  quill cache                   # Table of cached records
  quill cache -o yaml           # Records as YAML
  quill cache --clear           # Delete the cache; the next build starts over`,
	RunE: runCache,
}

var (
	cacheClear  bool
	cacheOutput = newChoice("table", "table", "json", "yaml")
)

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.Flags().BoolVar(&cacheClear, "clear", false, "Delete every record and the cache files")
	cacheCmd.Flags().VarP(cacheOutput, "output", "o", "Output format (table, json, yaml)")
}

func runCache(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	svc := services.NewCacheService(cfg, logger)
	out := cmd.OutOrStdout()

	if cacheClear {
		if err := svc.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared build cache in %s\n", cfg.Build.CacheDir)
		return nil
	}

	records := svc.Records()
	if cacheOutput.String() != "table" {
		return writeStructured(out, cacheOutput.String(), records)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tMODIFIED\tDEPS\tCACHED\tSIZE")
	for _, r := range records {
		modified := "-"
		if !r.LastModified.IsZero() {
			modified = r.LastModified.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\n", r.Path, modified, len(r.Dependencies), r.Cached, r.Size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d records\n", len(records))
	return nil
}
