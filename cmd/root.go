// Package cmd provides the command-line interface for quill.
//
// Configuration is resolved with this precedence, highest first:
//
//  1. command-line flags (--log-level, --port, ...)
//  2. QUILL_<SECTION>_<OPTION> environment variables, including those set
//     in a .env file in the working directory
//  3. the config file: --config, else QUILL_CONFIG_FILE, else .quill.yml
//  4. built-in defaults
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/quill/internal/config"
	"github.com/conneroisu/quill/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Incremental static site builder with live reload",
	Long: `quill builds a static site from content, layouts and static assets,
rebuilding only what changed and pushing live reloads to connected browsers.

Quick Start:
  quill init          Create a new site in the current directory
  quill serve         Start the development server with live reload
  quill build         Build the site once
  quill watch         Rebuild on change without serving
  quill cache         Inspect or clear the build cache`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .quill.yml, can also use QUILL_CONFIG_FILE env var)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Var(newChoice("text", "text", "json"), "log-format", "log format (text, json)")
}

// initConfig points viper at the config file and the environment.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Ignoring unreadable .env file:", err)
	}

	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("QUILL_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv("QUILL_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".quill")
	}

	if err := config.BindEnv(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	// a missing config file is fine, defaults apply
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig resolves the configuration and creates the process logger.
func loadConfig() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	return cfg, logger, nil
}
