// Package config provides configuration management for quill using Viper
// for loading from a YAML file, QUILL_ environment variables, and
// command-line flags.
//
// Load applies defaults for anything left unset and validates the result, so
// callers always receive a complete configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Site   SiteConfig   `mapstructure:"site" yaml:"site"`
	Build  BuildConfig  `mapstructure:"build" yaml:"build"`
	Watch  WatchConfig  `mapstructure:"watch" yaml:"watch"`
	Reload ReloadConfig `mapstructure:"reload" yaml:"reload"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// SiteConfig locates the source and output trees.
type SiteConfig struct {
	ContentDir string `mapstructure:"content_dir" yaml:"content_dir"`
	LayoutDir  string `mapstructure:"layout_dir" yaml:"layout_dir"`
	StaticDir  string `mapstructure:"static_dir" yaml:"static_dir"`
	OutputDir  string `mapstructure:"output_dir" yaml:"output_dir"`
}

// BuildConfig controls the task scheduler and the dependency cache.
type BuildConfig struct {
	Workers  int           `mapstructure:"workers" yaml:"workers"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheDir string        `mapstructure:"cache_dir" yaml:"cache_dir"`
}

// WatchConfig controls the change detector.
type WatchConfig struct {
	Dirs         []string      `mapstructure:"dirs" yaml:"dirs"`
	Extensions   []string      `mapstructure:"extensions" yaml:"extensions"`
	Ignore       []string      `mapstructure:"ignore" yaml:"ignore"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	Notify       bool          `mapstructure:"notify" yaml:"notify"`
}

// ReloadConfig controls the reload endpoint and notification debounce.
// A debounce set to zero, or to any negative value, disables debouncing;
// an unset one uses DefaultDebounce.
type ReloadConfig struct {
	Path     string        `mapstructure:"path" yaml:"path"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// ServerConfig controls the development HTTP server.
type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host"`
	Port           int      `mapstructure:"port" yaml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Defaults.
const (
	DefaultContentDir   = "content"
	DefaultLayoutDir    = "layouts"
	DefaultStaticDir    = "static"
	DefaultOutputDir    = "public"
	DefaultCacheDir     = ".quill/cache"
	DefaultReloadPath   = "/__quill/reload"
	DefaultPollInterval = 500 * time.Millisecond
	DefaultDebounce     = 300 * time.Millisecond

	// DebounceDisabled is stored when a configuration turns debouncing off.
	DebounceDisabled time.Duration = -1
	DefaultBuildTimeout = 2 * time.Minute
	DefaultHost         = "localhost"
	DefaultPort         = 1313
)

// DefaultExtensions are the file extensions the detector snapshots.
var DefaultExtensions = []string{
	".md", ".markdown", ".html", ".htm", ".tmpl",
	".css", ".js", ".json", ".yml", ".yaml", ".toml",
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
}

// Keys lists every configuration key. They are bound to QUILL_ environment
// variables by BindEnv.
var Keys = []string{
	"site.content_dir", "site.layout_dir", "site.static_dir", "site.output_dir",
	"build.workers", "build.timeout", "build.cache_dir",
	"watch.dirs", "watch.extensions", "watch.ignore", "watch.poll_interval", "watch.notify",
	"reload.path", "reload.debounce",
	"server.host", "server.port", "server.allowed_origins",
	"log.level", "log.format",
}

// BindEnv makes v read every key from the environment with the QUILL_
// prefix, e.g. QUILL_SERVER_PORT for server.port. Without it viper only
// consults the environment for keys it has seen in a config file.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range Keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}
	return nil
}

// Load reads the global viper instance into a Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads v into a Config, applies defaults and validates.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	// viper does not split comma separated env values into slices
	if v.IsSet("watch.dirs") && len(config.Watch.Dirs) == 0 {
		config.Watch.Dirs = v.GetStringSlice("watch.dirs")
	}
	if v.IsSet("watch.extensions") && len(config.Watch.Extensions) == 0 {
		config.Watch.Extensions = v.GetStringSlice("watch.extensions")
	}

	// an explicit zero must survive applyDefaults
	if v.IsSet("reload.debounce") && config.Reload.Debounce <= 0 {
		config.Reload.Debounce = DebounceDisabled
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

func applyDefaults(config *Config) {
	if config.Site.ContentDir == "" {
		config.Site.ContentDir = DefaultContentDir
	}
	if config.Site.LayoutDir == "" {
		config.Site.LayoutDir = DefaultLayoutDir
	}
	if config.Site.StaticDir == "" {
		config.Site.StaticDir = DefaultStaticDir
	}
	if config.Site.OutputDir == "" {
		config.Site.OutputDir = DefaultOutputDir
	}

	if config.Build.CacheDir == "" {
		config.Build.CacheDir = DefaultCacheDir
	}
	if config.Build.Timeout == 0 {
		config.Build.Timeout = DefaultBuildTimeout
	}

	if len(config.Watch.Dirs) == 0 {
		config.Watch.Dirs = []string{config.Site.ContentDir, config.Site.LayoutDir, config.Site.StaticDir}
	}
	if len(config.Watch.Extensions) == 0 {
		config.Watch.Extensions = append([]string(nil), DefaultExtensions...)
	}
	for i, ext := range config.Watch.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		config.Watch.Extensions[i] = ext
	}
	if len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = []string{".git", "node_modules", "*.swp", "*~", ".#*"}
	}
	if config.Watch.PollInterval == 0 {
		config.Watch.PollInterval = DefaultPollInterval
	}

	if config.Reload.Path == "" {
		config.Reload.Path = DefaultReloadPath
	}
	if config.Reload.Debounce == 0 {
		config.Reload.Debounce = DefaultDebounce
	}

	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultPort
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	for name, dir := range map[string]string{
		"site.content_dir": c.Site.ContentDir,
		"site.layout_dir":  c.Site.LayoutDir,
		"site.static_dir":  c.Site.StaticDir,
		"site.output_dir":  c.Site.OutputDir,
		"build.cache_dir":  c.Build.CacheDir,
	} {
		if err := validatePath(dir); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if filepath.Clean(c.Site.OutputDir) == filepath.Clean(c.Site.ContentDir) {
		return fmt.Errorf("site.output_dir must differ from site.content_dir")
	}

	if c.Build.Workers < 0 {
		return fmt.Errorf("build.workers must not be negative, got %d", c.Build.Workers)
	}
	if c.Build.Timeout < 0 {
		return fmt.Errorf("build.timeout must not be negative, got %s", c.Build.Timeout)
	}
	if c.Watch.PollInterval < 10*time.Millisecond {
		return fmt.Errorf("watch.poll_interval must be at least 10ms, got %s", c.Watch.PollInterval)
	}
	if !strings.HasPrefix(c.Reload.Path, "/") {
		return fmt.Errorf("reload.path must start with '/', got %q", c.Reload.Path)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is not in valid range 0-65535", c.Server.Port)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// Addr returns the host:port the dev server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validatePath validates a configured directory path
func validatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path")
	}
	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(path, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	return nil
}
