package services

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/quill/internal/config"
	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/renderer"
)

// ConfigFileName is the configuration file written by InitProject.
const ConfigFileName = ".quill.yml"

// InitService creates new site skeletons.
type InitService struct{}

// NewInitService creates a new initialization service
func NewInitService() *InitService {
	return &InitService{}
}

// InitOptions contains options for project initialization
type InitOptions struct {
	ProjectDir string
	// Minimal skips the sample pages, layout and assets.
	Minimal bool
	// Force overwrites an existing configuration file.
	Force bool
}

// InitProject writes a configuration file and the standard directory
// layout into opts.ProjectDir.
func (s *InitService) InitProject(opts InitOptions) error {
	if opts.ProjectDir == "" {
		opts.ProjectDir = "."
	}
	cfg := config.Default()

	configPath := filepath.Join(opts.ProjectDir, ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !opts.Force {
		return errors.NewConfigError(errors.ErrCodeProjectExists,
			fmt.Sprintf("%s already exists, use --force to overwrite", configPath))
	}

	dirs := []string{
		cfg.Site.ContentDir,
		cfg.Site.LayoutDir,
		filepath.Join(cfg.Site.StaticDir, "css"),
		filepath.Join(cfg.Site.StaticDir, "js"),
	}
	for _, dir := range dirs {
		path := filepath.Join(opts.ProjectDir, dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return errors.WrapIO(err, errors.ErrCodeInternalError, "cannot create directory").WithPath(path)
		}
	}

	if err := s.writeConfig(configPath, cfg); err != nil {
		return err
	}

	if opts.Minimal {
		return nil
	}

	for rel, content := range sampleFiles(cfg) {
		path := filepath.Join(opts.ProjectDir, rel)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.WrapIO(err, errors.ErrCodeInternalError, "cannot create directory").WithPath(path)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return errors.WrapIO(err, errors.ErrCodeInternalError, "cannot write sample file").WithPath(path)
		}
	}

	return nil
}

// initConfig is the subset of the configuration written by InitProject.
// Durations are written in their string form so the file stays readable.
type initConfig struct {
	Site  config.SiteConfig `yaml:"site"`
	Build struct {
		Workers  int    `yaml:"workers"`
		Timeout  string `yaml:"timeout"`
		CacheDir string `yaml:"cache_dir"`
	} `yaml:"build"`
	Reload struct {
		Path     string `yaml:"path"`
		Debounce string `yaml:"debounce"`
	} `yaml:"reload"`
	Server config.ServerConfig `yaml:"server"`
}

func (s *InitService) writeConfig(path string, cfg *config.Config) error {
	var out initConfig
	out.Site = cfg.Site
	out.Build.Workers = cfg.Build.Workers
	out.Build.Timeout = cfg.Build.Timeout.String()
	out.Build.CacheDir = cfg.Build.CacheDir
	out.Reload.Path = cfg.Reload.Path
	out.Reload.Debounce = cfg.Reload.Debounce.String()
	out.Server = cfg.Server

	data, err := yaml.Marshal(&out)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "cannot encode configuration", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapIO(err, errors.ErrCodeInternalError, "cannot write configuration").WithPath(path)
	}
	return nil
}

func sampleFiles(cfg *config.Config) map[string]string {
	files := make(map[string]string)
	files[filepath.Join(cfg.Site.ContentDir, "index.md")] = "Welcome to your new site.\n\nEdit content/index.md and the page reloads.\n"
	files[filepath.Join(cfg.Site.ContentDir, "blog", "hello-world.md")] = "First post.\n"
	files[filepath.Join(cfg.Site.LayoutDir, renderer.DefaultLayout)] = sampleLayout
	files[filepath.Join(cfg.Site.StaticDir, "css", "site.css")] = "body { font-family: sans-serif; max-width: 40rem; margin: 2rem auto; }\n"
	files[filepath.Join(cfg.Site.StaticDir, "js", "site.js")] = "console.debug(\"quill site loaded\");\n"
	return files
}

const sampleLayout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>` + renderer.TitleMarker + `</title>
<link rel="stylesheet" href="/css/site.css">
</head>
<body>
<main>
` + renderer.ContentMarker + `
</main>
<script src="/js/site.js"></script>
</body>
</html>
`
