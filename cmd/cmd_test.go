package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/quill/internal/build"
)

// execute runs the root command with args in a clean configuration state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	viper.Reset()
	cfgFile = ""
	buildClean = false
	initMinimal, initForce = false, false
	cacheClear = false
	require.NoError(t, buildOutput.Set("text"))
	require.NoError(t, cacheOutput.Set("table"))
	require.NoError(t, configFormat.Set("yaml"))
	require.NoError(t, versionFormat.Set("text"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	return out.String(), err
}

func TestInitBuildAndCache(t *testing.T) {
	chdir(t, t.TempDir())

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created a new site")
	assert.FileExists(t, ".quill.yml")

	_, err = execute(t, "init")
	require.Error(t, err)

	out, err = execute(t, "build")
	require.NoError(t, err)
	assert.Contains(t, out, "Built 4, restored 0, skipped 0")
	assert.FileExists(t, filepath.Join("public", "index.html"))
	assert.FileExists(t, filepath.Join("public", "css", "site.css"))

	out, err = execute(t, "build", "-o", "json")
	require.NoError(t, err)
	var report build.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 0, report.Built)
	assert.Equal(t, 4, report.Skipped)

	out, err = execute(t, "cache")
	require.NoError(t, err)
	assert.Contains(t, out, "PATH")
	assert.Contains(t, out, filepath.Join("content", "index.md"))
	assert.Contains(t, out, "records")

	out, err = execute(t, "cache", "-o", "json")
	require.NoError(t, err)
	var records []build.FileRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.NotEmpty(t, records)

	out, err = execute(t, "cache", "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared build cache")

	out, err = execute(t, "cache", "-o", "yaml")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	out, err = execute(t, "build", "--clean")
	require.NoError(t, err)
	assert.Contains(t, out, "Built 4")
}

func TestBuildWithConfigFlag(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, err := execute(t, "init", "--minimal")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join("content", "about.md"), []byte("About us."), 0o644))

	custom := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(custom, []byte("site:\n  output_dir: dist\n"), 0o644))

	_, err = execute(t, "build", "--config", custom)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join("dist", "about.html"))
	assert.NoDirExists(t, "public")
}

func TestConfigShowReadsEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("QUILL_SERVER_PORT", "9999")

	out, err := execute(t, "config", "show", "-o", "json")
	require.NoError(t, err)

	var cfg map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.EqualValues(t, 9999, cfg["Server"]["Port"])
	assert.Equal(t, "content", cfg["Site"]["ContentDir"])
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "quill ")
	assert.Contains(t, out, "Go: ")

	out, err = execute(t, "version", "-o", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "platform")
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "build", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of text, json, yaml")
}

func TestChoice(t *testing.T) {
	c := newChoice("a", "a", "b")
	assert.Equal(t, "a", c.String())
	assert.Equal(t, "string", c.Type())
	require.NoError(t, c.Set("b"))
	assert.Equal(t, "b", c.String())
	require.Error(t, c.Set("c"))
	assert.Equal(t, "b", c.String())
}

func TestWriteStructured(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStructured(&buf, "yaml", map[string]int{"a": 1}))
	assert.Equal(t, "a: 1\n", buf.String())

	buf.Reset()
	require.NoError(t, writeStructured(&buf, "json", map[string]int{"a": 1}))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())

	require.Error(t, writeStructured(&buf, "xml", nil))
}

// chdir changes the working directory to dir for the duration of the test,
// restoring the previous directory on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
