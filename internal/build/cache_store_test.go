package build

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/quill/internal/logging"
)

func populatedCache(t *testing.T, dir string, fs *fakeFS) *DependencyCache {
	t.Helper()

	fs.touch("content/post.md", "layouts/blog.html", "static/site.css")
	c := NewDependencyCache(dir, logging.NewNop(), WithStatFunc(fs.stat))

	c.RecordDependency("content/post.md", "layouts/blog.html")
	for _, p := range []string{"content/post.md", "layouts/blog.html", "static/site.css"} {
		require.NoError(t, c.UpdateTimestamp(p))
	}
	c.Put("content/post.md", []byte("<h1>post</h1>"))
	require.NoError(t, c.Save())

	return c
}

func TestCacheStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := newFakeFS()
	original := populatedCache(t, dir, fs)

	for _, name := range []string{timestampsFile, dependenciesFile, entriesFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	loaded := NewDependencyCache(dir, logging.NewNop(), WithStatFunc(fs.stat))

	want, got := original.Records(), loaded.Records()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Path, got[i].Path)
		assert.True(t, want[i].LastModified.Equal(got[i].LastModified), want[i].Path)
		assert.Equal(t, want[i].Dependencies, got[i].Dependencies)
		assert.Equal(t, want[i].Cached, got[i].Cached)
	}
	assert.Equal(t, []string{"content/post.md"}, loaded.Dependents("layouts/blog.html"))
	assert.False(t, loaded.NeedsRebuild("content/post.md"))

	out, ok := loaded.Output("content/post.md")
	require.True(t, ok)
	assert.Equal(t, "<h1>post</h1>", string(out))
}

func TestCacheStoreEnvelope(t *testing.T) {
	dir := t.TempDir()
	populatedCache(t, dir, newFakeFS())

	data, err := os.ReadFile(filepath.Join(dir, timestampsFile))
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, cacheFormatVersion, env.Version)
	assert.Equal(t, checksum(env.Payload), env.Checksum)

	var timestamps map[string]time.Time
	require.NoError(t, json.Unmarshal(env.Payload, &timestamps))
	assert.Len(t, timestamps, 3)

	// the entries section is not plain JSON
	compressed, err := os.ReadFile(filepath.Join(dir, entriesFile))
	require.NoError(t, err)
	assert.False(t, json.Valid(compressed))
}

func TestCacheStoreSectionCorruptionIsIsolated(t *testing.T) {
	tests := []struct {
		name    string
		section string
		corrupt func(t *testing.T, path string)
		check   func(t *testing.T, c *DependencyCache)
	}{
		{
			name:    "garbage timestamps",
			section: timestampsFile,
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
			},
			check: func(t *testing.T, c *DependencyCache) {
				assert.Equal(t, 0, c.Len())
				assert.Equal(t, []string{"layouts/blog.html"}, c.Dependencies("content/post.md"))
				assert.True(t, c.NeedsRebuild("content/post.md"))
			},
		},
		{
			name:    "checksum mismatch in dependencies",
			section: dependenciesFile,
			corrupt: func(t *testing.T, path string) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				data = bytes.Replace(data, []byte("layouts/blog.html"), []byte("layouts/evil.html"), 1)
				require.NoError(t, os.WriteFile(path, data, 0o644))
			},
			check: func(t *testing.T, c *DependencyCache) {
				assert.Equal(t, 3, c.Len())
				assert.Empty(t, c.Dependencies("content/post.md"))
				assert.Empty(t, c.Dependents("layouts/evil.html"))
			},
		},
		{
			name:    "truncated entries",
			section: entriesFile,
			corrupt: func(t *testing.T, path string) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0o644))
			},
			check: func(t *testing.T, c *DependencyCache) {
				assert.Equal(t, 3, c.Len())
				assert.False(t, c.NeedsRebuild("content/post.md"))
				_, ok := c.Output("content/post.md")
				assert.False(t, ok)
			},
		},
		{
			name:    "unknown version",
			section: timestampsFile,
			corrupt: func(t *testing.T, path string) {
				payload := []byte(`{}`)
				data, err := json.Marshal(envelope{Version: 99, Checksum: checksum(payload), Payload: payload})
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data, 0o644))
			},
			check: func(t *testing.T, c *DependencyCache) {
				assert.Equal(t, 0, c.Len())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			fs := newFakeFS()
			populatedCache(t, dir, fs)

			tt.corrupt(t, filepath.Join(dir, tt.section))

			loaded := NewDependencyCache(dir, logging.NewNop(), WithStatFunc(fs.stat))
			tt.check(t, loaded)
		})
	}
}

func TestCacheStoreMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist")

	c := NewDependencyCache(dir, logging.NewNop())
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Save())
	assert.DirExists(t, dir)
}

func TestCachePurge(t *testing.T) {
	dir := t.TempDir()
	c := populatedCache(t, dir, newFakeFS())

	require.NoError(t, c.Purge())
	assert.Equal(t, 0, c.Len())
	assert.NoFileExists(t, filepath.Join(dir, timestampsFile))
	assert.NoFileExists(t, filepath.Join(dir, entriesFile))

	// purging twice is fine
	require.NoError(t, c.Purge())
}

func TestCacheStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	c := populatedCache(t, dir, newFakeFS())
	require.NoError(t, c.Save())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	s := newCacheStore(dir, logging.NewNop())
	snap := s.load(context.Background())
	assert.Len(t, snap.Timestamps, 3)
}
