// Package build implements quill's incremental build core: the dependency
// cache that decides what is stale, the task scheduler that runs rebuild work
// concurrently, and the SiteBuilder that ties them to the source tree.
package build

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/metrics"
)

// FileRecord is the cache's view of one source file.
type FileRecord struct {
	Path         string    `json:"path" yaml:"path"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
	Dependencies []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Cached       bool      `json:"cached" yaml:"cached"`
	Size         int       `json:"size,omitempty" yaml:"size,omitempty"`
}

// DependencyCache tracks per-file modification timestamps, dependency edges
// and cached build output, and answers whether a path must be rebuilt.
//
// A record exists for a path iff it has a recorded timestamp. The dependency
// graph is expected to be acyclic; cycles are tolerated by treating the
// back-edge as fresh and logging a warning.
type DependencyCache struct {
	mu sync.Mutex

	timestamps map[string]time.Time
	deps       map[string]map[string]struct{}
	dependents map[string]map[string]struct{}
	entries    map[string][]byte

	store   *cacheStore
	stat    func(path string) (time.Time, error)
	logger  logging.Logger
	metrics *metrics.Metrics
}

// CacheOption configures a DependencyCache.
type CacheOption func(*DependencyCache)

// WithCacheMetrics records invalidations on m.
func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *DependencyCache) { c.metrics = m }
}

// WithStatFunc replaces the function used to read a file's modification time.
func WithStatFunc(stat func(path string) (time.Time, error)) CacheOption {
	return func(c *DependencyCache) { c.stat = stat }
}

// NewDependencyCache creates a cache persisted under dir. An empty dir keeps
// the cache in memory only. Persisted sections are loaded immediately; a
// corrupt section is discarded and the rest are still used.
func NewDependencyCache(dir string, logger logging.Logger, opts ...CacheOption) *DependencyCache {
	logger = logging.OrNop(logger).WithComponent("cache")

	c := &DependencyCache{
		timestamps: make(map[string]time.Time),
		deps:       make(map[string]map[string]struct{}),
		dependents: make(map[string]map[string]struct{}),
		entries:    make(map[string][]byte),
		stat:       modTime,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if dir != "" {
		c.store = newCacheStore(dir, logger)
		c.restore(c.store.load(context.Background()))
	}

	return c
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (c *DependencyCache) restore(snap cacheSnapshot) {
	for path, ts := range snap.Timestamps {
		c.timestamps[path] = ts
	}
	for dependent, deps := range snap.Dependencies {
		for _, dep := range deps {
			c.addEdge(dependent, dep)
		}
	}
	for path, out := range snap.Entries {
		c.entries[path] = out
	}
}

// NeedsRebuild reports whether path has no record, changed on disk since it
// was recorded, cannot be stat'ed, or depends on something that needs a
// rebuild.
func (c *DependencyCache) NeedsRebuild(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.needsRebuild(path, make(map[string]struct{}), make(map[string]bool))
}

func (c *DependencyCache) needsRebuild(path string, visiting map[string]struct{}, memo map[string]bool) bool {
	if result, ok := memo[path]; ok {
		return result
	}
	if _, ok := visiting[path]; ok {
		c.logger.Warn(context.Background(), nil, "dependency cycle detected", "path", path)
		return false
	}
	visiting[path] = struct{}{}
	defer delete(visiting, path)

	result := c.stale(path)
	if !result {
		for _, dep := range sortedKeys(c.deps[path]) {
			if c.needsRebuild(dep, visiting, memo) {
				result = true
				break
			}
		}
	}

	memo[path] = result
	return result
}

func (c *DependencyCache) stale(path string) bool {
	recorded, ok := c.timestamps[path]
	if !ok {
		return true
	}
	current, err := c.stat(path)
	if err != nil {
		return true
	}
	return current.After(recorded)
}

// RecordDependency records that dependent is built from dependency.
// Recording the same edge twice has no further effect.
func (c *DependencyCache) RecordDependency(dependent, dependency string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.addEdge(dependent, dependency)
}

func (c *DependencyCache) addEdge(dependent, dependency string) {
	if c.deps[dependent] == nil {
		c.deps[dependent] = make(map[string]struct{})
	}
	c.deps[dependent][dependency] = struct{}{}

	if c.dependents[dependency] == nil {
		c.dependents[dependency] = make(map[string]struct{})
	}
	c.dependents[dependency][dependent] = struct{}{}
}

// ResetDependencies drops every recorded dependency of path, so a fresh set
// can be recorded after a rebuild.
func (c *DependencyCache) ResetDependencies(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropForwardEdges(path)
}

func (c *DependencyCache) dropForwardEdges(path string) {
	for dep := range c.deps[path] {
		delete(c.dependents[dep], path)
		if len(c.dependents[dep]) == 0 {
			delete(c.dependents, dep)
		}
	}
	delete(c.deps, path)
}

// UpdateTimestamp records the current on-disk modification time of path.
// Call it only after path was rebuilt successfully.
func (c *DependencyCache) UpdateTimestamp(path string) error {
	current, err := c.stat(path)
	if err != nil {
		return errors.WrapIO(err, errors.ErrCodeFileNotFound, "cannot read modification time").WithPath(path)
	}

	c.mu.Lock()
	c.timestamps[path] = current
	c.mu.Unlock()

	return nil
}

// Invalidate drops the record, cached output and dependency edges of path.
// Edges from dependents of path are kept so they observe the missing record.
func (c *DependencyCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidate(path)
	c.metrics.AddInvalidations(1)
}

func (c *DependencyCache) invalidate(path string) {
	delete(c.timestamps, path)
	delete(c.entries, path)
	c.dropForwardEdges(path)
}

// InvalidateCascading invalidates path and every file that transitively
// depends on it. It returns the invalidated paths in sorted order.
func (c *DependencyCache) InvalidateCascading(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	visited := make(map[string]struct{})

	var visit func(p string)
	visit = func(p string) {
		if _, ok := visited[p]; ok {
			return
		}
		visited[p] = struct{}{}

		// invalidating a dependent removes it from this set
		next := sortedKeys(c.dependents[p])
		c.invalidate(p)
		for _, dependent := range next {
			visit(dependent)
		}
	}
	visit(path)

	invalidated := sortedKeys(visited)
	c.metrics.AddInvalidations(len(invalidated))
	c.logger.Debug(context.Background(), "cascading invalidation",
		"path", path, "invalidated", len(invalidated))

	return invalidated
}

// Put stores the build output of path.
func (c *DependencyCache) Put(path string, output []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[path] = append([]byte(nil), output...)
}

// Output returns the cached output of path when it can still be trusted.
func (c *DependencyCache) Output(path string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	if c.needsRebuild(path, make(map[string]struct{}), make(map[string]bool)) {
		return nil, false
	}

	return append([]byte(nil), out...), true
}

// Dependencies returns the recorded dependencies of path, sorted.
func (c *DependencyCache) Dependencies(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return sortedKeys(c.deps[path])
}

// Dependents returns the paths that directly depend on path, sorted.
func (c *DependencyCache) Dependents(path string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return sortedKeys(c.dependents[path])
}

// HasRecord reports whether path has a recorded timestamp.
func (c *DependencyCache) HasRecord(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.timestamps[path]
	return ok
}

// Records returns every file record sorted by path.
func (c *DependencyCache) Records() []FileRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	records := make([]FileRecord, 0, len(c.timestamps))
	for _, path := range sortedKeys(c.timestamps) {
		out, cached := c.entries[path]
		records = append(records, FileRecord{
			Path:         path,
			LastModified: c.timestamps[path],
			Dependencies: sortedKeys(c.deps[path]),
			Cached:       cached,
			Size:         len(out),
		})
	}

	return records
}

// Len returns the number of file records.
func (c *DependencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.timestamps)
}

// Clear drops every record, edge and entry. Call Save to persist the result.
func (c *DependencyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timestamps = make(map[string]time.Time)
	c.deps = make(map[string]map[string]struct{})
	c.dependents = make(map[string]map[string]struct{})
	c.entries = make(map[string][]byte)
}

// Purge clears the cache and deletes its persisted sections.
func (c *DependencyCache) Purge() error {
	c.Clear()
	if c.store == nil {
		return nil
	}
	return c.store.remove()
}

// Save persists the cache. It is a no-op for a memory-only cache.
func (c *DependencyCache) Save() error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	snap := cacheSnapshot{
		Timestamps:   make(map[string]time.Time, len(c.timestamps)),
		Dependencies: make(map[string][]string, len(c.deps)),
		Entries:      make(map[string][]byte, len(c.entries)),
	}
	for path, ts := range c.timestamps {
		snap.Timestamps[path] = ts
	}
	for path, deps := range c.deps {
		snap.Dependencies[path] = sortedKeys(deps)
	}
	for path, out := range c.entries {
		snap.Entries[path] = out
	}
	c.mu.Unlock()

	return c.store.save(snap)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
