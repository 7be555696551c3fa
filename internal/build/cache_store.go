package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
)

const (
	cacheFormatVersion = 1

	timestampsFile   = "timestamps.json"
	dependenciesFile = "dependencies.json"
	entriesFile      = "entries.json.zst"
)

// cacheSnapshot is the persisted form of a DependencyCache.
type cacheSnapshot struct {
	Timestamps   map[string]time.Time
	Dependencies map[string][]string
	Entries      map[string][]byte
}

// envelope wraps every section with a format version and payload checksum.
type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// cacheStore reads and writes the cache sections under one directory. Each
// section loads on its own, so corruption in one does not cost the others.
type cacheStore struct {
	dir    string
	logger logging.Logger
}

func newCacheStore(dir string, logger logging.Logger) *cacheStore {
	return &cacheStore{dir: dir, logger: logger}
}

func (s *cacheStore) load(ctx context.Context) cacheSnapshot {
	snap := cacheSnapshot{
		Timestamps:   make(map[string]time.Time),
		Dependencies: make(map[string][]string),
		Entries:      make(map[string][]byte),
	}

	if err := s.readSection(timestampsFile, false, &snap.Timestamps); err != nil {
		s.logger.Warn(ctx, err, "discarding cache section", "section", timestampsFile)
		snap.Timestamps = make(map[string]time.Time)
	}
	if err := s.readSection(dependenciesFile, false, &snap.Dependencies); err != nil {
		s.logger.Warn(ctx, err, "discarding cache section", "section", dependenciesFile)
		snap.Dependencies = make(map[string][]string)
	}
	if err := s.readSection(entriesFile, true, &snap.Entries); err != nil {
		s.logger.Warn(ctx, err, "discarding cache section", "section", entriesFile)
		snap.Entries = make(map[string][]byte)
	}

	s.logger.Debug(ctx, "cache loaded",
		"dir", s.dir,
		"records", len(snap.Timestamps),
		"edges", len(snap.Dependencies),
		"entries", len(snap.Entries))

	return snap
}

func (s *cacheStore) save(snap cacheSnapshot) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot create cache directory").WithPath(s.dir)
	}

	if err := s.writeSection(timestampsFile, false, snap.Timestamps); err != nil {
		return err
	}
	if err := s.writeSection(dependenciesFile, false, snap.Dependencies); err != nil {
		return err
	}
	return s.writeSection(entriesFile, true, snap.Entries)
}

// remove deletes every section file.
func (s *cacheStore) remove() error {
	for _, name := range []string{timestampsFile, dependenciesFile, entriesFile} {
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !os.IsNotExist(err) {
			return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot remove cache section").WithPath(name)
		}
	}
	return nil
}

// readSection decodes a section into target. A missing file leaves target
// untouched and is not an error.
func (s *cacheStore) readSection(name string, compressed bool, target any) error {
	path := filepath.Join(s.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errors.WrapCache(err, errors.ErrCodeCacheCorrupt, "cannot read cache section").WithPath(path)
	}

	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return errors.WrapCache(err, errors.ErrCodeCacheCorrupt, "cannot create decoder").WithPath(path)
		}
		data, err = dec.DecodeAll(data, nil)
		dec.Close()
		if err != nil {
			return errors.WrapCache(err, errors.ErrCodeCacheCorrupt, "cannot decompress cache section").WithPath(path)
		}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return errors.WrapCache(err, errors.ErrCodeCacheCorrupt, "malformed cache section").WithPath(path)
	}
	if env.Version != cacheFormatVersion {
		return errors.NewCacheError(errors.ErrCodeCacheCorrupt,
			fmt.Sprintf("unsupported cache format version %d", env.Version), nil).WithPath(path)
	}
	if sum := checksum(env.Payload); sum != env.Checksum {
		return errors.NewCacheError(errors.ErrCodeCacheCorrupt,
			fmt.Sprintf("checksum mismatch: want %s, got %s", env.Checksum, sum), nil).WithPath(path)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return errors.WrapCache(err, errors.ErrCodeCacheCorrupt, "malformed cache payload").WithPath(path)
	}

	return nil
}

func (s *cacheStore) writeSection(name string, compressed bool, payload any) error {
	path := filepath.Join(s.dir, name)

	raw, err := marshalJSON(payload)
	if err != nil {
		return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot encode cache section").WithPath(path)
	}
	data, err := marshalJSON(envelope{
		Version:  cacheFormatVersion,
		Checksum: checksum(raw),
		Payload:  raw,
	})
	if err != nil {
		return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot encode cache envelope").WithPath(path)
	}

	if compressed {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot create encoder").WithPath(path)
		}
		data = enc.EncodeAll(data, nil)
		if err := enc.Close(); err != nil {
			return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot close encoder").WithPath(path)
		}
	}

	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot create temp file").WithPath(path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot write cache section").WithPath(path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot write cache section").WithPath(path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.WrapCache(err, errors.ErrCodeCacheWrite, "cannot replace cache section").WithPath(path)
	}

	return nil
}

// marshalJSON encodes v without HTML escaping so an embedded payload keeps
// the exact bytes its checksum was computed over.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func checksum(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}
