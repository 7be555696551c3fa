package services

import (
	"github.com/conneroisu/quill/internal/build"
	"github.com/conneroisu/quill/internal/config"
	"github.com/conneroisu/quill/internal/logging"
)

// CacheService inspects and clears the persisted dependency cache.
type CacheService struct {
	config *config.Config
	logger logging.Logger
}

// NewCacheService creates a new cache service.
func NewCacheService(cfg *config.Config, logger logging.Logger) *CacheService {
	return &CacheService{config: cfg, logger: logging.OrNop(logger)}
}

// Records loads the persisted cache and returns its records sorted by path.
func (s *CacheService) Records() []build.FileRecord {
	return s.open().Records()
}

// Clear removes every record and the persisted cache files.
func (s *CacheService) Clear() error {
	return s.open().Purge()
}

func (s *CacheService) open() *build.DependencyCache {
	return build.NewDependencyCache(s.config.Build.CacheDir, s.logger)
}
