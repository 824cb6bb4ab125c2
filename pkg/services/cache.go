// pkg/services/cache.go
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Extensions probed on lookup, in order of preference
var lookupFormats = []models.OutputFormat{
	models.FormatJPEG,
	models.FormatPNG,
	models.FormatWebP,
	models.FormatPlaceholder,
}

// memoryEntry is a hot copy of a file; it is only served while the file on
// disk still has the same size and modification time.
type memoryEntry struct {
	result  *models.OptimizedImageResult
	size    int64
	modTime time.Time
}

// CacheService stores optimized images on disk with a JSON sidecar per entry
type CacheService struct {
	settings interfaces.SettingsServiceInterface
	log      *utils.Logger

	mu          sync.Mutex
	pathManager *utils.PathManager
	pathErr     error
	memory      *lru.Cache[string, memoryEntry]
	memorySize  int

	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

// NewCacheService creates the cache. An unusable root is logged, not
// returned: every operation retries it and degrades meanwhile.
func NewCacheService(settings interfaces.SettingsServiceInterface, log *utils.Logger) *CacheService {
	svc := &CacheService{
		settings: settings,
		log:      log,
		now:      time.Now,
	}

	cfg := settings.Current().Cache
	svc.mu.Lock()
	_, err := svc.pathsLocked(cfg)
	svc.syncMemoryLocked(cfg)
	svc.mu.Unlock()

	log.WithFields(logrus.Fields{
		"enabled":       cfg.Enabled,
		"path":          cfg.Path,
		"strategy":      cfg.Strategy,
		"memoryEntries": cfg.MemoryEntries,
		"rootError":     err,
	}).Info("Cache service initialized")

	return svc
}

func (s *CacheService) config() config.CacheConfig {
	return s.settings.Current().Cache
}

// IsEnabled returns whether the cache is enabled
func (s *CacheService) IsEnabled() bool {
	return s.config().Enabled
}

func (s *CacheService) GetBasePath() string {
	pm, _ := s.paths(s.config())
	return pm.GetBasePath()
}

func (s *CacheService) paths(cfg config.CacheConfig) (*utils.PathManager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncMemoryLocked(cfg)
	return s.pathsLocked(cfg)
}

// pathsLocked rebuilds the path manager when the configured root changed or
// the previous attempt to create it failed
func (s *CacheService) pathsLocked(cfg config.CacheConfig) (*utils.PathManager, error) {
	if s.pathManager != nil && s.pathErr == nil && s.pathManager.GetBasePath() == filepath.Join(cfg.Path) {
		return s.pathManager, nil
	}
	if s.pathManager != nil && s.pathManager.GetBasePath() != filepath.Join(cfg.Path) && s.memory != nil {
		s.memory.Purge()
	}
	s.pathManager, s.pathErr = utils.NewPathManager(cfg.Path, s.log)
	return s.pathManager, s.pathErr
}

func (s *CacheService) syncMemoryLocked(cfg config.CacheConfig) {
	if cfg.MemoryEntries == s.memorySize {
		return
	}
	s.memorySize = cfg.MemoryEntries
	if cfg.MemoryEntries <= 0 {
		s.memory = nil
		return
	}
	if s.memory != nil {
		s.memory.Resize(cfg.MemoryEntries)
		return
	}
	mem, err := lru.New[string, memoryEntry](cfg.MemoryEntries)
	if err != nil {
		s.log.WithFunc().WithError(err).Warn("Failed to create in-memory cache layer")
		return
	}
	s.memory = mem
}

func (s *CacheService) memoryGet(key string) (memoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory == nil {
		return memoryEntry{}, false
	}
	return s.memory.Get(key)
}

func (s *CacheService) memoryAdd(key string, entry memoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory != nil {
		s.memory.Add(key, entry)
	}
}

func (s *CacheService) memoryRemove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory != nil {
		s.memory.Remove(key)
	}
}

// candidateKeys lists every key a request may be stored under. The date
// strategy also searches earlier days, newest first.
func (s *CacheService) candidateKeys(pm *utils.PathManager, req models.OptimizationRequest, cfg config.CacheConfig) []models.CacheKey {
	now := s.now()
	keys := make([]models.CacheKey, 0, len(lookupFormats))
	for _, f := range lookupFormats {
		if f == models.FormatPlaceholder && !cfg.CachePlaceholders {
			continue
		}
		keys = append(keys, pm.DeriveKey(req.Source, req.ContentType, f, now, cfg))
	}
	if cfg.Strategy != config.StrategyDate {
		return keys
	}

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k.Key] = true
	}
	var older []models.CacheKey
	for _, k := range keys {
		matches, err := filepath.Glob(filepath.Join(pm.GetBasePath(), "*", "*", "*", k.Stem+k.Ext))
		if err != nil {
			continue
		}
		for _, m := range matches {
			rel, err := pm.GetKeyForPath(m)
			if err != nil || seen[rel] {
				continue
			}
			seen[rel] = true
			older = append(older, models.CacheKey{Key: rel, Dir: path.Dir(rel), Stem: k.Stem, Ext: k.Ext})
		}
	}
	sort.Slice(older, func(i, j int) bool { return older[i].Key > older[j].Key })
	return append(keys, older...)
}

// Lookup returns the cached result for a request
func (s *CacheService) Lookup(req models.OptimizationRequest) (*models.OptimizedImageResult, bool) {
	cfg := s.config()
	if !cfg.Enabled {
		return nil, false
	}
	start := s.now()
	pm, err := s.paths(cfg)
	if err != nil {
		s.misses.Add(1)
		return nil, false
	}

	for _, key := range s.candidateKeys(pm, req, cfg) {
		entryPath := pm.GetEntryPath(key.Key)
		info, err := os.Stat(entryPath)
		if err != nil || info.IsDir() {
			continue
		}

		if mem, ok := s.memoryGet(key.Key); ok && mem.size == info.Size() && mem.modTime.Equal(info.ModTime()) {
			s.hits.Add(1)
			return s.served(mem.result, start), true
		}

		result, err := s.readEntry(pm, key, entryPath, req)
		if err != nil {
			s.log.WithFunc().WithError(err).WithField("path", entryPath).Warn("Failed to read cache entry")
			continue
		}
		s.memoryAdd(key.Key, memoryEntry{result: result, size: info.Size(), modTime: info.ModTime()})
		s.hits.Add(1)
		return s.served(result, start), true
	}

	s.misses.Add(1)
	return nil, false
}

// served copies a stored result; the byte slice is shared and read-only
func (s *CacheService) served(stored *models.OptimizedImageResult, start time.Time) *models.OptimizedImageResult {
	out := *stored
	out.ProcessingTimeMs = s.now().Sub(start).Milliseconds()
	return &out
}

func (s *CacheService) readEntry(pm *utils.PathManager, key models.CacheKey, entryPath string, req models.OptimizationRequest) (*models.OptimizedImageResult, error) {
	data, err := os.ReadFile(entryPath)
	if err != nil {
		return nil, err
	}

	format, _ := models.ParseOutputFormat(key.Ext)
	result := &models.OptimizedImageResult{
		Data:          data,
		OriginalSize:  int64(len(data)),
		OptimizedSize: int64(len(data)),
		Format:        format,
		Metadata: models.ResultMetadata{
			ContentType: req.ContentType,
		},
	}

	if meta, err := readSidecar(pm.GetSidecarPath(entryPath)); err == nil {
		result.OriginalSize = meta.OriginalSize
		result.CompressionRatio = meta.CompressionRatio
		result.Dimensions = meta.Dimensions
		result.Metadata = meta.Metadata
		if meta.Format != "" {
			result.Format = meta.Format
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.log.WithFunc().WithError(err).WithField("path", entryPath).Debug("Ignoring unreadable sidecar")
	}

	if format == models.FormatPlaceholder {
		result.Data = placeholderMarker
		result.Error = "cached placeholder"
	}
	result.OptimizedSize = int64(len(result.Data))
	result.Metadata.Technique = models.TechniqueCache
	result.Metadata.CacheKey = key.Key
	if !result.Metadata.ContentType.IsValid() {
		result.Metadata.ContentType = models.ParseContentType(string(req.ContentType))
	}
	return result, nil
}

func readSidecar(sidecarPath string) (*models.CacheEntryMetadata, error) {
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		return nil, err
	}
	var meta models.CacheEntryMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return &meta, nil
}

// Store writes the result next to a temp file then renames it into place
func (s *CacheService) Store(req models.OptimizationRequest, result *models.OptimizedImageResult) (*models.StoreOutcome, error) {
	cfg := s.config()
	if reason := storeSkipReason(cfg, result); reason != "" {
		return &models.StoreOutcome{Skipped: true, Reason: reason}, nil
	}

	pm, err := s.paths(cfg)
	if err != nil {
		return s.degrade(cfg, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err))
	}

	key := pm.DeriveKey(req.Source, req.ContentType, result.Format, s.now(), cfg)
	if err := utils.ValidateCacheKey(key.Key); err != nil {
		return nil, fmt.Errorf("derived cache key %q: %w", key.Key, err)
	}
	entryPath := pm.GetEntryPath(key.Key)
	outcome := &models.StoreOutcome{Key: key.Key, Path: entryPath}

	data := result.Data
	if result.Format == models.FormatPlaceholder {
		data = placeholderMarker
	}
	if err := writeFileAtomic(entryPath, data); err != nil {
		return s.degrade(cfg, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err))
	}

	s.removeSiblings(pm, key)

	info, statErr := os.Stat(entryPath)
	meta := models.CacheEntryMetadata{
		OriginalPath:     req.Source,
		CompressedPath:   key.Key,
		FileSize:         int64(len(data)),
		CreatedAt:        s.now(),
		CompressionRatio: result.CompressionRatio,
		OriginalSize:     result.OriginalSize,
		OptimizedSize:    result.OptimizedSize,
		Dimensions:       result.Dimensions,
		Format:           result.Format,
		ProcessingTime:   result.ProcessingTimeMs,
		Metadata:         result.Metadata,
	}
	meta.Metadata.CacheKey = key.Key
	if raw, err := json.MarshalIndent(meta, "", "  "); err != nil {
		outcome.SidecarErr = fmt.Errorf("failed to marshal sidecar: %w", err)
	} else if err := writeFileAtomic(pm.GetSidecarPath(entryPath), raw); err != nil {
		outcome.SidecarErr = err
	}

	// un writer concurrent a pu remplacer le fichier entre rename et stat
	if statErr == nil && info.Size() == int64(len(data)) {
		stored := *result
		stored.Data = data
		stored.Metadata.Technique = models.TechniqueCache
		stored.Metadata.CacheKey = key.Key
		if result.Format == models.FormatPlaceholder {
			stored.Error = "cached placeholder"
		}
		s.memoryAdd(key.Key, memoryEntry{result: &stored, size: info.Size(), modTime: info.ModTime()})
	}

	s.log.WithFunc().WithFields(logrus.Fields{
		"key":    key.Key,
		"size":   len(data),
		"format": result.Format,
	}).Debug("Cache entry stored")

	return outcome, nil
}

func storeSkipReason(cfg config.CacheConfig, result *models.OptimizedImageResult) string {
	switch {
	case !cfg.Enabled:
		return "cache disabled"
	case result == nil:
		return "no result"
	case result.Format == models.FormatPlaceholder || result.Metadata.Technique == models.TechniquePlaceholder:
		if !cfg.CachePlaceholders {
			return "placeholders are not cached"
		}
		return ""
	case result.Metadata.Technique == models.TechniqueCache:
		return "result came from the cache"
	case result.Error != "":
		return "failed result"
	case len(result.Data) == 0:
		return "empty result"
	}
	return ""
}

// degrade turns a storage failure into a no-op when graceful degradation is on
func (s *CacheService) degrade(cfg config.CacheConfig, err error) (*models.StoreOutcome, error) {
	if !cfg.GracefulDegradation {
		return nil, err
	}
	s.log.WithFunc().WithError(err).Warn("Cache write skipped")
	return &models.StoreOutcome{Skipped: true, Reason: err.Error()}, nil
}

// removeSiblings deletes entries left by an earlier run under another format
func (s *CacheService) removeSiblings(pm *utils.PathManager, key models.CacheKey) {
	for _, f := range lookupFormats {
		if f.Extension() == key.Ext {
			continue
		}
		siblingKey := path.Join(key.Dir, key.Stem+f.Extension())
		siblingPath := pm.GetEntryPath(siblingKey)
		if err := os.Remove(siblingPath); err == nil {
			s.log.WithFunc().WithField("key", siblingKey).Debug("Removed stale sibling entry")
		} else if !errors.Is(err, fs.ErrNotExist) {
			s.log.WithFunc().WithError(err).WithField("key", siblingKey).Warn("Failed to remove stale sibling entry")
		}
		s.memoryRemove(siblingKey)
	}
}

// writeFileAtomic writes to a temp file in the target directory, checks the
// byte count, syncs and renames over the target
func writeFileAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, utils.TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	n, err := tmp.Write(data)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if n != len(data) {
		cleanup()
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Exists reports whether any candidate entry is on disk, without counting a hit
func (s *CacheService) Exists(req models.OptimizationRequest) bool {
	cfg := s.config()
	if !cfg.Enabled {
		return false
	}
	pm, err := s.paths(cfg)
	if err != nil {
		return false
	}
	for _, key := range s.candidateKeys(pm, req, cfg) {
		if info, err := os.Stat(pm.GetEntryPath(key.Key)); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// Invalidate removes every entry a request may be stored under
func (s *CacheService) Invalidate(req models.OptimizationRequest) (int, error) {
	cfg := s.config()
	pm, err := s.paths(cfg)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	cfg.CachePlaceholders = true
	removed := 0
	for _, key := range s.candidateKeys(pm, req, cfg) {
		if err := s.deleteEntry(pm, key.Key); err == nil {
			removed++
		} else if !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
	}

	s.log.WithFunc().WithFields(logrus.Fields{
		"source":  req.Source,
		"removed": removed,
	}).Info("Cache entries invalidated")
	return removed, nil
}

// InvalidateKey removes one entry and its sidecar
func (s *CacheService) InvalidateKey(key string) error {
	if err := utils.ValidateCacheKey(key); err != nil {
		return err
	}
	pm, err := s.paths(s.config())
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	if err := s.deleteEntry(pm, key); err != nil {
		return err
	}
	s.log.WithFunc().WithField("key", key).Info("Cache entry deleted")
	return nil
}

// deleteEntry removes the bytes file and its sidecar, then empty parents
func (s *CacheService) deleteEntry(pm *utils.PathManager, key string) error {
	entryPath := pm.GetEntryPath(key)
	s.memoryRemove(key)
	if err := os.Remove(entryPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("cache entry %s: %w", key, fs.ErrNotExist)
		}
		return fmt.Errorf("failed to delete cache entry %s: %w", key, err)
	}
	if err := os.Remove(pm.GetSidecarPath(entryPath)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.WithFunc().WithError(err).WithField("key", key).Warn("Failed to delete sidecar")
	}
	cleanEmptyDirs(pm.GetBasePath(), filepath.Dir(entryPath))
	return nil
}

// cleanEmptyDirs removes empty directories up to the cache root
func cleanEmptyDirs(root, dir string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// ListEntries walks the cache root. Sidecars and in-flight temp files are not entries.
func (s *CacheService) ListEntries() ([]models.CacheEntry, error) {
	pm, err := s.paths(s.config())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	entries := []models.CacheEntry{}
	err = filepath.WalkDir(pm.GetBasePath(), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == pm.GetBasePath() {
				return err
			}
			return nil
		}
		if d.IsDir() || utils.IsSidecar(d.Name()) || utils.IsTempFile(d.Name()) {
			return nil
		}
		key, err := pm.GetKeyForPath(p)
		if err != nil || utils.ValidateCacheKey(key) != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		entry := models.CacheEntry{
			Key:        key,
			Path:       p,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		}
		sidecar := pm.GetSidecarPath(p)
		if meta, err := readSidecar(sidecar); err == nil {
			entry.SidecarPath = sidecar
			entry.Metadata = meta
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entries, nil
		}
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Summary computes the storage state for operators
func (s *CacheService) Summary() models.StorageSummary {
	cfg := s.config()
	summary := models.StorageSummary{
		Enabled: cfg.Enabled,
		MaxSize: cfg.Retention.MaxSizeBytes(),
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}

	entries, err := s.ListEntries()
	if err != nil {
		s.log.WithFunc().WithError(err).Warn("Failed to list cache entries for summary")
	}
	var ratioSum float64
	var withMeta int
	for _, e := range entries {
		summary.TotalSize += e.Size
		if e.Metadata != nil {
			ratioSum += e.Metadata.CompressionRatio
			withMeta++
		}
	}
	summary.EntryCount = len(entries)
	if withMeta > 0 {
		summary.AverageCompressionRatio = ratioSum / float64(withMeta)
	}
	summary.CalculateHitRate()
	summary.CalculateUsagePercent()
	return summary
}

// Purge removes every entry, sidecar and temp file but keeps the root
func (s *CacheService) Purge() (int, error) {
	pm, err := s.paths(s.config())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}

	s.log.WithFunc().Info("Purging image cache")

	root := pm.GetBasePath()
	children, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache root: %w", err)
	}

	removed := 0
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && !utils.IsSidecar(d.Name()) && !utils.IsTempFile(d.Name()) {
			removed++
		}
		return nil
	})

	for _, child := range children {
		if err := os.RemoveAll(filepath.Join(root, child.Name())); err != nil {
			return removed, fmt.Errorf("failed to purge %s: %w", child.Name(), err)
		}
	}

	s.mu.Lock()
	if s.memory != nil {
		s.memory.Purge()
	}
	s.mu.Unlock()

	s.log.WithFunc().WithField("removed", removed).Info("Cache purged successfully")
	return removed, nil
}
