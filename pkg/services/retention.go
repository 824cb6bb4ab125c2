// pkg/services/retention.go
package service

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
)

// Temp files older than this belong to a crashed write
const staleTempAge = time.Hour

// RetentionService enforces the cache ceilings and removes leftovers
type RetentionService struct {
	settings interfaces.SettingsServiceInterface
	cache    *CacheService
	log      *utils.Logger

	mu      sync.Mutex
	running bool
	last    *models.RetentionResult

	diskUsage func(path string) (*disk.UsageStat, error)
	now       func() time.Time
}

// NewRetentionService creates a new retention service
func NewRetentionService(settings interfaces.SettingsServiceInterface, cache *CacheService, log *utils.Logger) *RetentionService {
	return &RetentionService{
		settings:  settings,
		cache:     cache,
		log:       log,
		diskUsage: disk.Usage,
		now:       time.Now,
	}
}

func (r *RetentionService) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RetentionService) LastResult() *models.RetentionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Start runs the retention loop until ctx is cancelled. The interval is
// read again after every run.
func (r *RetentionService) Start(ctx context.Context) {
	for {
		interval := time.Duration(r.settings.Current().Cache.Retention.IntervalMinutes) * time.Minute
		if interval <= 0 {
			r.log.WithFunc().Info("Periodic cache retention disabled")
			return
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !r.settings.Current().Cache.Enabled {
			continue
		}
		if _, err := r.Run(false); err != nil {
			r.log.WithFunc().WithError(err).Warn("Periodic cache retention failed")
		}
	}
}

// Run executes one retention pass. It returns nil, nil when a pass is
// already in progress.
// - removes stale temp files and sidecars without an entry
// - deletes entries older than the max age
// - evicts oldest entries over the file-count ceiling
// - evicts oldest entries down to the target percent of the size ceiling
// - evicts oldest entries while free disk space is under the minimum
func (r *RetentionService) Run(dryRun bool) (*models.RetentionResult, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, nil
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := r.now()
	cfg := r.settings.Current().Cache
	result := &models.RetentionResult{DryRun: dryRun}

	r.log.WithFunc().WithField("dryRun", dryRun).Info("Starting cache retention")

	basePath := r.cache.GetBasePath()
	r.cleanLeftovers(basePath, dryRun, result)

	entries, err := r.cache.ListEntries()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entryTime(entries[i]).Before(entryTime(entries[j]))
	})

	var total int64
	for _, e := range entries {
		total += e.Size
	}

	evict := func(e models.CacheEntry) bool {
		if !dryRun {
			if err := r.cache.InvalidateKey(e.Key); err != nil && !errors.Is(err, fs.ErrNotExist) {
				result.Errors = append(result.Errors, e.Key+": "+err.Error())
				return false
			}
		}
		total -= e.Size
		result.TotalBytesReclaimed += e.Size
		return true
	}

	// Phase 1: age
	kept := make([]models.CacheEntry, 0, len(entries))
	if ret := cfg.Retention; ret.MaxAgeHours > 0 {
		cutoff := start.Add(-time.Duration(ret.MaxAgeHours) * time.Hour)
		for _, e := range entries {
			if entryTime(e).Before(cutoff) {
				r.log.WithFunc().WithFields(logrus.Fields{
					"key":    e.Key,
					"age":    start.Sub(entryTime(e)).Round(time.Minute),
					"dryRun": dryRun,
				}).Debug("Found expired cache entry")
				if evict(e) {
					result.ExpiredDeleted++
					continue
				}
			}
			kept = append(kept, e)
		}
	} else {
		kept = append(kept, entries...)
	}
	entries = kept

	// Phase 2: file count
	if maxFiles := cfg.Retention.MaxFiles; maxFiles > 0 {
		for len(entries) > maxFiles {
			if evict(entries[0]) {
				result.CountEvicted++
			}
			entries = entries[1:]
		}
	}

	// Phase 3: total size, evicted down to the target percent
	if maxSize := cfg.Retention.MaxSizeBytes(); maxSize > 0 && total > maxSize {
		target := maxSize * int64(cfg.Retention.EvictTargetPercent) / 100
		r.log.WithFunc().WithFields(logrus.Fields{
			"totalSize":  total,
			"maxSize":    maxSize,
			"targetSize": target,
		}).Info("Cache over limit, triggering eviction")
		for total > target && len(entries) > 0 {
			if evict(entries[0]) {
				result.SizeEvicted++
			}
			entries = entries[1:]
		}
	}

	// Phase 4: free disk space
	if need := r.bytesToFree(basePath, cfg.Retention); need > 0 {
		var freed int64
		for freed < need && len(entries) > 0 {
			e := entries[0]
			if evict(e) {
				result.DiskEvicted++
				freed += e.Size
			}
			entries = entries[1:]
		}
	}

	result.RemainingEntries = len(entries)
	result.RemainingBytes = total
	result.DurationMs = r.now().Sub(start).Milliseconds()

	r.mu.Lock()
	r.last = result
	r.mu.Unlock()

	r.log.WithFunc().WithFields(logrus.Fields{
		"expired":        result.ExpiredDeleted,
		"countEvicted":   result.CountEvicted,
		"sizeEvicted":    result.SizeEvicted,
		"diskEvicted":    result.DiskEvicted,
		"orphanSidecars": result.OrphanSidecars,
		"staleTempFiles": result.StaleTempFiles,
		"bytesReclaimed": result.TotalBytesReclaimed,
		"durationMs":     result.DurationMs,
		"dryRun":         dryRun,
	}).Info("Cache retention completed")

	return result, nil
}

// bytesToFree returns how much must be deleted to get back above the
// minimum free disk percentage, 0 when nothing is needed
func (r *RetentionService) bytesToFree(basePath string, ret config.RetentionConfig) int64 {
	if ret.MinFreeDiskPercent <= 0 || r.diskUsage == nil {
		return 0
	}
	usage, err := r.diskUsage(basePath)
	if err != nil || usage == nil || usage.Total == 0 {
		if err != nil {
			r.log.WithFunc().WithError(err).Debug("Disk usage unavailable")
		}
		return 0
	}
	wanted := uint64(math.Ceil(float64(usage.Total) * ret.MinFreeDiskPercent / 100))
	if usage.Free >= wanted {
		return 0
	}
	r.log.WithFunc().WithFields(logrus.Fields{
		"free":   usage.Free,
		"wanted": wanted,
	}).Warn("Free disk space under minimum, evicting cache entries")
	return int64(wanted - usage.Free)
}

// cleanLeftovers removes temp files of crashed writes and sidecars whose
// entry is gone
func (r *RetentionService) cleanLeftovers(basePath string, dryRun bool, result *models.RetentionResult) {
	cutoff := r.now().Add(-staleTempAge)
	_ = filepath.WalkDir(basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()

		switch {
		case utils.IsTempFile(name):
			info, err := d.Info()
			if err != nil || info.ModTime().After(cutoff) {
				return nil
			}
			result.StaleTempFiles++
			result.TotalBytesReclaimed += info.Size()
			if !dryRun {
				if err := os.Remove(p); err != nil {
					result.Errors = append(result.Errors, "temp file "+name+": "+err.Error())
				}
			}
		case utils.IsSidecar(name):
			if hasEntryFor(p) {
				return nil
			}
			result.OrphanSidecars++
			if info, err := d.Info(); err == nil {
				result.TotalBytesReclaimed += info.Size()
			}
			if !dryRun {
				if err := os.Remove(p); err != nil {
					result.Errors = append(result.Errors, "sidecar "+name+": "+err.Error())
				}
			}
		}
		return nil
	})
}

func hasEntryFor(sidecarPath string) bool {
	stem := strings.TrimSuffix(sidecarPath, utils.SidecarSuffix)
	for _, f := range lookupFormats {
		if _, err := os.Stat(stem + f.Extension()); err == nil {
			return true
		}
	}
	return false
}

// entryTime prefers the creation time recorded in the sidecar
func entryTime(e models.CacheEntry) time.Time {
	if e.Metadata != nil && !e.Metadata.CreatedAt.IsZero() {
		return e.Metadata.CreatedAt
	}
	return e.ModifiedAt
}
