// pkg/models/cache.go
package models

import "time"

// CacheEntryMetadata is the JSON sidecar stored next to each cached image
type CacheEntryMetadata struct {
	OriginalPath     string         `json:"originalPath"`
	CompressedPath   string         `json:"compressedPath"`
	FileSize         int64          `json:"fileSize"`
	CreatedAt        time.Time      `json:"createdAt"`
	CompressionRatio float64        `json:"compressionRatio"`
	OriginalSize     int64          `json:"originalSize"`
	OptimizedSize    int64          `json:"optimizedSize"`
	Dimensions       Dimensions     `json:"dimensions"`
	Format           OutputFormat   `json:"format"`
	ProcessingTime   int64          `json:"processingTime"`
	Metadata         ResultMetadata `json:"metadata"`
}

// CacheKey is the deterministic location of an entry inside the cache root
type CacheKey struct {
	// Key is the relative path of the bytes file, slash separated
	Key string `json:"key"`
	// Dir is the relative directory ("" for the flat strategy)
	Dir string `json:"dir"`
	// Stem is the file name without extension, shared by the sidecar
	Stem string `json:"stem"`
	// Ext includes the leading dot
	Ext string `json:"ext"`
}

// CacheEntry describes one entry found on disk
type CacheEntry struct {
	Key         string              `json:"key"`
	Path        string              `json:"path"`
	SidecarPath string              `json:"sidecarPath,omitempty"`
	Size        int64               `json:"size"`
	ModifiedAt  time.Time           `json:"modifiedAt"`
	Metadata    *CacheEntryMetadata `json:"metadata,omitempty"`
}

// StoreOutcome reports what a cache write did. SidecarErr is informative only:
// the bytes file is valid even when the sidecar could not be written.
type StoreOutcome struct {
	Key        string `json:"key"`
	Path       string `json:"path"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
	SidecarErr error  `json:"-"`
}

// StorageSummary represents the overall cache state for operators
type StorageSummary struct {
	Enabled                 bool    `json:"enabled"`
	TotalSize               int64   `json:"totalSize"`
	MaxSize                 int64   `json:"maxSize"`
	EntryCount              int     `json:"entryCount"`
	Hits                    int64   `json:"hits"`
	Misses                  int64   `json:"misses"`
	HitRate                 float64 `json:"hitRate"`
	AverageCompressionRatio float64 `json:"averageCompressionRatio"`
	UsagePercent            float64 `json:"usagePercent"`
}

// CalculateUsagePercent calculates and sets the usage percentage
func (ss *StorageSummary) CalculateUsagePercent() {
	if ss.MaxSize > 0 {
		ss.UsagePercent = float64(ss.TotalSize) / float64(ss.MaxSize) * 100
	} else {
		ss.UsagePercent = 0
	}
}

// CalculateHitRate derives the reuse rate from hit/miss counters
func (ss *StorageSummary) CalculateHitRate() {
	if total := ss.Hits + ss.Misses; total > 0 {
		ss.HitRate = float64(ss.Hits) / float64(total)
	} else {
		ss.HitRate = 0
	}
}

// RetentionResult contains the results of a retention run
type RetentionResult struct {
	ExpiredDeleted      int      `json:"expiredDeleted"`
	CountEvicted        int      `json:"countEvicted"`
	SizeEvicted         int      `json:"sizeEvicted"`
	DiskEvicted         int      `json:"diskEvicted"`
	OrphanSidecars      int      `json:"orphanSidecars"`
	StaleTempFiles      int      `json:"staleTempFiles"`
	TotalBytesReclaimed int64    `json:"totalBytesReclaimed"`
	RemainingEntries    int      `json:"remainingEntries"`
	RemainingBytes      int64    `json:"remainingBytes"`
	DryRun              bool     `json:"dryRun"`
	DurationMs          int64    `json:"durationMs"`
	Errors              []string `json:"errors,omitempty"`
}
