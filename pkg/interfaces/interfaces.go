package interfaces

import (
	"context"

	"image-optimizer/config"
	"image-optimizer/pkg/models"
)

// SettingsServiceInterface owns the runtime policy. Every mutation is validated
// and a rejected one leaves the active policy untouched.
type SettingsServiceInterface interface {
	Current() config.Policy
	Update(mutate func(p *config.Policy)) (config.Policy, error)
	Replace(p config.Policy) error
	Validate(p config.Policy) error
	Reset() config.Policy
	Export() ([]byte, error)
	Import(data []byte) (config.Policy, error)
}

// MetricsCollectorInterface accumulates optimization statistics for a session
type MetricsCollectorInterface interface {
	Record(result *models.OptimizedImageResult, operationID string)
	RecordBatch(results []*models.OptimizedImageResult, operationID string)
	RecordFallback(strategy string, success bool)
	Snapshot() *models.OptimizationMetrics
	MonitoringSummary() models.MonitoringSummary
	// Reset archives the current snapshot then starts a new session
	Reset() *models.ArchivedMetrics
	History() []models.ArchivedMetrics
}

// MetricsArchive stores snapshots moved out by a reset, newest first
type MetricsArchive interface {
	Push(ctx context.Context, entry models.ArchivedMetrics, limit int) error
	List(ctx context.Context) ([]models.ArchivedMetrics, error)
}

// CacheServiceInterface is the compressed-image cache
type CacheServiceInterface interface {
	// Lookup returns the cached result for a request, technique "cache"
	Lookup(req models.OptimizationRequest) (*models.OptimizedImageResult, bool)
	// Store persists a result atomically. A nil error with Skipped set means
	// the cache degraded to a no-op.
	Store(req models.OptimizationRequest, result *models.OptimizedImageResult) (*models.StoreOutcome, error)
	Exists(req models.OptimizationRequest) bool
	Invalidate(req models.OptimizationRequest) (int, error)
	// InvalidateKey removes one entry and its sidecar by key
	InvalidateKey(key string) error
	ListEntries() ([]models.CacheEntry, error)
	Summary() models.StorageSummary
	Purge() (int, error)
	IsEnabled() bool
	GetBasePath() string
}

// ImageOptimizationServiceInterface is what the document pipeline calls.
// It never returns an error: failures become placeholder results.
type ImageOptimizationServiceInterface interface {
	Optimize(ctx context.Context, req models.OptimizationRequest) *models.OptimizedImageResult
	OptimizeBatch(ctx context.Context, reqs []models.OptimizationRequest) []*models.OptimizedImageResult
}

// RetentionServiceInterface enforces cache size and age limits
type RetentionServiceInterface interface {
	Run(dryRun bool) (*models.RetentionResult, error)
	IsRunning() bool
	LastResult() *models.RetentionResult
}

// BackupServiceInterface copies the cache tree to and from object storage
type BackupServiceInterface interface {
	Backup(ctx context.Context) error
	Restore(ctx context.Context) error
}
