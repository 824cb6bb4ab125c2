// pkg/handlers/mocks.go
package handlers

import (
	"context"

	"image-optimizer/config"
	"image-optimizer/pkg/models"

	"github.com/stretchr/testify/mock"
)

// MockOptimizer implements ImageOptimizationServiceInterface for testing
type MockOptimizer struct {
	mock.Mock
}

func (m *MockOptimizer) Optimize(ctx context.Context, req models.OptimizationRequest) *models.OptimizedImageResult {
	args := m.Called(ctx, req)
	return args.Get(0).(*models.OptimizedImageResult)
}

func (m *MockOptimizer) OptimizeBatch(ctx context.Context, reqs []models.OptimizationRequest) []*models.OptimizedImageResult {
	args := m.Called(ctx, reqs)
	return args.Get(0).([]*models.OptimizedImageResult)
}

// MockCacheService implements CacheServiceInterface for testing
type MockCacheService struct {
	mock.Mock
}

func (m *MockCacheService) Lookup(req models.OptimizationRequest) (*models.OptimizedImageResult, bool) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*models.OptimizedImageResult), args.Bool(1)
}

func (m *MockCacheService) Store(req models.OptimizationRequest, result *models.OptimizedImageResult) (*models.StoreOutcome, error) {
	args := m.Called(req, result)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StoreOutcome), args.Error(1)
}

func (m *MockCacheService) Exists(req models.OptimizationRequest) bool {
	args := m.Called(req)
	return args.Bool(0)
}

func (m *MockCacheService) Invalidate(req models.OptimizationRequest) (int, error) {
	args := m.Called(req)
	return args.Int(0), args.Error(1)
}

func (m *MockCacheService) InvalidateKey(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func (m *MockCacheService) ListEntries() ([]models.CacheEntry, error) {
	args := m.Called()
	return args.Get(0).([]models.CacheEntry), args.Error(1)
}

func (m *MockCacheService) Summary() models.StorageSummary {
	args := m.Called()
	return args.Get(0).(models.StorageSummary)
}

func (m *MockCacheService) Purge() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *MockCacheService) IsEnabled() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockCacheService) GetBasePath() string {
	args := m.Called()
	return args.String(0)
}

// MockMetricsCollector implements MetricsCollectorInterface for testing
type MockMetricsCollector struct {
	mock.Mock
}

func (m *MockMetricsCollector) Record(result *models.OptimizedImageResult, operationID string) {
	m.Called(result, operationID)
}

func (m *MockMetricsCollector) RecordBatch(results []*models.OptimizedImageResult, operationID string) {
	m.Called(results, operationID)
}

func (m *MockMetricsCollector) RecordFallback(strategy string, success bool) {
	m.Called(strategy, success)
}

func (m *MockMetricsCollector) Snapshot() *models.OptimizationMetrics {
	args := m.Called()
	return args.Get(0).(*models.OptimizationMetrics)
}

func (m *MockMetricsCollector) MonitoringSummary() models.MonitoringSummary {
	args := m.Called()
	return args.Get(0).(models.MonitoringSummary)
}

func (m *MockMetricsCollector) Reset() *models.ArchivedMetrics {
	args := m.Called()
	return args.Get(0).(*models.ArchivedMetrics)
}

func (m *MockMetricsCollector) History() []models.ArchivedMetrics {
	args := m.Called()
	return args.Get(0).([]models.ArchivedMetrics)
}

// MockSettingsService implements SettingsServiceInterface for testing
type MockSettingsService struct {
	mock.Mock
}

func (m *MockSettingsService) Current() config.Policy {
	args := m.Called()
	return args.Get(0).(config.Policy)
}

func (m *MockSettingsService) Update(mutate func(p *config.Policy)) (config.Policy, error) {
	args := m.Called(mutate)
	return args.Get(0).(config.Policy), args.Error(1)
}

func (m *MockSettingsService) Replace(p config.Policy) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *MockSettingsService) Validate(p config.Policy) error {
	args := m.Called(p)
	return args.Error(0)
}

func (m *MockSettingsService) Reset() config.Policy {
	args := m.Called()
	return args.Get(0).(config.Policy)
}

func (m *MockSettingsService) Export() ([]byte, error) {
	args := m.Called()
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockSettingsService) Import(data []byte) (config.Policy, error) {
	args := m.Called(data)
	return args.Get(0).(config.Policy), args.Error(1)
}

// MockRetentionService implements RetentionServiceInterface for testing
type MockRetentionService struct {
	mock.Mock
}

func (m *MockRetentionService) Run(dryRun bool) (*models.RetentionResult, error) {
	args := m.Called(dryRun)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RetentionResult), args.Error(1)
}

func (m *MockRetentionService) IsRunning() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockRetentionService) LastResult() *models.RetentionResult {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*models.RetentionResult)
}

// MockBackupService implements BackupServiceInterface for testing
type MockBackupService struct {
	mock.Mock
}

func (m *MockBackupService) Backup(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackupService) Restore(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
