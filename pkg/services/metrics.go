// pkg/services/metrics.go
package service

import (
	"context"
	"sync"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

const archiveTimeout = 3 * time.Second

// promMetrics mirrors the collector for scraping
type promMetrics struct {
	processed     *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	ratio         prometheus.Histogram
	errors        *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	sessionResets prometheus.Counter
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)
	return &promMetrics{
		processed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "image_optimizer",
				Name:      "images_processed_total",
				Help:      "Total number of optimization results by technique and output format",
			},
			[]string{"technique", "format", "status"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "image_optimizer",
				Name:      "bytes_total",
				Help:      "Bytes read from sources and written as optimized output",
			},
			[]string{"kind"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "image_optimizer",
				Name:      "processing_duration_seconds",
				Help:      "Duration of optimizations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"technique"},
		),
		ratio: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "image_optimizer",
				Name:      "compression_ratio",
				Help:      "Distribution of compression ratios of successful optimizations",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "image_optimizer",
				Name:      "errors_total",
				Help:      "Total number of failed optimizations by error category",
			},
			[]string{"category"},
		),
		fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "image_optimizer",
				Name:      "fallback_events_total",
				Help:      "Fallback strategy transitions by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		sessionResets: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "image_optimizer",
				Name:      "metrics_resets_total",
				Help:      "Number of metrics session resets",
			},
		),
	}
}

// MetricsCollector accumulates session statistics. Every method is safe
// for concurrent use.
type MetricsCollector struct {
	mu       sync.Mutex
	current  *models.OptimizationMetrics
	ratioSum float64

	settings interfaces.SettingsServiceInterface
	archive  interfaces.MetricsArchive
	prom     *promMetrics
	log      *utils.Logger
}

// NewMetricsCollector registers its Prometheus collectors on reg (nil skips
// registration, handy in tests). A nil archive keeps history in memory.
func NewMetricsCollector(settings interfaces.SettingsServiceInterface, archive interfaces.MetricsArchive, reg prometheus.Registerer, log *utils.Logger) *MetricsCollector {
	if archive == nil {
		archive = NewMemoryArchive()
	}
	return &MetricsCollector{
		current:  models.NewOptimizationMetrics(),
		settings: settings,
		archive:  archive,
		prom:     newPromMetrics(reg),
		log:      log,
	}
}

func (m *MetricsCollector) monitoring() config.MonitoringConfig {
	if m.settings == nil {
		return config.DefaultPolicy().Optimization.Monitoring
	}
	return m.settings.Current().Optimization.Monitoring
}

func (m *MetricsCollector) tracking() (config.MonitoringConfig, bool) {
	mon := m.monitoring()
	return mon, mon.Enabled && mon.TrackMetrics
}

// Record folds one result into the session
func (m *MetricsCollector) Record(result *models.OptimizedImageResult, operationID string) {
	if result == nil {
		return
	}
	mon, ok := m.tracking()
	if !ok {
		return
	}

	succeeded := result.Succeeded()
	category := result.Metadata.ErrorCategory
	if category == "" && result.Error != "" {
		category = models.CategorizeError(result.Error)
	}

	m.mu.Lock()
	cur := m.current
	cur.TotalImagesProcessed++
	if succeeded {
		cur.SuccessfulOptimizations++
		m.ratioSum += result.CompressionRatio
		cur.AverageCompressionRatio = m.ratioSum / float64(cur.SuccessfulOptimizations)
		if saved := result.OriginalSize - result.OptimizedSize; saved > 0 {
			cur.TotalBytesSaved += saved
		}
	} else {
		cur.FailedOptimizations++
	}
	if result.Metadata.Technique == models.TechniqueCache {
		cur.CacheHits++
	}
	cur.TotalOriginalSize += result.OriginalSize
	cur.TotalOptimizedSize += result.OptimizedSize
	cur.TotalProcessingTimeMs += result.ProcessingTimeMs
	cur.AverageProcessingTimeMs = float64(cur.TotalProcessingTimeMs) / float64(cur.TotalImagesProcessed)

	breakdown(cur.FormatBreakdown, string(result.Format)).Add(result.OriginalSize, result.OptimizedSize)
	breakdown(cur.ContentTypeBreakdown, string(result.Metadata.ContentType)).Add(result.OriginalSize, result.OptimizedSize)
	cur.TechniqueBreakdown[string(result.Metadata.Technique)]++
	if category != "" {
		cur.ErrorCategories[string(category)]++
	}
	cur.LastUpdated = time.Now()
	m.mu.Unlock()

	status := "success"
	if !succeeded {
		status = "failure"
	}
	m.prom.processed.WithLabelValues(string(result.Metadata.Technique), string(result.Format), status).Inc()
	m.prom.bytes.WithLabelValues("original").Add(float64(result.OriginalSize))
	m.prom.bytes.WithLabelValues("optimized").Add(float64(result.OptimizedSize))
	m.prom.duration.WithLabelValues(string(result.Metadata.Technique)).Observe(float64(result.ProcessingTimeMs) / 1000)
	if succeeded {
		m.prom.ratio.Observe(result.CompressionRatio)
	}
	if category != "" {
		m.prom.errors.WithLabelValues(string(category)).Inc()
	}

	if mon.LogResults {
		m.log.WithFunc().WithFields(logrus.Fields{
			"operationId":      operationID,
			"technique":        result.Metadata.Technique,
			"format":           result.Format,
			"originalSize":     result.OriginalSize,
			"optimizedSize":    result.OptimizedSize,
			"compressionRatio": result.CompressionRatio,
			"processingTimeMs": result.ProcessingTimeMs,
			"error":            result.Error,
		}).Info("Optimization result")
	}
}

func (m *MetricsCollector) RecordBatch(results []*models.OptimizedImageResult, operationID string) {
	for _, r := range results {
		m.Record(r, operationID)
	}
}

// RecordFallback counts one strategy transition
func (m *MetricsCollector) RecordFallback(strategy string, success bool) {
	if _, ok := m.tracking(); !ok {
		return
	}

	m.mu.Lock()
	stats, found := m.current.FallbackEvents[strategy]
	if !found {
		stats = &models.FallbackStats{}
		m.current.FallbackEvents[strategy] = stats
	}
	stats.Attempts++
	if success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	m.current.LastUpdated = time.Now()
	m.mu.Unlock()

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.prom.fallbacks.WithLabelValues(strategy, outcome).Inc()
}

// Snapshot returns a deep copy of the session
func (m *MetricsCollector) Snapshot() *models.OptimizationMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

func (m *MetricsCollector) MonitoringSummary() models.MonitoringSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current
	summary := models.MonitoringSummary{
		TotalImagesProcessed:    cur.TotalImagesProcessed,
		AverageCompressionRatio: cur.AverageCompressionRatio,
		AverageProcessingTimeMs: cur.AverageProcessingTimeMs,
		TotalBytesSaved:         cur.TotalBytesSaved,
		LastUpdated:             cur.LastUpdated,
	}
	if cur.TotalImagesProcessed > 0 {
		summary.SuccessRate = float64(cur.SuccessfulOptimizations) / float64(cur.TotalImagesProcessed)
		summary.ErrorRate = float64(cur.FailedOptimizations) / float64(cur.TotalImagesProcessed)
	}
	return summary
}

// Reset archives the session into the capped history and starts a new one.
// An archive failure is logged; the counters are zeroed regardless.
func (m *MetricsCollector) Reset() *models.ArchivedMetrics {
	m.mu.Lock()
	archived := models.ArchivedMetrics{
		ArchivedAt: time.Now(),
		Metrics:    m.current,
	}
	m.current = models.NewOptimizationMetrics()
	m.ratioSum = 0
	m.mu.Unlock()

	m.prom.sessionResets.Inc()

	if limit := m.monitoring().HistorySize; limit > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := m.archive.Push(ctx, archived, limit); err != nil {
			m.log.WithFunc().WithError(err).Warn("Failed to archive metrics snapshot")
		}
	}

	m.log.WithFunc().WithField("processed", archived.Metrics.TotalImagesProcessed).Info("Metrics session reset")
	return &archived
}

// History returns archived sessions, newest first
func (m *MetricsCollector) History() []models.ArchivedMetrics {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	history, err := m.archive.List(ctx)
	if err != nil {
		m.log.WithFunc().WithError(err).Warn("Failed to read metrics history")
		return []models.ArchivedMetrics{}
	}
	return history
}

func breakdown(m map[string]*models.BreakdownStats, key string) *models.BreakdownStats {
	if key == "" {
		key = "unknown"
	}
	b, ok := m[key]
	if !ok {
		b = &models.BreakdownStats{}
		m[key] = b
	}
	return b
}
