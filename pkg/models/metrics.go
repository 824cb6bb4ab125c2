// pkg/models/metrics.go
package models

import "time"

// BreakdownStats aggregates results sharing a format or content type
type BreakdownStats struct {
	Count            int64   `json:"count"`
	OriginalSize     int64   `json:"originalSize"`
	OptimizedSize    int64   `json:"optimizedSize"`
	CompressionRatio float64 `json:"compressionRatio"`
}

// Add folds one result into the breakdown and refreshes the aggregate ratio
func (b *BreakdownStats) Add(original, optimized int64) {
	b.Count++
	b.OriginalSize += original
	b.OptimizedSize += optimized
	b.CompressionRatio = CompressionRatio(b.OriginalSize, b.OptimizedSize)
}

// FallbackStats counts how often a degradation path fired and how it ended
type FallbackStats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// OptimizationMetrics is the session-scoped accumulator
type OptimizationMetrics struct {
	TotalImagesProcessed    int64                      `json:"totalImagesProcessed"`
	SuccessfulOptimizations int64                      `json:"successfulOptimizations"`
	FailedOptimizations     int64                      `json:"failedOptimizations"`
	CacheHits               int64                      `json:"cacheHits"`
	TotalOriginalSize       int64                      `json:"totalOriginalSize"`
	TotalOptimizedSize      int64                      `json:"totalOptimizedSize"`
	TotalBytesSaved         int64                      `json:"totalBytesSaved"`
	TotalProcessingTimeMs   int64                      `json:"totalProcessingTimeMs"`
	AverageProcessingTimeMs float64                    `json:"averageProcessingTimeMs"`
	AverageCompressionRatio float64                    `json:"averageCompressionRatio"`
	FormatBreakdown         map[string]*BreakdownStats `json:"formatBreakdown"`
	ContentTypeBreakdown    map[string]*BreakdownStats `json:"contentTypeBreakdown"`
	TechniqueBreakdown      map[string]int64           `json:"techniqueBreakdown"`
	ErrorCategories         map[string]int64           `json:"errorCategories"`
	FallbackEvents          map[string]*FallbackStats  `json:"fallbackEvents"`
	SessionStartedAt        time.Time                  `json:"sessionStartedAt"`
	LastUpdated             time.Time                  `json:"lastUpdated"`
}

// NewOptimizationMetrics returns an empty session started now
func NewOptimizationMetrics() *OptimizationMetrics {
	now := time.Now()
	return &OptimizationMetrics{
		FormatBreakdown:      map[string]*BreakdownStats{},
		ContentTypeBreakdown: map[string]*BreakdownStats{},
		TechniqueBreakdown:   map[string]int64{},
		ErrorCategories:      map[string]int64{},
		FallbackEvents:       map[string]*FallbackStats{},
		SessionStartedAt:     now,
		LastUpdated:          now,
	}
}

// Clone deep-copies the metrics so snapshots never alias live maps
func (m *OptimizationMetrics) Clone() *OptimizationMetrics {
	out := *m
	out.FormatBreakdown = make(map[string]*BreakdownStats, len(m.FormatBreakdown))
	for k, v := range m.FormatBreakdown {
		b := *v
		out.FormatBreakdown[k] = &b
	}
	out.ContentTypeBreakdown = make(map[string]*BreakdownStats, len(m.ContentTypeBreakdown))
	for k, v := range m.ContentTypeBreakdown {
		b := *v
		out.ContentTypeBreakdown[k] = &b
	}
	out.TechniqueBreakdown = make(map[string]int64, len(m.TechniqueBreakdown))
	for k, v := range m.TechniqueBreakdown {
		out.TechniqueBreakdown[k] = v
	}
	out.ErrorCategories = make(map[string]int64, len(m.ErrorCategories))
	for k, v := range m.ErrorCategories {
		out.ErrorCategories[k] = v
	}
	out.FallbackEvents = make(map[string]*FallbackStats, len(m.FallbackEvents))
	for k, v := range m.FallbackEvents {
		f := *v
		out.FallbackEvents[k] = &f
	}
	return &out
}

// MonitoringSummary is the compact view exposed to operational tooling
type MonitoringSummary struct {
	TotalImagesProcessed    int64     `json:"totalImagesProcessed"`
	SuccessRate             float64   `json:"successRate"`
	ErrorRate               float64   `json:"errorRate"`
	AverageCompressionRatio float64   `json:"avgCompressionRatio"`
	AverageProcessingTimeMs float64   `json:"avgProcessingTime"`
	TotalBytesSaved         int64     `json:"totalBytesSaved"`
	LastUpdated             time.Time `json:"lastUpdated"`
}

// ArchivedMetrics is a snapshot moved to history by a reset
type ArchivedMetrics struct {
	ArchivedAt time.Time            `json:"archivedAt"`
	Metrics    *OptimizationMetrics `json:"metrics"`
}
