package config

import (
	"errors"
	"fmt"
	"strings"

	"image-optimizer/pkg/models"
)

// QualityRange is a min/default/max quality triple for one output format
type QualityRange struct {
	Min     int `yaml:"min" json:"min"`
	Default int `yaml:"default" json:"default"`
	Max     int `yaml:"max" json:"max"`
}

// Clamp bounds q to the range
func (q QualityRange) Clamp(v int) int {
	if v < q.Min {
		return q.Min
	}
	if v > q.Max {
		return q.Max
	}
	return v
}

// AggressiveConfig holds the dimension bounds. MaxWidth/MaxHeight apply in
// aggressive mode; ForceOptimize* is the standard-mode ceiling and the hard
// cap for content-type multipliers.
type AggressiveConfig struct {
	Enabled             bool `yaml:"enabled" json:"enabled"`
	MaxWidth            int  `yaml:"maxWidth" json:"maxWidth"`
	MaxHeight           int  `yaml:"maxHeight" json:"maxHeight"`
	MinWidth            int  `yaml:"minWidth" json:"minWidth"`
	MinHeight           int  `yaml:"minHeight" json:"minHeight"`
	ForceOptimizeWidth  int  `yaml:"forceOptimizeWidth" json:"forceOptimizeWidth"`
	ForceOptimizeHeight int  `yaml:"forceOptimizeHeight" json:"forceOptimizeHeight"`
}

type QualityConfig struct {
	JPEG QualityRange `yaml:"jpeg" json:"jpeg"`
	PNG  QualityRange `yaml:"png" json:"png"`
	WebP QualityRange `yaml:"webp" json:"webp"`
}

// For returns the range for an output format (jpeg for anything unknown)
func (q QualityConfig) For(format models.OutputFormat) QualityRange {
	switch format {
	case models.FormatPNG:
		return q.PNG
	case models.FormatWebP:
		return q.WebP
	default:
		return q.JPEG
	}
}

type CompressionConfig struct {
	// Level 0..9, mapped onto the PNG encoder levels
	Level           int    `yaml:"level" json:"level"`
	PreferredFormat string `yaml:"preferredFormat" json:"preferredFormat"`
}

type FallbackConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	MaxRetries int  `yaml:"maxRetries" json:"maxRetries"`
	TimeoutMs  int  `yaml:"timeoutMs" json:"timeoutMs"`
}

type MonitoringConfig struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	TrackMetrics bool `yaml:"trackMetrics" json:"trackMetrics"`
	LogResults   bool `yaml:"logResults" json:"logResults"`
	HistorySize  int  `yaml:"historySize" json:"historySize"`
}

// ContentTypePolicy tunes quality and scaling for one content-type hint
type ContentTypePolicy struct {
	Quality             int     `yaml:"quality" json:"quality"`
	PreserveSharpness   bool    `yaml:"preserveSharpness" json:"preserveSharpness"`
	AllowAggressive     bool    `yaml:"allowAggressive" json:"allowAggressive"`
	DimensionMultiplier float64 `yaml:"dimensionMultiplier" json:"dimensionMultiplier"`
}

type ValidationConfig struct {
	MinSizeReduction     float64 `yaml:"minSizeReduction" json:"minSizeReduction"`
	AspectRatioTolerance float64 `yaml:"aspectRatioTolerance" json:"aspectRatioTolerance"`
	MinTextDimension     int     `yaml:"minTextDimension" json:"minTextDimension"`
	MinConfidence        float64 `yaml:"minConfidence" json:"minConfidence"`
}

type SourceConfig struct {
	TimeoutMs int   `yaml:"timeoutMs" json:"timeoutMs"`
	MaxBytes  int64 `yaml:"maxBytes" json:"maxBytes"`
	MaxPixels int64 `yaml:"maxPixels" json:"maxPixels"`
}

type BatchConfig struct {
	MaxConcurrent int `yaml:"maxConcurrent" json:"maxConcurrent"`
}

// OptimizationConfig is the transcoding policy
type OptimizationConfig struct {
	Aggressive   AggressiveConfig                         `yaml:"aggressive" json:"aggressive"`
	Quality      QualityConfig                            `yaml:"quality" json:"quality"`
	Compression  CompressionConfig                        `yaml:"compression" json:"compression"`
	Fallback     FallbackConfig                           `yaml:"fallback" json:"fallback"`
	Monitoring   MonitoringConfig                         `yaml:"monitoring" json:"monitoring"`
	ContentTypes map[models.ContentType]ContentTypePolicy `yaml:"contentTypes" json:"contentTypes"`
	Validation   ValidationConfig                         `yaml:"validation" json:"validation"`
	Source       SourceConfig                             `yaml:"source" json:"source"`
	Batch        BatchConfig                              `yaml:"batch" json:"batch"`
}

// ContentTypePolicy returns the policy for ct, falling back to photo
func (o OptimizationConfig) ContentTypePolicy(ct models.ContentType) ContentTypePolicy {
	if p, ok := o.ContentTypes[ct]; ok {
		return p
	}
	if p, ok := o.ContentTypes[models.ContentTypePhoto]; ok {
		return p
	}
	return ContentTypePolicy{Quality: o.Quality.JPEG.Default, DimensionMultiplier: 1}
}

// RetentionConfig bounds the cache size on disk. Zero disables a threshold.
type RetentionConfig struct {
	MaxAgeHours        int     `yaml:"maxAgeHours" json:"maxAgeHours"`
	MaxSizeMB          int64   `yaml:"maxSizeMB" json:"maxSizeMB"`
	MaxFiles           int     `yaml:"maxFiles" json:"maxFiles"`
	MinFreeDiskPercent float64 `yaml:"minFreeDiskPercent" json:"minFreeDiskPercent"`
	EvictTargetPercent int     `yaml:"evictTargetPercent" json:"evictTargetPercent"`
	IntervalMinutes    int     `yaml:"intervalMinutes" json:"intervalMinutes"`
}

// MaxSizeBytes converts the ceiling to bytes
func (r RetentionConfig) MaxSizeBytes() int64 {
	return r.MaxSizeMB * 1024 * 1024
}

// Cache directory strategies
const (
	StrategyFlat        = "flat"
	StrategyContentType = "content-type"
	StrategyDate        = "date"
	StrategyMirror      = "mirror"
)

// Hash algorithms for cache keys
const (
	HashNone   = "none"
	HashMD5    = "md5"
	HashSHA1   = "sha1"
	HashSHA256 = "sha256"
)

// CacheConfig defines the compressed-image cache
type CacheConfig struct {
	Enabled             bool            `yaml:"enabled" json:"enabled"`
	Path                string          `yaml:"path" json:"path"`
	Strategy            string          `yaml:"strategy" json:"strategy"`
	HashAlgorithm       string          `yaml:"hashAlgorithm" json:"hashAlgorithm"`
	HashLength          int             `yaml:"hashLength" json:"hashLength"`
	MaxBasenameLength   int             `yaml:"maxBasenameLength" json:"maxBasenameLength"`
	StripPrefixes       []string        `yaml:"stripPrefixes" json:"stripPrefixes"`
	GracefulDegradation bool            `yaml:"gracefulDegradation" json:"gracefulDegradation"`
	MemoryEntries       int             `yaml:"memoryEntries" json:"memoryEntries"`
	CachePlaceholders   bool            `yaml:"cachePlaceholders" json:"cachePlaceholders"`
	Retention           RetentionConfig `yaml:"retention" json:"retention"`
}

// Policy is everything that can be changed at runtime through the settings service
type Policy struct {
	Optimization OptimizationConfig `yaml:"optimization" json:"optimization"`
	Cache        CacheConfig        `yaml:"cache" json:"cache"`
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() Policy {
	return Policy{
		Optimization: OptimizationConfig{
			Aggressive: AggressiveConfig{
				Enabled:             true,
				MaxWidth:            300,
				MaxHeight:           300,
				MinWidth:            50,
				MinHeight:           50,
				ForceOptimizeWidth:  800,
				ForceOptimizeHeight: 800,
			},
			Quality: QualityConfig{
				JPEG: QualityRange{Min: 40, Default: 60, Max: 80},
				PNG:  QualityRange{Min: 50, Default: 70, Max: 90},
				WebP: QualityRange{Min: 40, Default: 65, Max: 85},
			},
			Compression: CompressionConfig{Level: 9, PreferredFormat: "auto"},
			Fallback:    FallbackConfig{Enabled: true, MaxRetries: 5, TimeoutMs: 10000},
			Monitoring:  MonitoringConfig{Enabled: true, TrackMetrics: true, LogResults: false, HistorySize: 10},
			ContentTypes: map[models.ContentType]ContentTypePolicy{
				models.ContentTypeText:     {Quality: 85, PreserveSharpness: true, DimensionMultiplier: 1.3},
				models.ContentTypeLogo:     {Quality: 80, PreserveSharpness: true, DimensionMultiplier: 1.3},
				models.ContentTypeGraphics: {Quality: 75, PreserveSharpness: true, DimensionMultiplier: 1.15},
				models.ContentTypePhoto:    {Quality: 60, AllowAggressive: true, DimensionMultiplier: 1.0},
			},
			Validation: ValidationConfig{
				MinSizeReduction:     0.1,
				AspectRatioTolerance: 0.1,
				MinTextDimension:     32,
				MinConfidence:        0.55,
			},
			Source: SourceConfig{TimeoutMs: 8000, MaxBytes: 25 * 1024 * 1024, MaxPixels: 50_000_000},
			Batch:  BatchConfig{MaxConcurrent: 4},
		},
		Cache: CacheConfig{
			Enabled:             true,
			Path:                "data/image-cache",
			Strategy:            StrategyFlat,
			HashAlgorithm:       HashMD5,
			HashLength:          8,
			MaxBasenameLength:   50,
			StripPrefixes:       []string{"/uploads/", "uploads/", "./"},
			GracefulDegradation: true,
			MemoryEntries:       256,
			Retention: RetentionConfig{
				MaxAgeHours:        24 * 30,
				MaxSizeMB:          1024,
				MaxFiles:           10000,
				MinFreeDiskPercent: 5,
				EvictTargetPercent: 90,
				IntervalMinutes:    60,
			},
		},
	}
}

// Clone deep-copies the policy so callers can mutate it freely
func (p Policy) Clone() Policy {
	out := p
	out.Optimization.ContentTypes = make(map[models.ContentType]ContentTypePolicy, len(p.Optimization.ContentTypes))
	for k, v := range p.Optimization.ContentTypes {
		out.Optimization.ContentTypes[k] = v
	}
	out.Cache.StripPrefixes = append([]string(nil), p.Cache.StripPrefixes...)
	return out
}

// ValidationError lists every problem found in a policy
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// IsValidationError reports whether err came from Validate
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks every invariant of the policy
func (p Policy) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	o := p.Optimization
	a := o.Aggressive
	if a.MinWidth <= 0 || a.MinHeight <= 0 {
		add("aggressive.minWidth/minHeight must be > 0")
	}
	if a.MaxWidth < a.MinWidth || a.MaxHeight < a.MinHeight {
		add("aggressive.maxWidth/maxHeight must be >= minWidth/minHeight")
	}
	if a.ForceOptimizeWidth < a.MaxWidth || a.ForceOptimizeHeight < a.MaxHeight {
		add("aggressive.forceOptimizeWidth/Height must be >= maxWidth/maxHeight")
	}

	for name, q := range map[string]QualityRange{"jpeg": o.Quality.JPEG, "png": o.Quality.PNG, "webp": o.Quality.WebP} {
		if q.Min < 0 || q.Max > 100 || q.Min > q.Default || q.Default > q.Max {
			add("quality.%s must satisfy 0 <= min <= default <= max <= 100 (got %d/%d/%d)", name, q.Min, q.Default, q.Max)
		}
	}

	if o.Compression.Level < 0 || o.Compression.Level > 9 {
		add("compression.level must be within 0..9")
	}
	switch strings.ToLower(o.Compression.PreferredFormat) {
	case "", "auto", "jpeg", "jpg", "png", "webp":
	default:
		add("compression.preferredFormat %q is not supported", o.Compression.PreferredFormat)
	}

	if o.Fallback.TimeoutMs <= 0 {
		add("fallback.timeoutMs must be > 0")
	}
	if o.Fallback.MaxRetries < 0 {
		add("fallback.maxRetries must be >= 0")
	}
	if o.Monitoring.HistorySize < 0 {
		add("monitoring.historySize must be >= 0")
	}

	for ct, cp := range o.ContentTypes {
		if !ct.IsValid() {
			add("contentTypes: unknown content type %q", ct)
		}
		if cp.Quality < 0 || cp.Quality > 100 {
			add("contentTypes.%s.quality must be within 0..100", ct)
		}
		if cp.DimensionMultiplier <= 0 {
			add("contentTypes.%s.dimensionMultiplier must be > 0", ct)
		}
	}

	v := o.Validation
	if v.MinSizeReduction < 0 || v.MinSizeReduction > 1 {
		add("validation.minSizeReduction must be within 0..1")
	}
	if v.AspectRatioTolerance < 0 {
		add("validation.aspectRatioTolerance must be >= 0")
	}
	if v.MinConfidence < 0 || v.MinConfidence > 1 {
		add("validation.minConfidence must be within 0..1")
	}
	if o.Source.TimeoutMs <= 0 {
		add("source.timeoutMs must be > 0")
	}
	if o.Source.MaxBytes <= 0 || o.Source.MaxPixels <= 0 {
		add("source.maxBytes and source.maxPixels must be > 0")
	}
	if o.Batch.MaxConcurrent <= 0 {
		add("batch.maxConcurrent must be > 0")
	}

	c := p.Cache
	if c.Enabled && strings.TrimSpace(c.Path) == "" {
		add("cache.path is required when the cache is enabled")
	}
	switch c.Strategy {
	case StrategyFlat, StrategyContentType, StrategyDate, StrategyMirror:
	default:
		add("cache.strategy %q is not supported", c.Strategy)
	}
	switch c.HashAlgorithm {
	case HashNone, HashMD5, HashSHA1, HashSHA256:
	default:
		add("cache.hashAlgorithm %q is not supported", c.HashAlgorithm)
	}
	if c.HashAlgorithm != HashNone && c.HashLength <= 0 {
		add("cache.hashLength must be > 0")
	}
	if c.MaxBasenameLength <= 0 {
		add("cache.maxBasenameLength must be > 0")
	}
	if c.MemoryEntries < 0 {
		add("cache.memoryEntries must be >= 0")
	}
	r := c.Retention
	if r.MaxAgeHours < 0 || r.MaxSizeMB < 0 || r.MaxFiles < 0 || r.IntervalMinutes < 0 {
		add("cache.retention thresholds must be >= 0")
	}
	if r.MinFreeDiskPercent < 0 || r.MinFreeDiskPercent >= 100 {
		add("cache.retention.minFreeDiskPercent must be within 0..100")
	}
	if r.EvictTargetPercent <= 0 || r.EvictTargetPercent > 100 {
		add("cache.retention.evictTargetPercent must be within 1..100")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
