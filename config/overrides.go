package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"image-optimizer/pkg/models"
)

type overrideSetter func(p *Policy, value string) error

func intSetter(target func(p *Policy) *int) overrideSetter {
	return func(p *Policy, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*target(p) = n
		return nil
	}
}

func int64Setter(target func(p *Policy) *int64) overrideSetter {
	return func(p *Policy, value string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return err
		}
		*target(p) = n
		return nil
	}
}

func floatSetter(target func(p *Policy) *float64) overrideSetter {
	return func(p *Policy, value string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return err
		}
		*target(p) = f
		return nil
	}
}

func boolSetter(target func(p *Policy) *bool) overrideSetter {
	return func(p *Policy, value string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*target(p) = b
		return nil
	}
}

func stringSetter(target func(p *Policy) *string) overrideSetter {
	return func(p *Policy, value string) error {
		*target(p) = strings.TrimSpace(value)
		return nil
	}
}

// qualitySetter parses "min,default,max"
func qualitySetter(target func(p *Policy) *QualityRange) overrideSetter {
	return func(p *Policy, value string) error {
		parts := strings.Split(value, ",")
		if len(parts) != 3 {
			return fmt.Errorf("expected min,default,max")
		}
		var nums [3]int
		for i, part := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return err
			}
			nums[i] = n
		}
		*target(p) = QualityRange{Min: nums[0], Default: nums[1], Max: nums[2]}
		return nil
	}
}

func contentTypeQualitySetter(ct models.ContentType) overrideSetter {
	return func(p *Policy, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		if p.Optimization.ContentTypes == nil {
			p.Optimization.ContentTypes = map[models.ContentType]ContentTypePolicy{}
		}
		cp := p.Optimization.ContentTypes[ct]
		cp.Quality = n
		if cp.DimensionMultiplier == 0 {
			cp.DimensionMultiplier = 1
		}
		p.Optimization.ContentTypes[ct] = cp
		return nil
	}
}

var overrideTable = map[string]overrideSetter{
	"OPTIMIZER_AGGRESSIVE_ENABLED":     boolSetter(func(p *Policy) *bool { return &p.Optimization.Aggressive.Enabled }),
	"OPTIMIZER_AGGRESSIVE_MAX_WIDTH":   intSetter(func(p *Policy) *int { return &p.Optimization.Aggressive.MaxWidth }),
	"OPTIMIZER_AGGRESSIVE_MAX_HEIGHT":  intSetter(func(p *Policy) *int { return &p.Optimization.Aggressive.MaxHeight }),
	"OPTIMIZER_AGGRESSIVE_MIN_WIDTH":   intSetter(func(p *Policy) *int { return &p.Optimization.Aggressive.MinWidth }),
	"OPTIMIZER_AGGRESSIVE_MIN_HEIGHT":  intSetter(func(p *Policy) *int { return &p.Optimization.Aggressive.MinHeight }),
	"OPTIMIZER_FORCE_OPTIMIZE_WIDTH":   intSetter(func(p *Policy) *int { return &p.Optimization.Aggressive.ForceOptimizeWidth }),
	"OPTIMIZER_FORCE_OPTIMIZE_HEIGHT":  intSetter(func(p *Policy) *int { return &p.Optimization.Aggressive.ForceOptimizeHeight }),
	"OPTIMIZER_JPEG_QUALITY":           qualitySetter(func(p *Policy) *QualityRange { return &p.Optimization.Quality.JPEG }),
	"OPTIMIZER_PNG_QUALITY":            qualitySetter(func(p *Policy) *QualityRange { return &p.Optimization.Quality.PNG }),
	"OPTIMIZER_WEBP_QUALITY":           qualitySetter(func(p *Policy) *QualityRange { return &p.Optimization.Quality.WebP }),
	"OPTIMIZER_COMPRESSION_LEVEL":      intSetter(func(p *Policy) *int { return &p.Optimization.Compression.Level }),
	"OPTIMIZER_PREFERRED_FORMAT":       stringSetter(func(p *Policy) *string { return &p.Optimization.Compression.PreferredFormat }),
	"OPTIMIZER_FALLBACK_ENABLED":       boolSetter(func(p *Policy) *bool { return &p.Optimization.Fallback.Enabled }),
	"OPTIMIZER_FALLBACK_MAX_RETRIES":   intSetter(func(p *Policy) *int { return &p.Optimization.Fallback.MaxRetries }),
	"OPTIMIZER_FALLBACK_TIMEOUT_MS":    intSetter(func(p *Policy) *int { return &p.Optimization.Fallback.TimeoutMs }),
	"OPTIMIZER_MONITORING_ENABLED":     boolSetter(func(p *Policy) *bool { return &p.Optimization.Monitoring.Enabled }),
	"OPTIMIZER_TRACK_METRICS":          boolSetter(func(p *Policy) *bool { return &p.Optimization.Monitoring.TrackMetrics }),
	"OPTIMIZER_LOG_RESULTS":            boolSetter(func(p *Policy) *bool { return &p.Optimization.Monitoring.LogResults }),
	"OPTIMIZER_HISTORY_SIZE":           intSetter(func(p *Policy) *int { return &p.Optimization.Monitoring.HistorySize }),
	"OPTIMIZER_TEXT_QUALITY":           contentTypeQualitySetter(models.ContentTypeText),
	"OPTIMIZER_PHOTO_QUALITY":          contentTypeQualitySetter(models.ContentTypePhoto),
	"OPTIMIZER_GRAPHICS_QUALITY":       contentTypeQualitySetter(models.ContentTypeGraphics),
	"OPTIMIZER_LOGO_QUALITY":           contentTypeQualitySetter(models.ContentTypeLogo),
	"OPTIMIZER_MIN_SIZE_REDUCTION":     floatSetter(func(p *Policy) *float64 { return &p.Optimization.Validation.MinSizeReduction }),
	"OPTIMIZER_MIN_CONFIDENCE":         floatSetter(func(p *Policy) *float64 { return &p.Optimization.Validation.MinConfidence }),
	"OPTIMIZER_SOURCE_TIMEOUT_MS":      intSetter(func(p *Policy) *int { return &p.Optimization.Source.TimeoutMs }),
	"OPTIMIZER_SOURCE_MAX_BYTES":       int64Setter(func(p *Policy) *int64 { return &p.Optimization.Source.MaxBytes }),
	"OPTIMIZER_SOURCE_MAX_PIXELS":      int64Setter(func(p *Policy) *int64 { return &p.Optimization.Source.MaxPixels }),
	"OPTIMIZER_BATCH_MAX_CONCURRENT":   intSetter(func(p *Policy) *int { return &p.Optimization.Batch.MaxConcurrent }),
	"CACHE_ENABLED":                    boolSetter(func(p *Policy) *bool { return &p.Cache.Enabled }),
	"CACHE_PATH":                       stringSetter(func(p *Policy) *string { return &p.Cache.Path }),
	"CACHE_STRATEGY":                   stringSetter(func(p *Policy) *string { return &p.Cache.Strategy }),
	"CACHE_HASH_ALGORITHM":             stringSetter(func(p *Policy) *string { return &p.Cache.HashAlgorithm }),
	"CACHE_HASH_LENGTH":                intSetter(func(p *Policy) *int { return &p.Cache.HashLength }),
	"CACHE_MAX_BASENAME_LENGTH":        intSetter(func(p *Policy) *int { return &p.Cache.MaxBasenameLength }),
	"CACHE_GRACEFUL_DEGRADATION":       boolSetter(func(p *Policy) *bool { return &p.Cache.GracefulDegradation }),
	"CACHE_MEMORY_ENTRIES":             intSetter(func(p *Policy) *int { return &p.Cache.MemoryEntries }),
	"CACHE_PLACEHOLDERS":               boolSetter(func(p *Policy) *bool { return &p.Cache.CachePlaceholders }),
	"CACHE_RETENTION_MAX_AGE_HOURS":    intSetter(func(p *Policy) *int { return &p.Cache.Retention.MaxAgeHours }),
	"CACHE_RETENTION_MAX_SIZE_MB":      int64Setter(func(p *Policy) *int64 { return &p.Cache.Retention.MaxSizeMB }),
	"CACHE_RETENTION_MAX_FILES":        intSetter(func(p *Policy) *int { return &p.Cache.Retention.MaxFiles }),
	"CACHE_RETENTION_MIN_FREE_DISK":    floatSetter(func(p *Policy) *float64 { return &p.Cache.Retention.MinFreeDiskPercent }),
	"CACHE_RETENTION_EVICT_TARGET":     intSetter(func(p *Policy) *int { return &p.Cache.Retention.EvictTargetPercent }),
	"CACHE_RETENTION_INTERVAL_MINUTES": intSetter(func(p *Policy) *int { return &p.Cache.Retention.IntervalMinutes }),
	"CACHE_STRIP_PREFIXES": func(p *Policy, value string) error {
		p.Cache.StripPrefixes = nil
		for _, prefix := range strings.Split(value, ",") {
			if prefix = strings.TrimSpace(prefix); prefix != "" {
				p.Cache.StripPrefixes = append(p.Cache.StripPrefixes, prefix)
			}
		}
		return nil
	},
}

// OverrideKeys lists every supported override key, sorted
func OverrideKeys() []string {
	keys := make([]string, 0, len(overrideTable))
	for k := range overrideTable {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvOverrides collects the supported override keys present in the process environment
func EnvOverrides() map[string]string {
	values := map[string]string{}
	for key := range overrideTable {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			values[key] = v
		}
	}
	return values
}

// ApplyOverrides sets policy fields from key/value pairs. Unknown keys and
// unparsable values are errors; the policy is left untouched on error.
func ApplyOverrides(p *Policy, values map[string]string) error {
	next := p.Clone()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		setter, ok := overrideTable[strings.ToUpper(key)]
		if !ok {
			return fmt.Errorf("unknown override key %s", key)
		}
		if err := setter(&next, values[key]); err != nil {
			return fmt.Errorf("override %s=%q: %w", key, values[key], err)
		}
	}
	*p = next
	return nil
}
