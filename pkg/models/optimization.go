// pkg/models/optimization.go
package models

import "strings"

// ContentType is the coarse hint a caller attaches to an image
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypePhoto    ContentType = "photo"
	ContentTypeGraphics ContentType = "graphics"
	ContentTypeLogo     ContentType = "logo"
)

// AllContentTypes lists every known hint, in a stable order
var AllContentTypes = []ContentType{ContentTypeText, ContentTypePhoto, ContentTypeGraphics, ContentTypeLogo}

// ParseContentType maps a free-form hint to a known content type.
// Unknown or empty hints fall back to photo.
func ParseContentType(s string) ContentType {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentTypeText:
		return ContentTypeText
	case ContentTypeGraphics:
		return ContentTypeGraphics
	case ContentTypeLogo:
		return ContentTypeLogo
	default:
		return ContentTypePhoto
	}
}

// IsValid reports whether ct is one of the known hints
func (ct ContentType) IsValid() bool {
	for _, known := range AllContentTypes {
		if ct == known {
			return true
		}
	}
	return false
}

// PrefersLossless is true for content with sharp edges (text, logos, flat graphics)
func (ct ContentType) PrefersLossless() bool {
	return ct == ContentTypeText || ct == ContentTypeLogo || ct == ContentTypeGraphics
}

// OutputFormat is the encoding of an optimized buffer
type OutputFormat string

const (
	FormatJPEG        OutputFormat = "jpeg"
	FormatPNG         OutputFormat = "png"
	FormatWebP        OutputFormat = "webp"
	FormatPlaceholder OutputFormat = "placeholder"
)

// ParseOutputFormat normalizes format names and file extensions ("jpg", ".png", "image/webp")
func ParseOutputFormat(s string) (OutputFormat, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "image/")
	s = strings.TrimPrefix(s, ".")
	switch s {
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "webp":
		return FormatWebP, true
	case "placeholder":
		return FormatPlaceholder, true
	}
	return "", false
}

// Extension returns the file extension for the format, ".jpg" when undetermined
func (f OutputFormat) Extension() string {
	switch f {
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	case FormatPlaceholder:
		return ".placeholder"
	default:
		return ".jpg"
	}
}

// MIMEType returns the HTTP content type for the format
func (f OutputFormat) MIMEType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// Technique records where a result came from
type Technique string

const (
	TechniqueAggressive  Technique = "aggressive"
	TechniqueStandard    Technique = "standard"
	TechniqueFallback    Technique = "fallback"
	TechniqueCache       Technique = "cache"
	TechniquePlaceholder Technique = "placeholder"
)

// OptimizationRequest is one image to optimize
type OptimizationRequest struct {
	Source      string      `json:"source"`
	ContentType ContentType `json:"contentType"`
}

// Size is a width/height pair in pixels
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AspectRatio returns width/height, 0 for degenerate sizes
func (s Size) AspectRatio() float64 {
	if s.Width <= 0 || s.Height <= 0 {
		return 0
	}
	return float64(s.Width) / float64(s.Height)
}

// Dimensions holds before/after sizes
type Dimensions struct {
	Original  Size `json:"original"`
	Optimized Size `json:"optimized"`
}

// ResultMetadata describes how a result was produced
type ResultMetadata struct {
	ContentType     ContentType `json:"contentType"`
	QualityUsed     int         `json:"qualityUsed"`
	FormatConverted bool        `json:"formatConverted"`
	OriginalFormat  string      `json:"originalFormat"`
	Technique       Technique   `json:"technique"`
	Strategy        string      `json:"strategy,omitempty"`
	CacheKey        string      `json:"cacheKey,omitempty"`

	// ErrorCategory is set on placeholders from the error sentinel
	ErrorCategory ErrorCategory `json:"errorCategory,omitempty"`
}

// OptimizedImageResult is what callers get back for every request, even on failure
type OptimizedImageResult struct {
	Data             []byte         `json:"data,omitempty"`
	OriginalSize     int64          `json:"originalSize"`
	OptimizedSize    int64          `json:"optimizedSize"`
	CompressionRatio float64        `json:"compressionRatio"`
	Dimensions       Dimensions     `json:"dimensions"`
	Format           OutputFormat   `json:"format"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	Error            string         `json:"error,omitempty"`
	Metadata         ResultMetadata `json:"metadata"`
}

// Succeeded is true when the result carries real optimized bytes
func (r *OptimizedImageResult) Succeeded() bool {
	return r != nil && r.Error == "" && r.Metadata.Technique != TechniquePlaceholder && r.Format != FormatPlaceholder
}

// CompressionRatio computes (original-optimized)/original clamped to [0,1]
func CompressionRatio(original, optimized int64) float64 {
	if original <= 0 || optimized >= original {
		return 0
	}
	ratio := float64(original-optimized) / float64(original)
	if ratio > 1 {
		return 1
	}
	return ratio
}
