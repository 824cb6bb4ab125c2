// pkg/services/optimizer.go
package service

import (
	"context"
	"fmt"
	"image/png"
	"math"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

// TranscodePlan is every decision taken for one attempt
type TranscodePlan struct {
	Strategy          Strategy
	Technique         models.Technique
	ContentType       models.ContentType
	Requested         models.OutputFormat
	Format            models.OutputFormat
	Quality           int
	Target            models.Size
	Resize            bool
	Interpolator      draw.Interpolator
	PNGLevel          png.CompressionLevel
	PreserveSharpness bool
}

// OptimizationEngine picks dimensions, format and quality, then transcodes
type OptimizationEngine struct {
	loader *SourceLoader
	log    *utils.Logger
}

func NewOptimizationEngine(loader *SourceLoader, log *utils.Logger) *OptimizationEngine {
	return &OptimizationEngine{loader: loader, log: log}
}

// Prepare loads and decodes the source. On a decode failure the returned
// SourceImage still carries the raw bytes.
func (e *OptimizationEngine) Prepare(ctx context.Context, req models.OptimizationRequest, policy config.OptimizationConfig) (*SourceImage, error) {
	data, err := e.loader.Load(ctx, req.Source, policy.Source)
	if err != nil {
		return nil, err
	}
	return DecodeSource(data, policy.Source.MaxPixels)
}

// Optimize runs the entry plan once, without any fallback
func (e *OptimizationEngine) Optimize(ctx context.Context, req models.OptimizationRequest, policy config.OptimizationConfig) (*models.OptimizedImageResult, error) {
	src, err := e.Prepare(ctx, req, policy)
	if err != nil {
		return nil, err
	}
	return e.Transcode(src, e.PlanFor(src, req.ContentType, policy, StrategyEntry))
}

// PlanFor derives the attempt settings for a strategy
func (e *OptimizationEngine) PlanFor(src *SourceImage, ct models.ContentType, policy config.OptimizationConfig, strategy Strategy) TranscodePlan {
	if !ct.IsValid() {
		ct = models.ContentTypePhoto
	}
	cp := policy.ContentTypePolicy(ct)
	aggressive := policy.Aggressive.Enabled

	requested := chooseFormat(ct, policy.Compression.PreferredFormat)
	plan := TranscodePlan{
		Strategy:          strategy,
		Technique:         models.TechniqueFallback,
		ContentType:       ct,
		Requested:         requested,
		Format:            encodableFormat(requested, ct),
		Interpolator:      draw.CatmullRom,
		PNGLevel:          PNGCompressionLevel(policy.Compression.Level),
		PreserveSharpness: cp.PreserveSharpness,
	}
	plan.Quality = chooseQuality(policy.Quality.For(plan.Format), cp, aggressive)
	bounds := dimensionBounds(policy.Aggressive, cp, aggressive)

	switch strategy {
	case StrategyEntry:
		plan.Technique = models.TechniqueStandard
		if aggressive {
			plan.Technique = models.TechniqueAggressive
		}
	case StrategyReducedQuality:
		plan.Quality = policy.Quality.For(plan.Format).Min
	case StrategyFormatConversion:
		if plan.Format == models.FormatPNG {
			plan.Format = models.FormatJPEG
		} else {
			plan.Format = models.FormatPNG
		}
		plan.Requested = plan.Format
		plan.Quality = policy.Quality.For(plan.Format).Default
	case StrategyDimensionReduction:
		bounds = models.Size{
			Width:  maxInt(bounds.Width/2, policy.Aggressive.MinWidth),
			Height: maxInt(bounds.Height/2, policy.Aggressive.MinHeight),
		}
		plan.Quality = policy.Quality.For(plan.Format).Min
		plan.Interpolator = draw.ApproxBiLinear
	case StrategyBasicCompression:
		plan.Format = models.FormatJPEG
		plan.Requested = models.FormatJPEG
		plan.Quality = policy.Quality.JPEG.Min
		plan.Interpolator = draw.NearestNeighbor
	case StrategyOriginalImage:
		plan.Format = models.FormatJPEG
		if src.Format == "png" || src.Format == "gif" {
			plan.Format = models.FormatPNG
		}
		plan.Requested = plan.Format
		plan.Quality = policy.Quality.For(plan.Format).Min
		plan.PNGLevel = png.BestSpeed
		plan.Target = src.Size
		return plan
	}

	plan.Target = fitWithin(src.Size, bounds, policy.Aggressive)
	plan.Resize = plan.Target != src.Size
	return plan
}

// Transcode applies a plan to a decoded source
func (e *OptimizationEngine) Transcode(src *SourceImage, plan TranscodePlan) (*models.OptimizedImageResult, error) {
	if src == nil || src.Image == nil {
		return nil, fmt.Errorf("%w: source was not decoded", models.ErrFormatInvalid)
	}
	start := time.Now()

	img := src.Image
	if plan.Resize {
		img = Resize(img, plan.Target, plan.Interpolator)
	}

	var (
		data []byte
		err  error
	)
	switch plan.Format {
	case models.FormatPNG:
		data, err = EncodePNG(img, plan.Quality, plan.PNGLevel, plan.PreserveSharpness)
	default:
		data, err = EncodeJPEG(img, plan.Quality)
	}
	if err != nil {
		return nil, err
	}

	original := int64(len(src.Data))
	optimized := int64(len(data))
	result := &models.OptimizedImageResult{
		Data:             data,
		OriginalSize:     original,
		OptimizedSize:    optimized,
		CompressionRatio: models.CompressionRatio(original, optimized),
		Dimensions: models.Dimensions{
			Original:  src.Size,
			Optimized: plan.Target,
		},
		Format:           plan.Format,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Metadata: models.ResultMetadata{
			ContentType:     plan.ContentType,
			QualityUsed:     plan.Quality,
			FormatConverted: plan.Requested != plan.Format || !sameFormat(src.Format, plan.Format),
			OriginalFormat:  src.Format,
			Technique:       plan.Technique,
			Strategy:        string(plan.Strategy),
		},
	}

	e.log.WithFunc().WithFields(logrus.Fields{
		"strategy":  plan.Strategy,
		"format":    plan.Format,
		"quality":   plan.Quality,
		"original":  original,
		"optimized": optimized,
		"target":    fmt.Sprintf("%dx%d", plan.Target.Width, plan.Target.Height),
	}).Debug("Transcoded image")
	return result, nil
}

// chooseFormat: photo takes the preferred format, text and logo keep a
// lossless format whatever is preferred, graphics follow an explicit preference.
func chooseFormat(ct models.ContentType, preferred string) models.OutputFormat {
	pref, explicit := models.ParseOutputFormat(preferred)
	switch ct {
	case models.ContentTypeText, models.ContentTypeLogo:
		if pref == models.FormatWebP {
			return models.FormatWebP
		}
		return models.FormatPNG
	case models.ContentTypeGraphics:
		if explicit {
			return pref
		}
		return models.FormatPNG
	default:
		if explicit {
			return pref
		}
		return models.FormatJPEG
	}
}

// encodableFormat substitutes webp, which has no encoder here
func encodableFormat(f models.OutputFormat, ct models.ContentType) models.OutputFormat {
	if f != models.FormatWebP {
		return f
	}
	if ct.PrefersLossless() {
		return models.FormatPNG
	}
	return models.FormatJPEG
}

func chooseQuality(qr config.QualityRange, cp config.ContentTypePolicy, aggressive bool) int {
	q := qr.Clamp(cp.Quality)
	switch {
	case aggressive && cp.AllowAggressive:
		q = (q + qr.Min) / 2
	case cp.PreserveSharpness:
		q = (q + qr.Max) / 2
	}
	return qr.Clamp(q)
}

// dimensionBounds returns the box the output must fit in. The content-type
// multiplier never pushes it past the force-optimize ceiling.
func dimensionBounds(a config.AggressiveConfig, cp config.ContentTypePolicy, aggressive bool) models.Size {
	if !aggressive {
		return models.Size{Width: a.ForceOptimizeWidth, Height: a.ForceOptimizeHeight}
	}
	mult := cp.DimensionMultiplier
	if mult <= 0 {
		mult = 1
	}
	w := int(math.Round(float64(a.MaxWidth) * mult))
	h := int(math.Round(float64(a.MaxHeight) * mult))
	return models.Size{
		Width:  clampInt(w, a.MinWidth, a.ForceOptimizeWidth),
		Height: clampInt(h, a.MinHeight, a.ForceOptimizeHeight),
	}
}

// fitWithin keeps the aspect ratio and never upscales. Sources under the
// minimum on both sides are left alone; a thin strip (one side under the
// minimum) is only held to the force-optimize ceiling.
func fitWithin(src, bounds models.Size, a config.AggressiveConfig) models.Size {
	narrow, short := src.Width < a.MinWidth, src.Height < a.MinHeight
	if narrow && short {
		return src
	}
	if narrow || short {
		bounds = models.Size{Width: a.ForceOptimizeWidth, Height: a.ForceOptimizeHeight}
	}
	scale := math.Min(float64(bounds.Width)/float64(src.Width), float64(bounds.Height)/float64(src.Height))
	if scale >= 1 {
		return src
	}
	return models.Size{
		Width:  maxInt(1, int(math.Round(float64(src.Width)*scale))),
		Height: maxInt(1, int(math.Round(float64(src.Height)*scale))),
	}
}

func sameFormat(decoded string, out models.OutputFormat) bool {
	f, ok := models.ParseOutputFormat(decoded)
	return ok && f == out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
