package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"image-optimizer/config"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *OptimizationEngine {
	log := utils.NewTestLogger()
	return NewOptimizationEngine(NewSourceLoader(nil, log), log)
}

func decodeTestSource(t *testing.T, data []byte) *SourceImage {
	t.Helper()
	src, err := DecodeSource(data, 0)
	require.NoError(t, err)
	return src
}

func TestDecodeSource(t *testing.T) {
	data := encodeJPEG(t, photoImage(1000, 800))

	src, err := DecodeSource(data, 50_000_000)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", src.Format)
	assert.Equal(t, models.Size{Width: 1000, Height: 800}, src.Size)
	assert.NotNil(t, src.Image)
	assert.False(t, src.HasAlpha)

	// la taille est lue dans l'en-tête avant l'allocation des pixels
	src, err = DecodeSource(data, 1000)
	assert.ErrorIs(t, err, models.ErrResourceExhausted)
	assert.Equal(t, models.Size{Width: 1000, Height: 800}, src.Size)
	assert.Nil(t, src.Image)

	_, err = DecodeSource([]byte("definitely not an image"), 0)
	assert.ErrorIs(t, err, models.ErrFormatInvalid)

	_, err = DecodeSource(nil, 0)
	assert.ErrorIs(t, err, models.ErrFormatInvalid)

	truncated := data[:len(data)/2]
	_, err = DecodeSource(truncated, 0)
	assert.ErrorIs(t, err, models.ErrFormatInvalid)
}

func TestEncodePNG_PaletteByQuality(t *testing.T) {
	img := photoImage(64, 64)

	tests := []struct {
		quality  int
		paletted bool
		colors   int
	}{
		{95, false, 0},
		{70, true, 256},
		{40, true, 216},
	}

	for _, tt := range tests {
		data, err := EncodePNG(img, tt.quality, png.BestCompression, false)
		require.NoError(t, err)

		decoded, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)

		p, ok := decoded.(*image.Paletted)
		assert.Equal(t, tt.paletted, ok, "quality %d", tt.quality)
		if ok {
			assert.Len(t, p.Palette, tt.colors)
		}
	}
}

func TestEncodeJPEG_FlattensTransparency(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 0
	}

	data, err := EncodeJPEG(img, 80)
	require.NoError(t, err)

	decoded, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(8, 8).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestPNGCompressionLevel(t *testing.T) {
	assert.Equal(t, png.NoCompression, PNGCompressionLevel(0))
	assert.Equal(t, png.BestSpeed, PNGCompressionLevel(2))
	assert.Equal(t, png.DefaultCompression, PNGCompressionLevel(5))
	assert.Equal(t, png.BestCompression, PNGCompressionLevel(9))
}

func TestPlanFor_AggressivePhoto(t *testing.T) {
	e := newTestEngine()
	src := decodeTestSource(t, encodeJPEG(t, photoImage(1000, 800)))
	policy := config.DefaultPolicy().Optimization

	plan := e.PlanFor(src, models.ContentTypePhoto, policy, StrategyEntry)
	assert.Equal(t, models.TechniqueAggressive, plan.Technique)
	assert.Equal(t, models.FormatJPEG, plan.Format)
	assert.Equal(t, models.Size{Width: 300, Height: 240}, plan.Target)
	assert.True(t, plan.Resize)
	assert.Equal(t, 50, plan.Quality)

	policy.Aggressive.Enabled = false
	plan = e.PlanFor(src, models.ContentTypePhoto, policy, StrategyEntry)
	assert.Equal(t, models.TechniqueStandard, plan.Technique)
	assert.Equal(t, models.Size{Width: 800, Height: 640}, plan.Target)
	assert.Equal(t, 60, plan.Quality)
}

func TestPlanFor_TextKeepsLosslessFormat(t *testing.T) {
	e := newTestEngine()
	src := decodeTestSource(t, encodePNG(t, flatImage(600, 200)))
	policy := config.DefaultPolicy().Optimization
	policy.Compression.PreferredFormat = "jpeg"

	plan := e.PlanFor(src, models.ContentTypeText, policy, StrategyEntry)
	assert.Equal(t, models.FormatPNG, plan.Format)
	assert.Equal(t, models.Size{Width: 390, Height: 130}, plan.Target)
	assert.Equal(t, 87, plan.Quality)
	assert.True(t, plan.PreserveSharpness)
}

func TestPlanFor_WebPIsSubstituted(t *testing.T) {
	e := newTestEngine()
	src := decodeTestSource(t, encodeJPEG(t, photoImage(400, 300)))
	policy := config.DefaultPolicy().Optimization
	policy.Compression.PreferredFormat = "webp"

	plan := e.PlanFor(src, models.ContentTypePhoto, policy, StrategyEntry)
	assert.Equal(t, models.FormatWebP, plan.Requested)
	assert.Equal(t, models.FormatJPEG, plan.Format)

	result, err := e.Transcode(src, plan)
	require.NoError(t, err)
	assert.True(t, result.Metadata.FormatConverted)

	logo := e.PlanFor(src, models.ContentTypeLogo, policy, StrategyEntry)
	assert.Equal(t, models.FormatPNG, logo.Format)
}

func TestPlanFor_SmallSourceUntouched(t *testing.T) {
	e := newTestEngine()
	src := decodeTestSource(t, encodeJPEG(t, photoImage(40, 40)))

	plan := e.PlanFor(src, models.ContentTypePhoto, config.DefaultPolicy().Optimization, StrategyEntry)
	assert.Equal(t, src.Size, plan.Target)
	assert.False(t, plan.Resize)
}

func TestFitWithin(t *testing.T) {
	a := config.DefaultPolicy().Optimization.Aggressive
	box := models.Size{Width: 300, Height: 240}

	tests := []struct {
		name     string
		src      models.Size
		expected models.Size
	}{
		{"tiny source untouched", models.Size{Width: 40, Height: 40}, models.Size{Width: 40, Height: 40}},
		{"already inside", models.Size{Width: 200, Height: 100}, models.Size{Width: 200, Height: 100}},
		{"landscape photo", models.Size{Width: 1000, Height: 800}, models.Size{Width: 300, Height: 240}},
		{"tall thin strip", models.Size{Width: 40, Height: 5000}, models.Size{Width: 6, Height: 800}},
		{"wide thin strip", models.Size{Width: 5000, Height: 40}, models.Size{Width: 800, Height: 6}},
		{"short strip under ceiling", models.Size{Width: 30, Height: 600}, models.Size{Width: 30, Height: 600}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitWithin(tt.src, box, a)
			assert.Equal(t, tt.expected, got)
			assert.LessOrEqual(t, got.Width, a.ForceOptimizeWidth)
			assert.LessOrEqual(t, got.Height, a.ForceOptimizeHeight)
		})
	}
}

func TestOptimizationEngine_Optimize(t *testing.T) {
	e := newTestEngine()
	policy := config.DefaultPolicy().Optimization
	dir := t.TempDir()

	source := writeSource(t, dir, "photo.jpg", encodeJPEG(t, photoImage(1000, 800)))
	result, err := e.Optimize(context.Background(), models.OptimizationRequest{Source: source, ContentType: models.ContentTypePhoto}, policy)
	require.NoError(t, err)
	assert.Equal(t, "entry", result.Metadata.Strategy)
	assert.Equal(t, models.TechniqueAggressive, result.Metadata.Technique)
	assert.Equal(t, models.Size{Width: 300, Height: 240}, result.Dimensions.Optimized)

	// pas de fallback ici: l'erreur remonte telle quelle
	_, err = e.Optimize(context.Background(), models.OptimizationRequest{Source: filepath.Join(dir, "missing.jpg")}, policy)
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)

	_, err = e.Optimize(context.Background(), models.OptimizationRequest{Source: writeSource(t, dir, "corrupt.jpg", []byte("not an image"))}, policy)
	assert.ErrorIs(t, err, models.ErrFormatInvalid)
}

func TestPlanFor_Strategies(t *testing.T) {
	e := newTestEngine()
	src := decodeTestSource(t, encodeJPEG(t, photoImage(1000, 800)))
	policy := config.DefaultPolicy().Optimization

	tests := []struct {
		strategy Strategy
		format   models.OutputFormat
		quality  int
		target   models.Size
	}{
		{StrategyReducedQuality, models.FormatJPEG, 40, models.Size{Width: 300, Height: 240}},
		{StrategyFormatConversion, models.FormatPNG, 70, models.Size{Width: 300, Height: 240}},
		{StrategyDimensionReduction, models.FormatJPEG, 40, models.Size{Width: 150, Height: 120}},
		{StrategyBasicCompression, models.FormatJPEG, 40, models.Size{Width: 300, Height: 240}},
		{StrategyOriginalImage, models.FormatJPEG, 40, models.Size{Width: 1000, Height: 800}},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			plan := e.PlanFor(src, models.ContentTypePhoto, policy, tt.strategy)
			assert.Equal(t, tt.format, plan.Format)
			assert.Equal(t, tt.quality, plan.Quality)
			assert.Equal(t, tt.target, plan.Target)
			assert.Equal(t, models.TechniqueFallback, plan.Technique)
		})
	}
}

func TestTranscode_AggressivePhoto(t *testing.T) {
	e := newTestEngine()
	data := encodeJPEG(t, photoImage(1000, 800))
	src := decodeTestSource(t, data)
	plan := e.PlanFor(src, models.ContentTypePhoto, config.DefaultPolicy().Optimization, StrategyEntry)

	result, err := e.Transcode(src, plan)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(result.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 300, cfg.Width)
	assert.Equal(t, 240, cfg.Height)

	assert.Equal(t, int64(len(data)), result.OriginalSize)
	assert.Equal(t, int64(len(result.Data)), result.OptimizedSize)
	assert.Less(t, result.OptimizedSize, result.OriginalSize)
	assert.InDelta(t, models.CompressionRatio(result.OriginalSize, result.OptimizedSize), result.CompressionRatio, 1e-9)
	assert.Equal(t, models.TechniqueAggressive, result.Metadata.Technique)
	assert.Equal(t, "entry", result.Metadata.Strategy)
	assert.False(t, result.Metadata.FormatConverted)
	assert.True(t, result.Succeeded())
}

func TestTranscode_UndecodedSource(t *testing.T) {
	e := newTestEngine()
	_, err := e.Transcode(&SourceImage{Data: []byte("x")}, TranscodePlan{Format: models.FormatJPEG})
	assert.ErrorIs(t, err, models.ErrFormatInvalid)

	_, err = e.Transcode(nil, TranscodePlan{})
	assert.ErrorIs(t, err, models.ErrFormatInvalid)
}

func TestValidationService(t *testing.T) {
	v := NewValidationService(utils.NewTestLogger())
	policy := config.DefaultPolicy().Optimization
	photo := models.SourceInfo{Size: 10000, Dimensions: models.Size{Width: 1000, Height: 800}, Format: "jpeg", ContentType: models.ContentTypePhoto}

	good := &models.OptimizedImageResult{
		Data:             make([]byte, 2000),
		OriginalSize:     10000,
		OptimizedSize:    2000,
		CompressionRatio: 0.8,
		Dimensions:       models.Dimensions{Original: photo.Dimensions, Optimized: models.Size{Width: 300, Height: 240}},
		Format:           models.FormatJPEG,
		Metadata:         models.ResultMetadata{ContentType: models.ContentTypePhoto, QualityUsed: 50},
	}

	t.Run("good photo", func(t *testing.T) {
		report := v.Validate(photo, good, policy)
		assert.True(t, report.IsValid)
		assert.Equal(t, 1.0, report.Breakdown.SizeReduction)
		assert.Equal(t, 1.0, report.Breakdown.FormatOptimization)
		assert.Equal(t, 1.0, report.Breakdown.DimensionOptimization)
		assert.InDelta(t, 0.625, report.Breakdown.QualityPreservation, 1e-9)
		assert.InDelta(t, 0.35+0.25*0.625+0.2+0.2, report.ConfidenceScore, 1e-9)
	})

	t.Run("placeholder", func(t *testing.T) {
		report := v.Validate(photo, &models.OptimizedImageResult{Format: models.FormatPlaceholder}, policy)
		assert.False(t, report.IsValid)
		assert.Zero(t, report.ConfidenceScore)
		assert.NotEmpty(t, report.Recommendations)
	})

	t.Run("output larger than source", func(t *testing.T) {
		r := *good
		r.OptimizedSize = 20000
		r.CompressionRatio = 0
		report := v.Validate(photo, &r, policy)
		assert.Zero(t, report.Breakdown.SizeReduction)
		// les autres axes suffiraient à passer le seuil: la croissance bloque quand même
		assert.GreaterOrEqual(t, report.ConfidenceScore, policy.Validation.MinConfidence)
		assert.False(t, report.IsValid)
		assert.Contains(t, report.Recommendations[0], "larger than the source")
	})

	t.Run("same size is not growth", func(t *testing.T) {
		r := *good
		r.OptimizedSize = r.OriginalSize
		r.CompressionRatio = 0
		report := v.Validate(photo, &r, policy)
		assert.True(t, report.IsValid)
	})

	t.Run("small reduction is partial", func(t *testing.T) {
		r := *good
		r.CompressionRatio = 0.05
		report := v.Validate(photo, &r, policy)
		assert.InDelta(t, 0.5, report.Breakdown.SizeReduction, 1e-9)
	})

	t.Run("aspect ratio drift", func(t *testing.T) {
		r := *good
		r.Dimensions.Optimized = models.Size{Width: 300, Height: 300}
		report := v.Validate(photo, &r, policy)
		assert.Zero(t, report.Breakdown.DimensionOptimization)
	})

	t.Run("photo as png", func(t *testing.T) {
		r := *good
		r.Format = models.FormatPNG
		report := v.Validate(photo, &r, policy)
		assert.Equal(t, 0.3, report.Breakdown.FormatOptimization)
	})

	t.Run("illegible text", func(t *testing.T) {
		text := models.SourceInfo{Size: 10000, Dimensions: models.Size{Width: 600, Height: 200}, Format: "png", ContentType: models.ContentTypeText}
		r := &models.OptimizedImageResult{
			Data:             make([]byte, 1000),
			OriginalSize:     10000,
			OptimizedSize:    1000,
			CompressionRatio: 0.9,
			Dimensions:       models.Dimensions{Original: text.Dimensions, Optimized: models.Size{Width: 90, Height: 30}},
			Format:           models.FormatPNG,
			Metadata:         models.ResultMetadata{ContentType: models.ContentTypeText, QualityUsed: 87},
		}
		report := v.Validate(text, r, policy)
		assert.InDelta(t, (0.5+0.5*37.0/40.0)*0.3, report.Breakdown.QualityPreservation, 1e-9)
		assert.Contains(t, report.Recommendations[0], "legibility")
	})
}

func TestHasAlpha(t *testing.T) {
	opaque := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range opaque.Pix {
		opaque.Pix[i] = 255
	}
	assert.False(t, hasAlpha(opaque))

	transparent := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	transparent.Set(0, 0, color.NRGBA{A: 10})
	assert.True(t, hasAlpha(transparent))
}
