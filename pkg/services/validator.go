// pkg/services/validator.go
package service

import (
	"fmt"
	"math"

	"image-optimizer/config"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"
)

// Axis weights of the confidence score
const (
	weightSizeReduction         = 0.35
	weightQualityPreservation   = 0.25
	weightFormatOptimization    = 0.20
	weightDimensionOptimization = 0.20
)

// ValidationService checks a result against the policy after the fact
type ValidationService struct {
	log *utils.Logger
}

func NewValidationService(log *utils.Logger) *ValidationService {
	return &ValidationService{log: log}
}

// Validate scores each axis in [0,1] and combines them into a confidence score
func (v *ValidationService) Validate(original models.SourceInfo, result *models.OptimizedImageResult, policy config.OptimizationConfig) models.ValidationReport {
	report := models.ValidationReport{Recommendations: []string{}}
	if result == nil || len(result.Data) == 0 || result.Format == models.FormatPlaceholder {
		report.Recommendations = append(report.Recommendations, "no optimized data to validate")
		return report
	}

	ct := original.ContentType
	if !ct.IsValid() {
		ct = result.Metadata.ContentType
	}
	rules := policy.Validation

	report.Breakdown.SizeReduction = v.scoreSizeReduction(result, rules, &report)
	report.Breakdown.QualityPreservation = v.scoreQuality(original, result, ct, policy, &report)
	report.Breakdown.FormatOptimization = v.scoreFormat(result, ct, &report)
	report.Breakdown.DimensionOptimization = v.scoreDimensions(original, result, policy, &report)

	b := report.Breakdown
	report.ConfidenceScore = weightSizeReduction*b.SizeReduction +
		weightQualityPreservation*b.QualityPreservation +
		weightFormatOptimization*b.FormatOptimization +
		weightDimensionOptimization*b.DimensionOptimization
	// une sortie plus lourde que la source n'est jamais acceptée, quel que soit le score
	grew := result.OriginalSize > 0 && result.OptimizedSize > result.OriginalSize
	report.IsValid = !grew && report.ConfidenceScore >= rules.MinConfidence

	v.log.WithFunc().WithField("confidence", fmt.Sprintf("%.3f", report.ConfidenceScore)).Debug("Validated result")
	return report
}

func (v *ValidationService) scoreSizeReduction(result *models.OptimizedImageResult, rules config.ValidationConfig, report *models.ValidationReport) float64 {
	if result.OriginalSize <= 0 || result.OptimizedSize > result.OriginalSize {
		report.Recommendations = append(report.Recommendations, "output is larger than the source; consider lowering quality or keeping the original")
		return 0
	}
	if rules.MinSizeReduction <= 0 || result.CompressionRatio >= rules.MinSizeReduction {
		return 1
	}
	report.Recommendations = append(report.Recommendations,
		fmt.Sprintf("size reduced by %.0f%%, below the %.0f%% target", result.CompressionRatio*100, rules.MinSizeReduction*100))
	return result.CompressionRatio / rules.MinSizeReduction
}

// scoreQuality uses the position of the encoder quality inside the format
// range as a perceptual proxy, then checks legibility for text-like content.
func (v *ValidationService) scoreQuality(original models.SourceInfo, result *models.OptimizedImageResult, ct models.ContentType, policy config.OptimizationConfig, report *models.ValidationReport) float64 {
	score := 0.5
	qr := policy.Quality.For(result.Format)
	if q := result.Metadata.QualityUsed; q > 0 && qr.Max > qr.Min {
		frac := float64(qr.Clamp(q)-qr.Min) / float64(qr.Max-qr.Min)
		score = 0.5 + 0.5*frac
	}

	if ct == models.ContentTypeText || ct == models.ContentTypeLogo {
		opt := result.Dimensions.Optimized
		shrunk := opt.Width < original.Dimensions.Width || opt.Height < original.Dimensions.Height
		minSide := opt.Width
		if opt.Height < minSide {
			minSide = opt.Height
		}
		if shrunk && minSide < policy.Validation.MinTextDimension {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s downscaled to %dpx, below the %dpx legibility minimum", ct, minSide, policy.Validation.MinTextDimension))
			score *= 0.3
		}
	}
	return score
}

func (v *ValidationService) scoreFormat(result *models.OptimizedImageResult, ct models.ContentType, report *models.ValidationReport) float64 {
	lossless := result.Format == models.FormatPNG || result.Format == models.FormatWebP
	lossy := result.Format == models.FormatJPEG || result.Format == models.FormatWebP

	switch {
	case ct.PrefersLossless() && lossless, !ct.PrefersLossless() && lossy:
		return 1
	case ct == models.ContentTypeGraphics:
		report.Recommendations = append(report.Recommendations, "graphics usually compress better as png")
		return 0.6
	case ct.PrefersLossless():
		report.Recommendations = append(report.Recommendations, fmt.Sprintf("%s content should use a lossless format to avoid artifacts on sharp edges", ct))
		return 0.3
	default:
		report.Recommendations = append(report.Recommendations, "photographic content should use a lossy format")
		return 0.3
	}
}

func (v *ValidationService) scoreDimensions(original models.SourceInfo, result *models.OptimizedImageResult, policy config.OptimizationConfig, report *models.ValidationReport) float64 {
	origAR := original.Dimensions.AspectRatio()
	optAR := result.Dimensions.Optimized.AspectRatio()
	if origAR == 0 || optAR == 0 {
		report.Recommendations = append(report.Recommendations, "missing dimensions, aspect ratio not checked")
		return 0
	}

	score := 1.0
	tol := policy.Validation.AspectRatioTolerance
	if drift := math.Abs(optAR-origAR) / origAR; drift > tol {
		report.Recommendations = append(report.Recommendations, fmt.Sprintf("aspect ratio drifted by %.1f%%", drift*100))
		if tol > 0 {
			score = math.Max(0, 1-(drift-tol)/tol)
		} else {
			score = 0
		}
	}

	a := policy.Aggressive
	opt := result.Dimensions.Optimized
	if opt.Width > a.ForceOptimizeWidth || opt.Height > a.ForceOptimizeHeight {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("output %dx%d exceeds the %dx%d ceiling", opt.Width, opt.Height, a.ForceOptimizeWidth, a.ForceOptimizeHeight))
		score *= 0.5
	}
	return score
}
