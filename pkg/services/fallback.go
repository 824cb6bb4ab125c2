// pkg/services/fallback.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/sirupsen/logrus"
)

// Strategy is a state of the degradation chain
type Strategy string

const (
	StrategyEntry              Strategy = "entry"
	StrategyReducedQuality     Strategy = "reduced_quality"
	StrategyFormatConversion   Strategy = "format_conversion"
	StrategyDimensionReduction Strategy = "dimension_reduction"
	StrategyBasicCompression   Strategy = "basic_compression"
	StrategyOriginalImage      Strategy = "original_image"
	StrategyPlaceholder        Strategy = "placeholder"
)

// Next is the transition function. Placeholder is terminal.
func (s Strategy) Next() Strategy {
	switch s {
	case StrategyEntry:
		return StrategyReducedQuality
	case StrategyReducedQuality:
		return StrategyFormatConversion
	case StrategyFormatConversion:
		return StrategyDimensionReduction
	case StrategyDimensionReduction:
		return StrategyBasicCompression
	case StrategyBasicCompression:
		return StrategyOriginalImage
	default:
		return StrategyPlaceholder
	}
}

// Validated is true for strategies whose result must pass the validator.
// original_image is the last real attempt and is accepted as is.
func (s Strategy) Validated() bool {
	return s != StrategyOriginalImage && s != StrategyPlaceholder
}

// placeholderMarker is the shared zero-length buffer returned by every placeholder
var placeholderMarker = []byte{}

// FallbackChain wraps the engine so that every request ends with a result
type FallbackChain struct {
	engine    *OptimizationEngine
	validator *ValidationService
	metrics   interfaces.MetricsCollectorInterface
	log       *utils.Logger
}

func NewFallbackChain(engine *OptimizationEngine, validator *ValidationService, metrics interfaces.MetricsCollectorInterface, log *utils.Logger) *FallbackChain {
	return &FallbackChain{
		engine:    engine,
		validator: validator,
		metrics:   metrics,
		log:       log,
	}
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runWithDeadline runs fn in its own goroutine. When the deadline passes the
// attempt is abandoned: the buffered channel lets it finish and be collected.
func runWithDeadline[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		var res attemptResult[T]
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("panic during optimization: %v", r)
			}
			done <- res
		}()
		res.value, res.err = fn(ctx)
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: attempt exceeded %s", models.ErrTimeout, timeout)
	}
}

// Execute never fails: the worst outcome is a placeholder result
func (c *FallbackChain) Execute(ctx context.Context, req models.OptimizationRequest, policy config.OptimizationConfig) *models.OptimizedImageResult {
	start := time.Now()
	fb := policy.Fallback
	timeout := time.Duration(fb.TimeoutMs) * time.Millisecond
	logger := c.log.WithFunc().WithField("source", req.Source)

	src, err := runWithDeadline(ctx, timeout, func(ctx context.Context) (*SourceImage, error) {
		return c.engine.Prepare(ctx, req, policy)
	})
	if err != nil {
		logger.WithError(err).Warn("Source could not be prepared")
		return c.placeholder(req, src, err, start)
	}

	var (
		lastErr error
		retries int
	)
	strategy := StrategyEntry
	for {
		if strategy == StrategyPlaceholder {
			return c.placeholder(req, src, lastErr, start)
		}
		if strategy != StrategyEntry {
			if !fb.Enabled {
				return c.placeholder(req, src, lastErr, start)
			}
			if retries >= fb.MaxRetries {
				return c.placeholder(req, src, fmt.Errorf("retry budget of %d exhausted: %w", fb.MaxRetries, lastErr), start)
			}
			retries++
		}
		if ctx.Err() != nil {
			return c.placeholder(req, src, fmt.Errorf("%w: %v", models.ErrTimeout, ctx.Err()), start)
		}

		plan := c.engine.PlanFor(src, req.ContentType, policy, strategy)
		result, err := runWithDeadline(ctx, timeout, func(context.Context) (*models.OptimizedImageResult, error) {
			return c.engine.Transcode(src, plan)
		})

		if err == nil && strategy.Validated() {
			report := c.validator.Validate(src.Info(plan.ContentType), result, policy)
			if !report.IsValid {
				err = fmt.Errorf("validation rejected %s result (confidence %.2f)", strategy, report.ConfidenceScore)
			}
		}
		c.recordFallback(strategy, err == nil)

		if err == nil {
			result.ProcessingTimeMs = time.Since(start).Milliseconds()
			if strategy != StrategyEntry {
				logger.WithFields(logrus.Fields{
					"strategy": strategy,
					"retries":  retries,
				}).Info("Optimization succeeded after fallback")
			}
			return result
		}

		logger.WithError(err).WithField("strategy", strategy).Debug("Attempt failed")
		lastErr = err
		if errors.Is(err, models.ErrTimeout) || errors.Is(err, models.ErrResourceExhausted) {
			return c.placeholder(req, src, err, start)
		}
		strategy = strategy.Next()
	}
}

func (c *FallbackChain) recordFallback(strategy Strategy, success bool) {
	if c.metrics == nil || strategy == StrategyEntry {
		return
	}
	c.metrics.RecordFallback(string(strategy), success)
}

func (c *FallbackChain) placeholder(req models.OptimizationRequest, src *SourceImage, cause error, start time.Time) *models.OptimizedImageResult {
	c.recordFallback(StrategyPlaceholder, true)

	msg := "optimization failed"
	category := models.ErrorUnknown
	if cause != nil {
		msg = cause.Error()
		category = models.CategorizeErr(cause)
	}
	ct := req.ContentType
	if !ct.IsValid() {
		ct = models.ContentTypePhoto
	}

	result := &models.OptimizedImageResult{
		Data:             placeholderMarker,
		Format:           models.FormatPlaceholder,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Error:            msg,
		Metadata: models.ResultMetadata{
			ContentType:   ct,
			Technique:     models.TechniquePlaceholder,
			Strategy:      string(StrategyPlaceholder),
			ErrorCategory: category,
		},
	}
	if src != nil {
		result.OriginalSize = int64(len(src.Data))
		result.Dimensions.Original = src.Size
		result.Metadata.OriginalFormat = src.Format
	}

	c.log.WithFunc().WithFields(logrus.Fields{
		"source": req.Source,
		"error":  msg,
	}).Warn("Returning placeholder")
	return result
}
