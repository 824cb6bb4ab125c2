// pkg/services/pipeline.go
package service

import (
	"context"
	"time"

	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ImageOptimizationService is the entry point used by document generation:
// cache lookup, fallback chain on a miss, best-effort cache write, metrics.
type ImageOptimizationService struct {
	settings interfaces.SettingsServiceInterface
	cache    interfaces.CacheServiceInterface
	chain    *FallbackChain
	metrics  interfaces.MetricsCollectorInterface
	log      *utils.Logger
}

func NewImageOptimizationService(
	settings interfaces.SettingsServiceInterface,
	cache interfaces.CacheServiceInterface,
	chain *FallbackChain,
	metrics interfaces.MetricsCollectorInterface,
	log *utils.Logger,
) *ImageOptimizationService {
	return &ImageOptimizationService{
		settings: settings,
		cache:    cache,
		chain:    chain,
		metrics:  metrics,
		log:      log,
	}
}

// Optimize never returns an error; failures come back as placeholder results
func (s *ImageOptimizationService) Optimize(ctx context.Context, req models.OptimizationRequest) *models.OptimizedImageResult {
	opID := uuid.NewString()
	result := s.optimize(ctx, req, opID)
	if s.metrics != nil {
		s.metrics.Record(result, opID)
	}
	return result
}

// OptimizeBatch keeps the input order. At most Batch.MaxConcurrent
// images are processed at the same time.
func (s *ImageOptimizationService) OptimizeBatch(ctx context.Context, reqs []models.OptimizationRequest) []*models.OptimizedImageResult {
	opID := uuid.NewString()
	results := make([]*models.OptimizedImageResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	limit := s.settings.Current().Optimization.Batch.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = s.optimize(gctx, req, opID)
			return nil
		})
	}
	_ = g.Wait()

	if s.metrics != nil {
		s.metrics.RecordBatch(results, opID)
	}

	s.log.WithFunc().WithFields(logrus.Fields{
		"operationId": opID,
		"count":       len(reqs),
		"concurrency": limit,
		"durationMs":  time.Since(start).Milliseconds(),
	}).Info("Batch optimization completed")
	return results
}

func (s *ImageOptimizationService) optimize(ctx context.Context, req models.OptimizationRequest, opID string) *models.OptimizedImageResult {
	req.ContentType = models.ParseContentType(string(req.ContentType))
	logger := s.log.WithFunc().WithFields(logrus.Fields{
		"operationId": opID,
		"source":      req.Source,
	})

	policy := s.settings.Current()
	if err := utils.ValidateSource(req.Source, policy.Optimization.Source.MaxBytes); err != nil {
		return s.chain.placeholder(req, nil, err, time.Now())
	}

	if s.cache != nil {
		if cached, ok := s.cache.Lookup(req); ok {
			logger.WithField("key", cached.Metadata.CacheKey).Debug("Cache hit")
			return cached
		}
	}

	result := s.chain.Execute(ctx, req, policy.Optimization)

	if s.cache != nil {
		outcome, err := s.cache.Store(req, result)
		switch {
		case err != nil:
			logger.WithError(err).Warn("Failed to store optimized image in cache")
		case outcome.SidecarErr != nil:
			logger.WithError(outcome.SidecarErr).Warn("Cache sidecar not written")
		case outcome.Skipped:
			logger.WithField("reason", outcome.Reason).Debug("Cache write skipped")
		}
	}
	return result
}
