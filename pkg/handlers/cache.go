// pkg/handlers/cache.go
package handlers

import (
	"errors"
	"io/fs"

	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

// CacheHandler handles cache management HTTP requests
type CacheHandler struct {
	log   *utils.Logger
	cache interfaces.CacheServiceInterface
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cache interfaces.CacheServiceInterface, log *utils.Logger) *CacheHandler {
	return &CacheHandler{
		cache: cache,
		log:   log,
	}
}

// GetCacheStatus returns cache statistics
// GET /cache/status
func (h *CacheHandler) GetCacheStatus(c *fiber.Ctx) error {
	h.log.WithFunc().Debug("Getting cache status")

	if h.cache == nil {
		return c.JSON(fiber.Map{
			"enabled": false,
		})
	}

	summary := h.cache.Summary()
	return c.JSON(fiber.Map{
		"enabled":                 summary.Enabled,
		"path":                    h.cache.GetBasePath(),
		"totalSize":               summary.TotalSize,
		"maxSize":                 summary.MaxSize,
		"entryCount":              summary.EntryCount,
		"hits":                    summary.Hits,
		"misses":                  summary.Misses,
		"hitRate":                 summary.HitRate,
		"averageCompressionRatio": summary.AverageCompressionRatio,
		"usagePercent":            summary.UsagePercent,
	})
}

// ListEntries returns all cached entries with their sidecar metadata
// GET /cache/entries
func (h *CacheHandler) ListEntries(c *fiber.Ctx) error {
	h.log.WithFunc().Debug("Listing cache entries")

	if h.cache == nil {
		return c.JSON(fiber.Map{
			"entries": []models.CacheEntry{},
		})
	}

	entries, err := h.cache.ListEntries()
	if err != nil {
		h.log.WithFunc().WithError(err).Error("Failed to list cache entries")
		return HTTPError(c, 500, err.Error())
	}

	return c.JSON(fiber.Map{
		"count":   len(entries),
		"entries": entries,
	})
}

// DeleteEntry removes one entry, by key or by source locator
// DELETE /cache/entry?key=... or ?source=...&contentType=...
func (h *CacheHandler) DeleteEntry(c *fiber.Ctx) error {
	if h.cache == nil {
		return HTTPError(c, 400, "Cache not enabled")
	}

	if key := c.Query("key"); key != "" {
		h.log.WithFunc().WithField("key", key).Debug("Deleting cache entry")
		if err := utils.ValidateCacheKey(key); err != nil {
			return HTTPError(c, 400, err.Error())
		}
		if err := h.cache.InvalidateKey(key); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return HTTPError(c, 404, "Cache entry not found")
			}
			h.log.WithFunc().WithError(err).Error("Failed to delete cache entry")
			return HTTPError(c, 500, err.Error())
		}
		return c.JSON(fiber.Map{
			"message": "Cache entry deleted",
			"key":     key,
			"removed": 1,
		})
	}

	source := c.Query("source")
	if err := utils.ValidateSource(source, 0); err != nil {
		return HTTPError(c, 400, "key or source is required")
	}
	if err := utils.ValidateContentType(c.Query("contentType")); err != nil {
		return HTTPError(c, 400, err.Error())
	}

	removed, err := h.cache.Invalidate(models.OptimizationRequest{
		Source:      source,
		ContentType: models.ParseContentType(c.Query("contentType")),
	})
	if err != nil {
		h.log.WithFunc().WithError(err).Error("Failed to invalidate cache entries")
		return HTTPError(c, 500, err.Error())
	}
	if removed == 0 {
		return HTTPError(c, 404, "Cache entry not found")
	}

	return c.JSON(fiber.Map{
		"message": "Cache entries invalidated",
		"source":  source,
		"removed": removed,
	})
}

// PurgeCache clears all cached entries
// POST /cache/purge
func (h *CacheHandler) PurgeCache(c *fiber.Ctx) error {
	h.log.WithFunc().Info("Purging cache")

	if h.cache == nil {
		return HTTPError(c, 400, "Cache not enabled")
	}

	removed, err := h.cache.Purge()
	if err != nil {
		h.log.WithFunc().WithError(err).Error("Failed to purge cache")
		return HTTPError(c, 500, err.Error())
	}

	return c.JSON(fiber.Map{
		"message": "Cache purged",
		"removed": removed,
	})
}
