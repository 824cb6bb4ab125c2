// pkg/handlers/retention.go
package handlers

import (
	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

// RetentionHandler handles cache retention HTTP requests
type RetentionHandler struct {
	retention interfaces.RetentionServiceInterface
	log       *utils.Logger
}

func NewRetentionHandler(retention interfaces.RetentionServiceInterface, log *utils.Logger) *RetentionHandler {
	return &RetentionHandler{
		retention: retention,
		log:       log,
	}
}

// RunRetention triggers a retention pass
// POST /cache/retention?dryRun=true|false
func (h *RetentionHandler) RunRetention(c *fiber.Ctx) error {
	dryRun := c.Query("dryRun", "false") == "true"

	h.log.WithFunc().WithField("dryRun", dryRun).Info("Retention triggered via API")

	result, err := h.retention.Run(dryRun)
	if err != nil {
		h.log.WithFunc().WithError(err).Error("Retention failed")
		return HTTPError(c, 500, "Cache retention failed")
	}

	if result == nil {
		return c.Status(409).JSON(fiber.Map{
			"error":   "Retention already running",
			"message": "A retention pass is already in progress",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"dryRun":  dryRun,
		"result":  result,
	})
}

// GetLastResult returns the outcome of the previous pass
// GET /cache/retention
func (h *RetentionHandler) GetLastResult(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"running": h.retention.IsRunning(),
		"last":    h.retention.LastResult(),
	})
}
