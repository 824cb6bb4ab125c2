// pkg/handlers/metrics.go
package handlers

import (
	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

// MetricsHandler exposes the session statistics
type MetricsHandler struct {
	metrics interfaces.MetricsCollectorInterface
	log     *utils.Logger
}

func NewMetricsHandler(metrics interfaces.MetricsCollectorInterface, log *utils.Logger) *MetricsHandler {
	return &MetricsHandler{
		metrics: metrics,
		log:     log,
	}
}

// GET /metrics/summary
func (h *MetricsHandler) GetSummary(c *fiber.Ctx) error {
	return c.JSON(h.metrics.MonitoringSummary())
}

// GET /metrics/snapshot
func (h *MetricsHandler) GetSnapshot(c *fiber.Ctx) error {
	return c.JSON(h.metrics.Snapshot())
}

// GET /metrics/history
func (h *MetricsHandler) GetHistory(c *fiber.Ctx) error {
	history := h.metrics.History()
	return c.JSON(fiber.Map{
		"count":   len(history),
		"history": history,
	})
}

// ResetMetrics archives the current session and starts a new one
// POST /metrics/reset
func (h *MetricsHandler) ResetMetrics(c *fiber.Ctx) error {
	archived := h.metrics.Reset()
	h.log.WithFunc().WithField("user", c.Locals("username")).Info("Metrics reset via API")
	return c.JSON(fiber.Map{
		"message":  "Metrics reset",
		"archived": archived,
	})
}
