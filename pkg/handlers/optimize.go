// pkg/handlers/optimize.go
package handlers

import (
	"strconv"

	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const maxBatchSize = 100

// OptimizeHandler exposes the optimization pipeline over HTTP
type OptimizeHandler struct {
	optimizer interfaces.ImageOptimizationServiceInterface
	log       *utils.Logger
}

func NewOptimizeHandler(optimizer interfaces.ImageOptimizationServiceInterface, log *utils.Logger) *OptimizeHandler {
	return &OptimizeHandler{
		optimizer: optimizer,
		log:       log,
	}
}

type optimizeRequest struct {
	Source      string `json:"source"`
	ContentType string `json:"contentType"`
}

func (r optimizeRequest) validate() (models.OptimizationRequest, error) {
	if err := utils.ValidateSource(r.Source, 0); err != nil {
		return models.OptimizationRequest{}, err
	}
	if err := utils.ValidateContentType(r.ContentType); err != nil {
		return models.OptimizationRequest{}, err
	}
	return models.OptimizationRequest{
		Source:      r.Source,
		ContentType: models.ParseContentType(r.ContentType),
	}, nil
}

// Optimize returns the result as JSON, data base64 encoded
// POST /optimize
func (h *OptimizeHandler) Optimize(c *fiber.Ctx) error {
	var body optimizeRequest
	if err := c.BodyParser(&body); err != nil {
		return HTTPError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req, err := body.validate()
	if err != nil {
		return HTTPError(c, fiber.StatusBadRequest, err.Error())
	}

	result := h.optimizer.Optimize(c.UserContext(), req)
	return c.JSON(result)
}

// OptimizeRaw streams the optimized bytes with their content type
// GET /optimize/raw?source=...&contentType=...
func (h *OptimizeHandler) OptimizeRaw(c *fiber.Ctx) error {
	req, err := optimizeRequest{
		Source:      c.Query("source"),
		ContentType: c.Query("contentType"),
	}.validate()
	if err != nil {
		return HTTPError(c, fiber.StatusBadRequest, err.Error())
	}

	result := h.optimizer.Optimize(c.UserContext(), req)
	if !result.Succeeded() {
		h.log.WithFunc().WithFields(logrus.Fields{
			"source": req.Source,
			"error":  result.Error,
		}).Warn("Optimization returned a placeholder")
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":     result.Error,
			"format":    result.Format,
			"technique": result.Metadata.Technique,
		})
	}

	c.Set(fiber.HeaderContentType, result.Format.MIMEType())
	c.Set("X-Original-Size", strconv.FormatInt(result.OriginalSize, 10))
	c.Set("X-Compression-Ratio", strconv.FormatFloat(result.CompressionRatio, 'f', 4, 64))
	c.Set("X-Optimization-Technique", string(result.Metadata.Technique))
	if result.Metadata.CacheKey != "" {
		c.Set("X-Cache-Key", result.Metadata.CacheKey)
	}
	return c.Send(result.Data)
}

// OptimizeBatch processes several images, results in request order
// POST /optimize/batch?includeData=false
func (h *OptimizeHandler) OptimizeBatch(c *fiber.Ctx) error {
	var body struct {
		Requests []optimizeRequest `json:"requests"`
	}
	if err := c.BodyParser(&body); err != nil {
		return HTTPError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if len(body.Requests) == 0 {
		return HTTPError(c, fiber.StatusBadRequest, "requests cannot be empty")
	}
	if len(body.Requests) > maxBatchSize {
		return HTTPError(c, fiber.StatusBadRequest, "too many requests in batch: max "+strconv.Itoa(maxBatchSize))
	}

	reqs := make([]models.OptimizationRequest, 0, len(body.Requests))
	for i, r := range body.Requests {
		req, err := r.validate()
		if err != nil {
			return HTTPError(c, fiber.StatusBadRequest, "request "+strconv.Itoa(i)+": "+err.Error())
		}
		reqs = append(reqs, req)
	}

	results := h.optimizer.OptimizeBatch(c.UserContext(), reqs)
	if !c.QueryBool("includeData", true) {
		trimmed := make([]models.OptimizedImageResult, len(results))
		for i, r := range results {
			trimmed[i] = *r
			trimmed[i].Data = nil
		}
		return c.JSON(fiber.Map{"count": len(trimmed), "results": trimmed})
	}
	return c.JSON(fiber.Map{"count": len(results), "results": results})
}
