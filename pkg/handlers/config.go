// pkg/handlers/config.go
package handlers

import (
	"errors"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/interfaces"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

// ConfigHandler exposes the runtime policy
type ConfigHandler struct {
	settings interfaces.SettingsServiceInterface
	log      *utils.Logger
}

func NewConfigHandler(settings interfaces.SettingsServiceInterface, log *utils.Logger) *ConfigHandler {
	return &ConfigHandler{
		settings: settings,
		log:      log,
	}
}

// invalidPolicy writes a 400 with every validation problem
func invalidPolicy(c *fiber.Ctx, err error) error {
	var ve *config.ValidationError
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":    "Invalid configuration",
			"problems": ve.Problems,
		})
	}
	return HTTPError(c, fiber.StatusBadRequest, err.Error())
}

// GET /config
func (h *ConfigHandler) GetConfig(c *fiber.Ctx) error {
	return c.JSON(h.settings.Current())
}

// UpdateConfig replaces the policy. A rejected policy leaves the current one active.
// PUT /config
func (h *ConfigHandler) UpdateConfig(c *fiber.Ctx) error {
	var p config.Policy
	if err := c.BodyParser(&p); err != nil {
		return HTTPError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.settings.Replace(p); err != nil {
		h.log.WithFunc().WithError(err).Warn("Configuration update rejected")
		return invalidPolicy(c, err)
	}

	h.log.WithFunc().WithField("user", c.Locals("username")).Info("Configuration updated via API")
	return c.JSON(h.settings.Current())
}

// ValidateConfig checks a policy without applying it
// POST /config/validate
func (h *ConfigHandler) ValidateConfig(c *fiber.Ctx) error {
	var p config.Policy
	if err := c.BodyParser(&p); err != nil {
		return HTTPError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.settings.Validate(p); err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			return c.JSON(fiber.Map{"valid": false, "problems": ve.Problems})
		}
		return c.JSON(fiber.Map{"valid": false, "problems": []string{err.Error()}})
	}
	return c.JSON(fiber.Map{"valid": true, "problems": []string{}})
}

// POST /config/reset
func (h *ConfigHandler) ResetConfig(c *fiber.Ctx) error {
	p := h.settings.Reset()
	h.log.WithFunc().WithField("user", c.Locals("username")).Info("Configuration reset to defaults")
	return c.JSON(p)
}

// ExportConfig downloads the versioned policy envelope
// GET /config/export
func (h *ConfigHandler) ExportConfig(c *fiber.Ctx) error {
	data, err := h.settings.Export()
	if err != nil {
		h.log.WithFunc().WithError(err).Error("Failed to export configuration")
		return HTTPError(c, fiber.StatusInternalServerError, err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	c.Attachment("image-optimizer-policy-" + time.Now().UTC().Format("20060102-150405") + ".json")
	return c.Send(data)
}

// ImportConfig activates an exported envelope after a schema version check
// POST /config/import
func (h *ConfigHandler) ImportConfig(c *fiber.Ctx) error {
	p, err := h.settings.Import(c.Body())
	if err != nil {
		h.log.WithFunc().WithError(err).Warn("Configuration import rejected")
		return invalidPolicy(c, err)
	}
	h.log.WithFunc().WithField("user", c.Locals("username")).Info("Configuration imported via API")
	return c.JSON(p)
}
