// pkg/handlers/backup.go
package handlers

import (
	cfg "image-optimizer/config"
	"image-optimizer/pkg/interfaces"
	utils "image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

type BackupHandler struct {
	backupService interfaces.BackupServiceInterface
	log           *utils.Logger
	config        *cfg.Config
}

// NewBackupHandler accepts a nil service when backup is disabled
func NewBackupHandler(backupService interfaces.BackupServiceInterface, log *utils.Logger, config *cfg.Config) *BackupHandler {
	return &BackupHandler{
		backupService: backupService,
		log:           log,
		config:        config,
	}
}

func (h *BackupHandler) IsBackupEnabled() bool {
	if h.config == nil {
		h.log.Warn("⚠️ Backup config is nil, considering backup as disabled")
		return false
	}
	return h.config.Backup.Enabled && h.backupService != nil
}

// GET /backup/status
func (h *BackupHandler) GetBackupStatus(c *fiber.Ctx) error {
	if h.config == nil {
		h.log.Warn("⚠️ Backup config is nil, returning disabled status")
		return c.JSON(fiber.Map{
			"enabled":  false,
			"provider": "none",
			"message":  "Backup configuration is not available",
		})
	}

	provider := h.config.Backup.Provider
	if p, ok := h.backupService.(interface{ Provider() string }); ok {
		provider = p.Provider()
	}
	return c.JSON(fiber.Map{
		"enabled":  h.IsBackupEnabled(),
		"provider": provider,
		"prefix":   h.config.Backup.Prefix,
	})
}

// POST /backup
func (h *BackupHandler) HandleBackup(c *fiber.Ctx) error {
	if !h.IsBackupEnabled() {
		return HTTPError(c, fiber.StatusBadRequest, "Backup is not enabled")
	}
	if err := h.backupService.Backup(c.UserContext()); err != nil {
		h.log.WithError(err).Error("❌ Backup failed")
		return HTTPError(c, fiber.StatusInternalServerError, err.Error())
	}

	h.log.Info("✅ Backup successful")
	return c.JSON(fiber.Map{
		"message": "Backup completed successfully",
	})
}

// POST /restore
func (h *BackupHandler) HandleRestore(c *fiber.Ctx) error {
	if !h.IsBackupEnabled() {
		return HTTPError(c, fiber.StatusBadRequest, "Backup is not enabled")
	}
	if err := h.backupService.Restore(c.UserContext()); err != nil {
		h.log.WithError(err).Error("❌ Restore failed")
		return HTTPError(c, fiber.StatusInternalServerError, err.Error())
	}

	h.log.Info("✅ Restore successful")
	return c.JSON(fiber.Map{
		"message": "Restore completed successfully",
	})
}
