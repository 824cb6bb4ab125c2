package handlers

import (
	"errors"
	"net/http/httptest"
	"testing"

	"image-optimizer/config"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupBackupTest(svc *MockBackupService, cfg *config.Config) *fiber.App {
	var handler *BackupHandler
	if svc == nil {
		handler = NewBackupHandler(nil, utils.NewTestLogger(), cfg)
	} else {
		handler = NewBackupHandler(svc, utils.NewTestLogger(), cfg)
	}

	app := fiber.New()
	app.Get("/backup/status", handler.GetBackupStatus)
	app.Post("/backup", handler.HandleBackup)
	app.Post("/restore", handler.HandleRestore)
	return app
}

func TestBackupHandler_Disabled(t *testing.T) {
	app := setupBackupTest(nil, config.Default())

	for _, target := range []string{"/backup", "/restore"} {
		resp, err := app.Test(httptest.NewRequest("POST", target, nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode, target)
		assert.Equal(t, "Backup is not enabled", readJSON(t, resp)["error"])
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/backup/status", nil))
	require.NoError(t, err)
	assert.Equal(t, false, readJSON(t, resp)["enabled"])
}

func TestBackupHandler_NilConfig(t *testing.T) {
	app := setupBackupTest(nil, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/backup/status", nil))
	require.NoError(t, err)
	body := readJSON(t, resp)
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, "none", body["provider"])
}

func TestBackupHandler_Enabled(t *testing.T) {
	cfg := config.Default()
	cfg.Backup.Enabled = true
	cfg.Backup.Provider = "aws"
	cfg.Backup.Prefix = "image-cache"

	svc := new(MockBackupService)
	svc.On("Backup", mock.Anything).Return(nil)
	svc.On("Restore", mock.Anything).Return(errors.New("bucket not reachable"))
	app := setupBackupTest(svc, cfg)

	resp, err := app.Test(httptest.NewRequest("GET", "/backup/status", nil))
	require.NoError(t, err)
	body := readJSON(t, resp)
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, "aws", body["provider"])
	assert.Equal(t, "image-cache", body["prefix"])

	resp, err = app.Test(httptest.NewRequest("POST", "/backup", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/restore", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "bucket not reachable", readJSON(t, resp)["error"])

	svc.AssertExpectations(t)
}
