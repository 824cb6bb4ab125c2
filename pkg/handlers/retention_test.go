package handlers

import (
	"errors"
	"net/http/httptest"
	"testing"

	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRetentionTest() (*fiber.App, *MockRetentionService) {
	retention := new(MockRetentionService)
	handler := NewRetentionHandler(retention, utils.NewTestLogger())

	app := fiber.New()
	app.Get("/cache/retention", handler.GetLastResult)
	app.Post("/cache/retention", handler.RunRetention)
	return app, retention
}

func TestRetentionHandler_RunRetention(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		dryRun         bool
		result         *models.RetentionResult
		err            error
		expectedStatus int
	}{
		{"dry run", "?dryRun=true", true, &models.RetentionResult{DryRun: true, ExpiredDeleted: 2}, nil, 200},
		{"real run", "", false, &models.RetentionResult{SizeEvicted: 1}, nil, 200},
		{"already running", "", false, nil, nil, 409},
		{"failure", "", false, nil, errors.New("storage unavailable"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, retention := setupRetentionTest()
			retention.On("Run", tt.dryRun).Return(tt.result, tt.err)

			resp, err := app.Test(httptest.NewRequest("POST", "/cache/retention"+tt.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == 200 {
				body := readJSON(t, resp)
				assert.Equal(t, tt.dryRun, body["dryRun"])
				assert.NotNil(t, body["result"])
			}
			retention.AssertExpectations(t)
		})
	}
}

func TestRetentionHandler_GetLastResult(t *testing.T) {
	app, retention := setupRetentionTest()
	retention.On("IsRunning").Return(false)
	retention.On("LastResult").Return(&models.RetentionResult{CountEvicted: 3, RemainingEntries: 10})

	resp, err := app.Test(httptest.NewRequest("GET", "/cache/retention", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, false, body["running"])
	assert.Equal(t, float64(3), body["last"].(map[string]interface{})["countEvicted"])
}
