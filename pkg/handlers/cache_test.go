package handlers

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http/httptest"
	"testing"

	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupCacheTest() (*fiber.App, *MockCacheService) {
	cache := new(MockCacheService)
	handler := NewCacheHandler(cache, utils.NewTestLogger())

	app := fiber.New()
	app.Get("/cache/status", handler.GetCacheStatus)
	app.Get("/cache/entries", handler.ListEntries)
	app.Delete("/cache/entry", handler.DeleteEntry)
	app.Post("/cache/purge", handler.PurgeCache)
	return app, cache
}

func TestCacheHandler_Status(t *testing.T) {
	app, cache := setupCacheTest()
	cache.On("Summary").Return(models.StorageSummary{
		Enabled:    true,
		TotalSize:  2048,
		MaxSize:    4096,
		EntryCount: 3,
		Hits:       3,
		Misses:     1,
		HitRate:    0.75,
	})
	cache.On("GetBasePath").Return("/data/image-cache")

	resp, err := app.Test(httptest.NewRequest("GET", "/cache/status", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, "/data/image-cache", body["path"])
	assert.Equal(t, float64(3), body["entryCount"])
	assert.Equal(t, 0.75, body["hitRate"])
}

func TestCacheHandler_ListEntries(t *testing.T) {
	app, cache := setupCacheTest()
	cache.On("ListEntries").Return([]models.CacheEntry{
		{Key: "a_00000000.jpg", Size: 10},
		{Key: "photo/b_11111111.jpg", Size: 20},
	}, nil).Once()
	cache.On("ListEntries").Return([]models.CacheEntry(nil), errors.New("storage unavailable: read-only")).Once()

	resp, err := app.Test(httptest.NewRequest("GET", "/cache/entries", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, float64(2), readJSON(t, resp)["count"])

	resp, err = app.Test(httptest.NewRequest("GET", "/cache/entries", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

func TestCacheHandler_DeleteEntry(t *testing.T) {
	app, cache := setupCacheTest()

	cache.On("InvalidateKey", "photo/beach_1a2b3c4d.jpg").Return(nil)
	cache.On("InvalidateKey", "gone.jpg").Return(fmt.Errorf("cache entry gone.jpg: %w", fs.ErrNotExist))
	cache.On("InvalidateKey", "locked.jpg").Return(errors.New("permission denied"))
	cache.On("Invalidate", models.OptimizationRequest{Source: "uploads/beach.jpg", ContentType: models.ContentTypePhoto}).Return(2, nil)
	cache.On("Invalidate", models.OptimizationRequest{Source: "uploads/none.jpg", ContentType: models.ContentTypeLogo}).Return(0, nil)

	tests := []struct {
		name           string
		query          string
		expectedStatus int
	}{
		{"by key", "key=photo/beach_1a2b3c4d.jpg", 200},
		{"unknown key", "key=gone.jpg", 404},
		{"delete failure", "key=locked.jpg", 500},
		{"key escaping the root", "key=../secret.jpg", 400},
		{"by source", "source=uploads/beach.jpg", 200},
		{"source without entries", "source=uploads/none.jpg&contentType=logo", 404},
		{"bad content type", "source=uploads/none.jpg&contentType=banner", 400},
		{"nothing given", "", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("DELETE", "/cache/entry?"+tt.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
		})
	}

	cache.AssertNotCalled(t, "InvalidateKey", "../secret.jpg")
	cache.AssertNotCalled(t, "Invalidate", models.OptimizationRequest{Source: "uploads/none.jpg", ContentType: models.ContentTypePhoto})
}

func TestCacheHandler_Purge(t *testing.T) {
	app, cache := setupCacheTest()
	cache.On("Purge").Return(7, nil)

	resp, err := app.Test(httptest.NewRequest("POST", "/cache/purge", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, float64(7), readJSON(t, resp)["removed"])
	cache.AssertCalled(t, "Purge")
	cache.AssertNotCalled(t, "InvalidateKey", mock.Anything)
}
