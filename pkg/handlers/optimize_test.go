package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// readJSON décode le corps de la réponse
func readJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func sampleResult(data []byte) *models.OptimizedImageResult {
	return &models.OptimizedImageResult{
		Data:             data,
		OriginalSize:     1000,
		OptimizedSize:    int64(len(data)),
		CompressionRatio: models.CompressionRatio(1000, int64(len(data))),
		Format:           models.FormatJPEG,
		Metadata: models.ResultMetadata{
			ContentType: models.ContentTypePhoto,
			Technique:   models.TechniqueAggressive,
			CacheKey:    "beach_1a2b3c4d.jpg",
		},
	}
}

func setupOptimizeTest() (*fiber.App, *MockOptimizer) {
	optimizer := new(MockOptimizer)
	handler := NewOptimizeHandler(optimizer, utils.NewTestLogger())

	app := fiber.New()
	app.Post("/optimize", handler.Optimize)
	app.Get("/optimize/raw", handler.OptimizeRaw)
	app.Post("/optimize/batch", handler.OptimizeBatch)
	return app, optimizer
}

func TestOptimizeHandler_Optimize(t *testing.T) {
	app, optimizer := setupOptimizeTest()

	expected := models.OptimizationRequest{Source: "uploads/beach.jpg", ContentType: models.ContentTypeLogo}
	optimizer.On("Optimize", mock.Anything, expected).Return(sampleResult([]byte("jpeg"))).Once()

	resp, err := app.Test(jsonRequest("POST", "/optimize", `{"source":"uploads/beach.jpg","contentType":"LOGO"}`))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body := readJSON(t, resp)
	assert.Equal(t, "jpeg", body["format"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg")), body["data"])
	optimizer.AssertExpectations(t)
}

func TestOptimizeHandler_OptimizeRejectsBadInput(t *testing.T) {
	app, optimizer := setupOptimizeTest()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"source":`},
		{"missing source", `{"contentType":"photo"}`},
		{"unknown content type", `{"source":"a.jpg","contentType":"banner"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest("POST", "/optimize", tt.body))
			require.NoError(t, err)
			assert.Equal(t, 400, resp.StatusCode)
			assert.NotEmpty(t, readJSON(t, resp)["error"])
		})
	}
	optimizer.AssertNotCalled(t, "Optimize", mock.Anything, mock.Anything)
}

func TestOptimizeHandler_OptimizeRaw(t *testing.T) {
	app, optimizer := setupOptimizeTest()

	optimizer.On("Optimize", mock.Anything, models.OptimizationRequest{Source: "beach.jpg", ContentType: models.ContentTypePhoto}).
		Return(sampleResult([]byte("jpeg-bytes"))).Once()
	optimizer.On("Optimize", mock.Anything, models.OptimizationRequest{Source: "missing.jpg", ContentType: models.ContentTypePhoto}).
		Return(&models.OptimizedImageResult{
			Format: models.FormatPlaceholder,
			Error:  "source unavailable: file missing.jpg not found",
			Metadata: models.ResultMetadata{
				ContentType: models.ContentTypePhoto,
				Technique:   models.TechniquePlaceholder,
			},
		}).Once()

	t.Run("streams bytes", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/optimize/raw?source=beach.jpg", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
		assert.Equal(t, "1000", resp.Header.Get("X-Original-Size"))
		assert.Equal(t, "aggressive", resp.Header.Get("X-Optimization-Technique"))
		assert.Equal(t, "beach_1a2b3c4d.jpg", resp.Header.Get("X-Cache-Key"))

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "jpeg-bytes", string(data))
	})

	t.Run("placeholder is unprocessable", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/optimize/raw?source=missing.jpg", nil))
		require.NoError(t, err)
		assert.Equal(t, 422, resp.StatusCode)

		body := readJSON(t, resp)
		assert.Equal(t, "placeholder", body["format"])
		assert.Contains(t, body["error"], "not found")
	})

	t.Run("missing source", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/optimize/raw", nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	optimizer.AssertExpectations(t)
}

func TestOptimizeHandler_OptimizeBatch(t *testing.T) {
	app, optimizer := setupOptimizeTest()

	reqs := []models.OptimizationRequest{
		{Source: "a.jpg", ContentType: models.ContentTypePhoto},
		{Source: "b.png", ContentType: models.ContentTypeText},
	}
	optimizer.On("OptimizeBatch", mock.Anything, reqs).
		Return([]*models.OptimizedImageResult{sampleResult([]byte("a")), sampleResult([]byte("b"))})

	t.Run("with data", func(t *testing.T) {
		resp, err := app.Test(jsonRequest("POST", "/optimize/batch",
			`{"requests":[{"source":"a.jpg"},{"source":"b.png","contentType":"text"}]}`))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		body := readJSON(t, resp)
		assert.Equal(t, float64(2), body["count"])
		results := body["results"].([]interface{})
		require.Len(t, results, 2)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("a")), results[0].(map[string]interface{})["data"])
	})

	t.Run("without data", func(t *testing.T) {
		resp, err := app.Test(jsonRequest("POST", "/optimize/batch?includeData=false",
			`{"requests":[{"source":"a.jpg"},{"source":"b.png","contentType":"text"}]}`))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)

		results := readJSON(t, resp)["results"].([]interface{})
		require.Len(t, results, 2)
		_, hasData := results[1].(map[string]interface{})["data"]
		assert.False(t, hasData)
	})

	var tooMany bytes.Buffer
	tooMany.WriteString(`{"requests":[`)
	for i := 0; i <= maxBatchSize; i++ {
		if i > 0 {
			tooMany.WriteString(",")
		}
		fmt.Fprintf(&tooMany, `{"source":"img-%d.jpg"}`, i)
	}
	tooMany.WriteString(`]}`)

	rejected := []struct {
		name string
		body string
	}{
		{"empty batch", `{"requests":[]}`},
		{"too many", tooMany.String()},
		{"invalid entry", `{"requests":[{"source":"a.jpg"},{"source":""}]}`},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(jsonRequest("POST", "/optimize/batch", tt.body))
			require.NoError(t, err)
			assert.Equal(t, 400, resp.StatusCode)
		})
	}

	optimizer.AssertNumberOfCalls(t, "OptimizeBatch", 2)
}
