package service

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceConfig() config.SourceConfig {
	return config.DefaultPolicy().Optimization.Source
}

func TestSourceLoader_Remote(t *testing.T) {
	payload := []byte("fake image bytes")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			assert.Contains(t, r.Header.Get("User-Agent"), "image-optimizer")
			w.Write(payload)
		case "/big.png":
			w.Write(make([]byte, 100))
		case "/slow.png":
			time.Sleep(300 * time.Millisecond)
			w.Write(payload)
		case "/broken.png":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	loader := NewSourceLoader(server.Client(), utils.NewTestLogger())
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		data, err := loader.Load(ctx, server.URL+"/ok.png", sourceConfig())
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := loader.Load(ctx, server.URL+"/missing.png", sourceConfig())
		assert.ErrorIs(t, err, models.ErrSourceUnavailable)
		assert.ErrorIs(t, err, models.ErrSourceNotFound)
		assert.Equal(t, models.ErrorNotFound, models.CategorizeError(err.Error()))
	})

	t.Run("upstream error", func(t *testing.T) {
		_, err := loader.Load(ctx, server.URL+"/broken.png", sourceConfig())
		assert.ErrorIs(t, err, models.ErrSourceUnavailable)
		assert.Contains(t, err.Error(), "status 502")
		assert.ErrorIs(t, err, models.ErrSourceNetwork)
		assert.Equal(t, models.ErrorNetwork, models.CategorizeErr(err))
	})

	t.Run("over memory limit", func(t *testing.T) {
		cfg := sourceConfig()
		cfg.MaxBytes = 10
		_, err := loader.Load(ctx, server.URL+"/big.png", cfg)
		assert.ErrorIs(t, err, models.ErrResourceExhausted)
	})

	t.Run("timeout", func(t *testing.T) {
		cfg := sourceConfig()
		cfg.TimeoutMs = 50
		_, err := loader.Load(ctx, server.URL+"/slow.png", cfg)
		assert.ErrorIs(t, err, models.ErrTimeout)
	})
}

func TestSourceLoader_Local(t *testing.T) {
	dir := t.TempDir()
	loader := NewSourceLoader(nil, utils.NewTestLogger())
	ctx := context.Background()

	p := writeSource(t, dir, "a.png", []byte("bytes"))

	data, err := loader.Load(ctx, p, sourceConfig())
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)

	data, err = loader.Load(ctx, "file://"+p, sourceConfig())
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), data)

	_, err = loader.Load(ctx, filepath.Join(dir, "missing.png"), sourceConfig())
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
	assert.Equal(t, models.ErrorNotFound, models.CategorizeError(err.Error()))

	_, err = loader.Load(ctx, dir, sourceConfig())
	assert.ErrorIs(t, err, models.ErrFormatInvalid)

	empty := writeSource(t, dir, "empty.png", nil)
	_, err = loader.Load(ctx, empty, sourceConfig())
	assert.ErrorIs(t, err, models.ErrFormatInvalid)
	assert.Equal(t, models.ErrorFormat, models.CategorizeError(err.Error()))

	cfg := sourceConfig()
	cfg.MaxBytes = 2
	_, err = loader.Load(ctx, p, cfg)
	assert.ErrorIs(t, err, models.ErrResourceExhausted)

	_, err = loader.Load(ctx, "  ", sourceConfig())
	assert.ErrorIs(t, err, models.ErrSourceUnavailable)
}

func TestSourceLoader_DataURI(t *testing.T) {
	loader := NewSourceLoader(nil, utils.NewTestLogger())
	ctx := context.Background()
	payload := []byte("qr code bytes")

	data, err := loader.Load(ctx, "data:image/png;base64,"+base64.StdEncoding.EncodeToString(payload), sourceConfig())
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	_, err = loader.Load(ctx, "data:image/png,rawtext", sourceConfig())
	assert.ErrorIs(t, err, models.ErrFormatInvalid)

	_, err = loader.Load(ctx, "data:image/png;base64", sourceConfig())
	assert.ErrorIs(t, err, models.ErrFormatInvalid)

	_, err = loader.Load(ctx, "data:image/png;base64,!!!", sourceConfig())
	assert.ErrorIs(t, err, models.ErrFormatInvalid)
}
