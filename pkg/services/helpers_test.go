package service

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"image-optimizer/config"
	"image-optimizer/pkg/utils"

	"github.com/stretchr/testify/require"
)

// newTestSettings returns a settings service whose cache lives in a temp dir
func newTestSettings(t *testing.T, mutate func(p *config.Policy)) *SettingsService {
	t.Helper()
	p := config.DefaultPolicy()
	p.Cache.Path = filepath.Join(t.TempDir(), "cache")
	p.Cache.Retention.MinFreeDiskPercent = 0
	if mutate != nil {
		mutate(&p)
	}
	s, err := NewSettingsService(p, utils.NewTestLogger())
	require.NoError(t, err)
	return s
}

// photoImage has enough detail to behave like a photograph under JPEG
func photoImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x*y + x*7) % 256),
				A: 255,
			})
		}
	}
	return img
}

// flatImage is a two-color banner, like a logo or a scanned line of text
func flatImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if (x/20+y/20)%2 == 0 {
				c = color.RGBA{R: 20, G: 40, B: 160, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// writeSource writes data into dir and returns its path
func writeSource(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

// newTestChain wires the real engine, validator and collector
func newTestChain(settings *SettingsService) (*FallbackChain, *MetricsCollector) {
	log := utils.NewTestLogger()
	metrics := NewMetricsCollector(settings, nil, nil, log)
	engine := NewOptimizationEngine(NewSourceLoader(nil, log), log)
	return NewFallbackChain(engine, NewValidationService(log), metrics, log), metrics
}
