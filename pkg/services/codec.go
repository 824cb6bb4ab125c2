// pkg/services/codec.go
package service

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"image-optimizer/pkg/models"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// SourceImage is a loaded and decoded source. Image is nil when decoding failed.
type SourceImage struct {
	Data     []byte
	Image    image.Image
	Format   string
	Size     models.Size
	HasAlpha bool
}

// Info describes the source for the validator
func (s *SourceImage) Info(ct models.ContentType) models.SourceInfo {
	return models.SourceInfo{
		Size:        int64(len(s.Data)),
		Dimensions:  s.Size,
		Format:      s.Format,
		ContentType: ct,
	}
}

// DecodeSource decodes data after checking the pixel count from the header,
// so an oversized image is rejected before its pixels are allocated.
func DecodeSource(data []byte, maxPixels int64) (*SourceImage, error) {
	src := &SourceImage{Data: data}
	if len(data) == 0 {
		return src, fmt.Errorf("%w: empty image (zero bytes)", models.ErrFormatInvalid)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return src, fmt.Errorf("%w: decode header: %v", models.ErrFormatInvalid, err)
	}
	src.Format = format
	src.Size = models.Size{Width: cfg.Width, Height: cfg.Height}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return src, fmt.Errorf("%w: degenerate dimensions %dx%d", models.ErrFormatInvalid, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return src, fmt.Errorf("%w: %dx%d image exceeds memory limit of %d pixels", models.ErrResourceExhausted, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return src, fmt.Errorf("%w: decode %s: %v", models.ErrFormatInvalid, format, err)
	}
	src.Image = img
	src.HasAlpha = hasAlpha(img)
	return src, nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

// Resize scales img to exactly target using the given interpolator
func Resize(img image.Image, target models.Size, interp draw.Interpolator) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EncodeJPEG flattens transparency onto white, documents have white paper
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if hasAlpha(img) {
		b := img.Bounds()
		flat := image.NewRGBA(b)
		draw.Draw(flat, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
		draw.Draw(flat, b, img, b.Min, draw.Over)
		img = flat
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG maps quality onto palette reduction: 90+ keeps full color,
// 60-89 quantizes to 256 colors, below 60 to the 216-color web-safe palette.
// Sharp content is quantized without dithering.
func EncodePNG(img image.Image, quality int, level png.CompressionLevel, preserveSharpness bool) ([]byte, error) {
	if quality < 90 && !hasAlpha(img) {
		pal := palette.Plan9
		if quality < 60 {
			pal = palette.WebSafe
		}
		var drawer draw.Drawer = draw.FloydSteinberg
		if preserveSharpness {
			drawer = draw.Src
		}
		b := img.Bounds()
		paletted := image.NewPaletted(b, pal)
		drawer.Draw(paletted, b, img, b.Min)
		img = paletted
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// PNGCompressionLevel maps the 0..9 policy level onto the encoder presets
func PNGCompressionLevel(level int) png.CompressionLevel {
	switch {
	case level <= 0:
		return png.NoCompression
	case level <= 3:
		return png.BestSpeed
	case level <= 6:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}
