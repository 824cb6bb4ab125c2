package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheConfig(strategy string) config.CacheConfig {
	cfg := config.DefaultPolicy().Cache
	cfg.Strategy = strategy
	return cfg
}

func TestNormalizeLocator(t *testing.T) {
	prefixes := []string{"/uploads/", "uploads/", "./"}

	tests := []struct {
		name     string
		source   string
		expected string
	}{
		{"strips prefix", "/uploads/products/shoe.jpg", "products/shoe.jpg"},
		{"relative prefix", "uploads/shoe.jpg", "shoe.jpg"},
		{"url keeps path only", "https://cdn.example.com/uploads/a/b.png?v=2", "a/b.png"},
		{"backslashes", `uploads\docs\scan.png`, "docs/scan.png"},
		{"dot dot cannot escape", "../../etc/passwd", "etc/passwd"},
		{"surrounding spaces", "  ./logo.png ", "logo.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeLocator(tt.source, prefixes))
		})
	}
}

func TestCleanBasename(t *testing.T) {
	assert.Equal(t, "red-shoe", CleanBasename("products/Red Shoe.JPG", 50))
	assert.Equal(t, "a-b_c", CleanBasename("A -- B_c.png", 50))
	assert.Equal(t, "image", CleanBasename("", 50))
	assert.Equal(t, "image", CleanBasename("dir/@@@.png", 50))
	assert.Equal(t, "abcde", CleanBasename("abcde-fgh.png", 6))
}

func TestHashLocator(t *testing.T) {
	assert.Equal(t, "", HashLocator("a.png", config.HashNone, 8))
	assert.Len(t, HashLocator("a.png", config.HashMD5, 8), 8)
	assert.Len(t, HashLocator("a.png", config.HashSHA1, 0), 40)
	assert.Len(t, HashLocator("a.png", config.HashSHA256, 100), 64)

	// le hash porte sur le locator complet, pas sur la forme normalisée
	assert.NotEqual(t,
		HashLocator("https://a.example.com/x.png", config.HashMD5, 8),
		HashLocator("https://b.example.com/x.png", config.HashMD5, 8))
}

func TestDeriveKey_Deterministic(t *testing.T) {
	pm, err := NewPathManager(t.TempDir(), NewTestLogger())
	require.NoError(t, err)

	cfg := cacheConfig(config.StrategyFlat)
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	a := pm.DeriveKey("/uploads/products/Red Shoe.JPG", models.ContentTypePhoto, models.FormatJPEG, at, cfg)
	b := pm.DeriveKey("/uploads/products/Red Shoe.JPG", models.ContentTypePhoto, models.FormatJPEG, at.Add(48*time.Hour), cfg)
	assert.Equal(t, a, b)

	assert.True(t, strings.HasPrefix(a.Key, "red-shoe_"))
	assert.Equal(t, ".jpg", a.Ext)
	assert.Equal(t, "", a.Dir)
	assert.NoError(t, ValidateCacheKey(a.Key))

	webp := pm.DeriveKey("/uploads/products/Red Shoe.JPG", models.ContentTypePhoto, models.FormatWebP, at, cfg)
	assert.Equal(t, a.Stem, webp.Stem)
	assert.Equal(t, ".webp", webp.Ext)
}

func TestDeriveKey_Strategies(t *testing.T) {
	at := time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)
	source := "/uploads/catalog/Shoes/red.png"

	tests := []struct {
		strategy string
		ct       models.ContentType
		dir      string
	}{
		{config.StrategyFlat, models.ContentTypeLogo, ""},
		{config.StrategyContentType, models.ContentTypeLogo, "logo"},
		{config.StrategyContentType, models.ContentType("bogus"), "photo"},
		{config.StrategyDate, models.ContentTypePhoto, "2026/10/18"},
		{config.StrategyMirror, models.ContentTypePhoto, "catalog/shoes"},
	}

	for _, tt := range tests {
		t.Run(tt.strategy+"/"+string(tt.ct), func(t *testing.T) {
			key := (*PathManager)(nil).DeriveKey(source, tt.ct, models.FormatPNG, at, cacheConfig(tt.strategy))
			assert.Equal(t, tt.dir, key.Dir)
			assert.NoError(t, ValidateCacheKey(key.Key))
			if tt.dir != "" {
				assert.True(t, strings.HasPrefix(key.Key, tt.dir+"/"))
			}
		})
	}
}

func TestDeriveKey_WithoutHash(t *testing.T) {
	cfg := cacheConfig(config.StrategyFlat)
	cfg.HashAlgorithm = config.HashNone

	key := (*PathManager)(nil).DeriveKey("uploads/banner.png", models.ContentTypeGraphics, models.FormatPNG, time.Now(), cfg)
	assert.Equal(t, "banner.png", key.Key)
}

func TestDeriveKey_DataURI(t *testing.T) {
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	inline := "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAHgAAAB4CAIAAAC2BqGFAAAA/+8/z9x/aGVsbG8="

	tests := []struct {
		name      string
		strategy  string
		algorithm string
		stemAlg   string
	}{
		{"flat", config.StrategyFlat, config.HashMD5, config.HashMD5},
		{"mirror", config.StrategyMirror, config.HashMD5, config.HashMD5},
		{"without hash configured", config.StrategyFlat, config.HashNone, config.HashSHA256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cacheConfig(tt.strategy)
			cfg.HashAlgorithm = tt.algorithm

			key := (*PathManager)(nil).DeriveKey(inline, models.ContentTypeLogo, models.FormatPNG, at, cfg)
			// le stem vient uniquement du hash, jamais du bruit base64
			assert.Equal(t, HashLocator(inline, tt.stemAlg, cfg.HashLength), key.Stem)
			assert.Equal(t, "", key.Dir)
			assert.Equal(t, key.Stem+".png", key.Key)
			assert.NoError(t, ValidateCacheKey(key.Key))
		})
	}

	// deux payloads différents ne partagent pas d'entrée
	a := (*PathManager)(nil).DeriveKey(inline, models.ContentTypeLogo, models.FormatPNG, at, cacheConfig(config.StrategyFlat))
	b := (*PathManager)(nil).DeriveKey(inline+"AA==", models.ContentTypeLogo, models.FormatPNG, at, cacheConfig(config.StrategyFlat))
	assert.NotEqual(t, a.Stem, b.Stem)
}

func TestPathManager_Paths(t *testing.T) {
	root := t.TempDir()
	pm, err := NewPathManager(filepath.Join(root, "cache"), NewTestLogger())
	require.NoError(t, err)

	_, err = os.Stat(pm.GetBasePath())
	assert.NoError(t, err)

	entry := pm.GetEntryPath("photo/a_1234.jpg")
	assert.Equal(t, filepath.Join(root, "cache", "photo", "a_1234.jpg"), entry)
	assert.Equal(t, filepath.Join(root, "cache", "photo", "a_1234"+SidecarSuffix), pm.GetSidecarPath(entry))

	key, err := pm.GetKeyForPath(entry)
	require.NoError(t, err)
	assert.Equal(t, "photo/a_1234.jpg", key)

	assert.True(t, IsSidecar("a_1234.meta.json"))
	assert.False(t, IsSidecar("a_1234.jpg"))
	assert.True(t, IsTempFile(filepath.Join("x", TempPrefix+"123")))
	assert.False(t, IsTempFile("a.jpg"))
}

func TestNewPathManager_UnwritableRoot(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	pm, err := NewPathManager(filepath.Join(blocker, "cache"), NewTestLogger())
	assert.Error(t, err)
	assert.NotNil(t, pm)
}
