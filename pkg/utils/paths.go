// pkg/utils/paths.go
package utils

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/models"

	"github.com/sirupsen/logrus"
)

// SidecarSuffix replaces the image extension for the metadata file.
// TempPrefix marks in-flight writes, cleaned up by retention when stale.
const (
	SidecarSuffix = ".meta.json"
	TempPrefix    = ".tmp-"
)

const defaultStem = "image"

type PathManager struct {
	baseStoragePath string
	log             *Logger
}

// NewPathManager prépare la racine du cache. Unlike the server storage, a
// missing or unwritable root is not fatal: the cache degrades to a no-op.
func NewPathManager(basePath string, log *Logger) (*PathManager, error) {
	pm := &PathManager{
		baseStoragePath: basePath,
		log:             log,
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.WithFunc().WithError(err).WithField("path", basePath).Warn("Failed to create cache directory")
		return pm, err
	}
	return pm, nil
}

func (pm *PathManager) GetBasePath() string {
	return filepath.Join(pm.baseStoragePath)
}

// GetEntryPath returns the absolute path of a slash-separated key
func (pm *PathManager) GetEntryPath(key string) string {
	return filepath.Join(pm.baseStoragePath, filepath.FromSlash(key))
}

// GetSidecarPath returns the metadata file stored next to an entry
func (pm *PathManager) GetSidecarPath(entryPath string) string {
	return SidecarPathFor(entryPath)
}

// GetKeyForPath converts an absolute entry path back to its key
func (pm *PathManager) GetKeyForPath(entryPath string) (string, error) {
	rel, err := filepath.Rel(pm.baseStoragePath, entryPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// SidecarPathFor swaps the image extension for the sidecar suffix
func SidecarPathFor(entryPath string) string {
	return strings.TrimSuffix(entryPath, filepath.Ext(entryPath)) + SidecarSuffix
}

// IsSidecar reports whether name is a metadata file
func IsSidecar(name string) bool {
	return strings.HasSuffix(name, SidecarSuffix)
}

// IsTempFile reports whether name is an in-flight write
func IsTempFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), TempPrefix)
}

// DeriveKey computes the cache location of a source. The result only depends
// on its arguments; "at" is used by the date strategy and nothing else.
func (pm *PathManager) DeriveKey(source string, ct models.ContentType, format models.OutputFormat, at time.Time, cfg config.CacheConfig) models.CacheKey {
	normalized := NormalizeLocator(source, cfg.StripPrefixes)

	stem := CleanBasename(normalized, cfg.MaxBasenameLength)
	h := HashLocator(source, cfg.HashAlgorithm, cfg.HashLength)
	switch {
	case IsDataURI(strings.TrimSpace(source)):
		// base64 payload: ni nom ni répertoire exploitables, seul le hash compte
		normalized = ""
		if h == "" {
			h = HashLocator(source, config.HashSHA256, cfg.HashLength)
		}
		stem = h
	case h != "":
		stem = stem + "_" + h
	}

	ext := format.Extension()
	dir := StrategyDir(cfg.Strategy, normalized, ct, at)

	key := models.CacheKey{
		Key:  path.Join(dir, stem+ext),
		Dir:  dir,
		Stem: stem,
		Ext:  ext,
	}

	if pm != nil && pm.log != nil {
		pm.log.WithFunc().WithFields(logrus.Fields{
			"source":   source,
			"strategy": cfg.Strategy,
			"key":      key.Key,
		}).Debug("Derived cache key")
	}
	return key
}

// StrategyDir picks the relative directory for an entry
func StrategyDir(strategy, normalized string, ct models.ContentType, at time.Time) string {
	switch strategy {
	case config.StrategyContentType:
		if !ct.IsValid() {
			ct = models.ContentTypePhoto
		}
		return string(ct)
	case config.StrategyDate:
		return at.UTC().Format("2006/01/02")
	case config.StrategyMirror:
		dir := path.Dir(normalized)
		if dir == "." || dir == "/" {
			return ""
		}
		segments := strings.Split(dir, "/")
		cleaned := segments[:0]
		for _, s := range segments {
			if c := cleanSegment(s); c != "" {
				cleaned = append(cleaned, c)
			}
		}
		return strings.Join(cleaned, "/")
	default:
		return ""
	}
}

// NormalizeLocator removes the parts of a locator that vary between
// equivalent references: scheme and host, separator style, configured prefixes.
func NormalizeLocator(source string, stripPrefixes []string) string {
	s := strings.TrimSpace(source)

	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil {
			s = u.Path
		}
	}
	s = strings.ReplaceAll(s, "\\", "/")

	for _, prefix := range stripPrefixes {
		prefix = strings.ReplaceAll(prefix, "\\", "/")
		if prefix != "" && strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}

	// rooting before Clean keeps ".." from escaping the cache root
	s = path.Clean("/" + s)
	return strings.TrimPrefix(s, "/")
}

// CleanBasename returns a filesystem-safe, lowercase stem of at most maxLen runes
func CleanBasename(normalized string, maxLen int) string {
	base := path.Base(normalized)
	if base == "." || base == "/" {
		return defaultStem
	}
	base = strings.TrimSuffix(base, path.Ext(base))
	base = cleanSegment(base)

	if maxLen > 0 && len(base) > maxLen {
		base = strings.TrimRight(base[:maxLen], "-")
	}
	if base == "" {
		return defaultStem
	}
	return base
}

func cleanSegment(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		case r == '-':
			if !lastDash {
				b.WriteRune(r)
			}
			lastDash = true
		default:
			if !lastDash {
				b.WriteByte('-')
			}
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// HashLocator hashes the full original locator, hex encoded and truncated.
// Returns "" for the "none" algorithm.
func HashLocator(source, algorithm string, length int) string {
	var h hash.Hash
	switch algorithm {
	case config.HashMD5:
		h = md5.New()
	case config.HashSHA1:
		h = sha1.New()
	case config.HashSHA256:
		h = sha256.New()
	default:
		return ""
	}
	h.Write([]byte(strings.TrimSpace(source)))
	sum := hex.EncodeToString(h.Sum(nil))
	if length > 0 && length < len(sum) {
		return sum[:length]
	}
	return sum
}
