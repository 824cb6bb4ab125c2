package utils

import (
	"encoding/base64"
	"fmt"
	"path"
	"regexp"
	"strings"

	"image-optimizer/pkg/models"
)

const maxSourceLength = 2048

var (
	// Cache key: slash separated lowercase segments ending with a known extension
	cacheKeyPattern = regexp.MustCompile(`^([a-z0-9_-]+/)*[a-z0-9_-]+\.(jpg|png|webp|placeholder)$`)
)

// ValidateSource checks that a locator can be used as a request source.
// Inline data URIs are bounded by the decoded payload size (maxBytes, 0 for
// no bound) instead of the locator length.
// Returns error if invalid, nil if valid
func ValidateSource(source string, maxBytes int64) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return fmt.Errorf("source cannot be empty")
	}
	if IsDataURI(source) {
		if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(source))) > maxBytes+maxSourceLength {
			return fmt.Errorf("data uri too large: max %d bytes", maxBytes)
		}
	} else if len(source) > maxSourceLength {
		return fmt.Errorf("source too long: max %d characters", maxSourceLength)
	}
	if strings.ContainsRune(source, 0) {
		return fmt.Errorf("source contains a NUL byte")
	}
	return nil
}

// ValidateContentType accepts an empty hint (photo) or a known content type
func ValidateContentType(hint string) error {
	if strings.TrimSpace(hint) == "" {
		return nil
	}
	if !models.ContentType(strings.ToLower(strings.TrimSpace(hint))).IsValid() {
		return fmt.Errorf("invalid content type %q: must be one of text, photo, graphics, logo", hint)
	}
	return nil
}

// ValidateCacheKey rejects anything that could leave the cache root
// Returns error if invalid, nil if valid
func ValidateCacheKey(key string) error {
	if key == "" {
		return fmt.Errorf("cache key cannot be empty")
	}
	if path.Clean(key) != key || strings.HasPrefix(key, "/") {
		return fmt.Errorf("cache key must be a clean relative path")
	}
	if !cacheKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid cache key format")
	}
	return nil
}

// IsDataURI reports whether source carries the image inline
func IsDataURI(source string) bool {
	return len(source) >= 5 && strings.EqualFold(source[:5], "data:")
}
