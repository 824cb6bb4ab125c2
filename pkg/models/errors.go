// pkg/models/errors.go
package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by the loader, codec, chain and cache
var (
	ErrSourceUnavailable  = errors.New("source unavailable")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrFormatInvalid      = errors.New("invalid image format")
	ErrTimeout            = errors.New("optimization timeout")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// sous-cas de ErrSourceUnavailable, utilisés pour les métriques
	ErrSourceNotFound = fmt.Errorf("%w: not found", ErrSourceUnavailable)
	ErrSourceNetwork  = fmt.Errorf("%w: network error", ErrSourceUnavailable)
)

// ErrorCategory groups free-text error messages for metrics
type ErrorCategory string

const (
	ErrorNotFound ErrorCategory = "not-found"
	ErrorNetwork  ErrorCategory = "network"
	ErrorMemory   ErrorCategory = "memory"
	ErrorFormat   ErrorCategory = "format"
	ErrorTimeout  ErrorCategory = "timeout"
	ErrorUnknown  ErrorCategory = "unknown"
)

// Order matters: "i/o timeout" is a timeout before it is a network error,
// and a 404 from a remote source is a not-found.
var errorCategoryPatterns = []struct {
	category ErrorCategory
	patterns []string
}{
	{ErrorNotFound, []string{"not found", "no such file", "enoent", "404", "does not exist"}},
	{ErrorTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrorMemory, []string{"memory", "resource exhausted", "too many open files", "too large", "emfile"}},
	{ErrorFormat, []string{"format", "decode", "unsupported", "corrupt", "empty image", "invalid image", "unexpected eof"}},
	{ErrorNetwork, []string{"network", "connection", "dial", "econnrefused", "no such host", "fetch", "status"}},
}

// CategorizeErr classifies an error by its sentinel. Messages carry the
// locator, so substring matching is only used for errors outside the taxonomy.
func CategorizeErr(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorUnknown
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, ErrResourceExhausted):
		return ErrorMemory
	case errors.Is(err, ErrFormatInvalid):
		return ErrorFormat
	case errors.Is(err, ErrSourceNotFound):
		return ErrorNotFound
	case errors.Is(err, ErrSourceNetwork):
		return ErrorNetwork
	case errors.Is(err, ErrSourceUnavailable):
		return ErrorUnknown
	}
	return CategorizeError(err.Error())
}

// CategorizeError classifies an error message by substring matching
func CategorizeError(msg string) ErrorCategory {
	lower := strings.ToLower(msg)
	if strings.TrimSpace(lower) == "" {
		return ErrorUnknown
	}
	for _, entry := range errorCategoryPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(lower, p) {
				return entry.category
			}
		}
	}
	return ErrorUnknown
}
