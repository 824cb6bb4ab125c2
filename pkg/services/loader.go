// pkg/services/loader.go
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"image-optimizer/config"
	"image-optimizer/pkg/models"
	"image-optimizer/pkg/utils"
	"image-optimizer/pkg/version"

	"github.com/sirupsen/logrus"
)

// SourceLoader fetches the raw bytes behind a locator: http(s) URLs, file://
// URLs, base64 data URIs (inline QR codes) and plain local paths.
type SourceLoader struct {
	client *http.Client
	log    *utils.Logger
}

func NewSourceLoader(client *http.Client, log *utils.Logger) *SourceLoader {
	if client == nil {
		client = &http.Client{}
	}
	return &SourceLoader{client: client, log: log}
}

// Load returns the source bytes. Errors wrap the models taxonomy sentinels.
func (l *SourceLoader) Load(ctx context.Context, source string, cfg config.SourceConfig) ([]byte, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source locator", models.ErrSourceUnavailable)
	}

	lower := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return l.loadRemote(ctx, source, cfg)
	case strings.HasPrefix(lower, "data:"):
		return loadDataURI(source, cfg.MaxBytes)
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid file url: %v", models.ErrSourceUnavailable, err)
		}
		return l.loadLocal(u.Path, cfg.MaxBytes)
	default:
		return l.loadLocal(source, cfg.MaxBytes)
	}
}

func (l *SourceLoader) loadRemote(ctx context.Context, source string, cfg config.SourceConfig) ([]byte, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", models.ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "image/jpeg,image/png,image/webp,image/gif,image/*;q=0.8")

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fetching %s exceeded %s", models.ErrTimeout, source, timeout)
		}
		return nil, fmt.Errorf("%w: fetching %s: %v", models.ErrSourceNetwork, source, err)
	}
	defer resp.Body.Close()

	l.log.WithFunc().WithFields(logrus.Fields{
		"source":   source,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	}).Debug("Fetched remote source")

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: %s (status %d)", models.ErrSourceNotFound, source, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fetching %s: unexpected status %d", models.ErrSourceNetwork, source, resp.StatusCode)
	}
	if resp.ContentLength > cfg.MaxBytes {
		return nil, fmt.Errorf("%w: source of %d bytes exceeds memory limit %d", models.ErrResourceExhausted, resp.ContentLength, cfg.MaxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxBytes+1))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: reading %s exceeded %s", models.ErrTimeout, source, timeout)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", models.ErrSourceNetwork, source, err)
	}
	return checkLoaded(data, cfg.MaxBytes)
}

func (l *SourceLoader) loadLocal(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: file %s", models.ErrSourceNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", models.ErrFormatInvalid, path)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: file of %d bytes exceeds memory limit %d", models.ErrResourceExhausted, info.Size(), maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
	}
	return checkLoaded(data, maxBytes)
}

func loadDataURI(source string, maxBytes int64) ([]byte, error) {
	comma := strings.IndexByte(source, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: malformed data uri", models.ErrFormatInvalid)
	}
	header, payload := source[:comma], source[comma+1:]
	if !strings.HasSuffix(strings.ToLower(header), ";base64") {
		return nil, fmt.Errorf("%w: only base64 data uris are supported", models.ErrFormatInvalid)
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+3 {
		return nil, fmt.Errorf("%w: data uri exceeds memory limit %d", models.ErrResourceExhausted, maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt base64 payload: %v", models.ErrFormatInvalid, err)
	}
	return checkLoaded(data, maxBytes)
}

func checkLoaded(data []byte, maxBytes int64) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image (zero bytes)", models.ErrFormatInvalid)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: source exceeds memory limit %d", models.ErrResourceExhausted, maxBytes)
	}
	return data, nil
}
