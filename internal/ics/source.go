package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	appLog "calnotify/internal/log"
)

// Loader reads the calendar payload each pass, either from a local
// file path or from an http(s) URL. URL sources get conditional
// requests (ETag / Last-Modified) with a disk-backed cache, and fall
// back to the cached body when the network is unavailable.
type Loader struct {
	client   *http.Client
	cacheDir string
}

// cacheEntry holds HTTP cache metadata for a single calendar URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func NewLoader(cacheDir string) *Loader {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	return &Loader{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// Load returns the raw ICS payload for the given source, which is a
// local file path unless it starts with http:// or https://.
func (l *Loader) Load(ctx context.Context, source string) ([]byte, error) {
	if source == "" {
		return nil, errors.New("calendar source is empty")
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return l.fetch(ctx, source)
	}
	return os.ReadFile(source)
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	cachePath := l.cachePathForURL(url)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return nil, err
	}

	meta, _ := l.loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.ics"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		// Network error; a stale calendar beats no calendar.
		if len(cachedBody) > 0 {
			appLog.Error("calendar fetch failed, using cached body", err, "url", redactURL(url))
			return cachedBody, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, readErr
		}
		newMeta := cacheEntry{
			URL:          url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := l.saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("calendar cache save failed", err, "url", redactURL(url))
		}
		appLog.Info("calendar fetched", "url", redactURL(url), "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("calendar not modified; using cache", "url", redactURL(url))
		return cachedBody, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("calendar fetch non-OK, using cached body", errors.New(resp.Status), "url", redactURL(url), "status", resp.StatusCode)
			return cachedBody, nil
		}
		return nil, errors.New(resp.Status)
	}
}

func (l *Loader) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(l.cacheDir, hex.EncodeToString(sum[:8]))
}

func (l *Loader) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (l *Loader) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL hides path and query of a calendar URL for logging; feed
// URLs routinely embed access tokens.
func redactURL(u string) string {
	const sep = "://"
	i := strings.Index(u, sep)
	if i < 0 {
		return "(redacted)"
	}
	rest := u[i+len(sep):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+len(sep)] + rest + "/...(redacted)"
}
