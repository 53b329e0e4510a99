package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "schoollights/internal/log"
)

var (
	// ErrCacheMiss is returned by Cache.Load when nothing is stored.
	ErrCacheMiss = errors.New("ics cache miss")

	// ErrFeedUnavailable means neither the network nor the cache produced
	// a body.
	ErrFeedUnavailable = errors.New("ics feed unavailable")
)

// Entry is one cached copy of a feed together with its HTTP validators.
type Entry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`

	Body []byte `json:"-"`
}

// Cache stores the last good copy of a feed.
type Cache interface {
	Load() (Entry, error)
	Store(Entry) error
}

// FileCache keeps body.ics and meta.json in a per-URL directory.
type FileCache struct {
	dir string
}

// NewFileCache returns a cache for feedURL under baseDir. The directory
// name is derived from a hash of the URL so tokens in it stay off disk
// paths.
func NewFileCache(baseDir, feedURL string) *FileCache {
	if baseDir == "" {
		baseDir = "./var/ics-cache"
	}
	sum := sha256.Sum256([]byte(feedURL))
	return &FileCache{dir: filepath.Join(baseDir, hex.EncodeToString(sum[:8]))}
}

// Dir returns the directory holding this cache's files.
func (c *FileCache) Dir() string { return c.dir }

func (c *FileCache) Load() (Entry, error) {
	body, err := os.ReadFile(filepath.Join(c.dir, "body.ics"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, ErrCacheMiss
		}
		return Entry{}, err
	}
	if len(body) == 0 {
		return Entry{}, ErrCacheMiss
	}

	var meta Entry
	if data, err := os.ReadFile(filepath.Join(c.dir, "meta.json")); err == nil {
		// Broken metadata only costs us the conditional request.
		_ = json.Unmarshal(data, &meta)
	}
	meta.Body = body
	return meta, nil
}

func (c *FileCache) Store(e Entry) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return err
	}

	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(c.dir, "body.ics"), e.Body, 0o600); err != nil {
		return err
	}
	data, err := json.MarshalIndent(&e, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, "meta.json"), data, 0o600)
}

// FetchResult is the outcome of one fetch.
type FetchResult struct {
	Body      []byte
	FromCache bool
	UpdatedAt time.Time
}

// Fetcher downloads a single feed, honouring ETag / Last-Modified and
// falling back to its cache when the network lets it down.
type Fetcher struct {
	client *http.Client
	url    string
	cache  Cache
}

func NewFetcher(feedURL string, cache Cache) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 15 * time.Second},
		url:    feedURL,
		cache:  cache,
	}
}

// WithClient replaces the HTTP client.
func (f *Fetcher) WithClient(c *http.Client) *Fetcher {
	f.client = c
	return f
}

// Fetch returns the feed body. A 200 with a parseable calendar overwrites
// the cache; a 304, a network error, an unparseable body or any other
// status uses the cached copy. With no cached copy the
// error wraps ErrFeedUnavailable.
func (f *Fetcher) Fetch(ctx context.Context) (FetchResult, error) {
	if f.url == "" {
		return FetchResult{}, fmt.Errorf("%w: feed URL is empty", ErrFeedUnavailable)
	}

	cached, cacheErr := f.cache.Load()
	if cacheErr != nil && !errors.Is(cacheErr, ErrCacheMiss) {
		appLog.Error("ics cache load failed", cacheErr, "url", redactURL(f.url))
	}
	haveCache := cacheErr == nil
	if haveCache && cached.URL != "" && cached.URL != f.url {
		haveCache = false
	}

	fallback := func(reason error) (FetchResult, error) {
		if !haveCache {
			return FetchResult{}, fmt.Errorf("%w: %w", ErrFeedUnavailable, reason)
		}
		appLog.Error("ics fetch failed, using cached body", reason,
			"url", redactURL(f.url),
			"cached_at", cached.UpdatedAt.Format(time.RFC3339),
		)
		return FetchResult{Body: cached.Body, FromCache: true, UpdatedAt: cached.UpdatedAt}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if haveCache {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	appLog.Info("ics fetch start", "url", redactURL(f.url))

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(err)
		}
		if len(body) == 0 {
			return fallback(errors.New("empty response body"))
		}
		// Only a parseable calendar may replace the cached copy.
		if _, err := ParseICS(body); err != nil {
			return fallback(fmt.Errorf("invalid feed body: %w", err))
		}

		entry := Entry{
			URL:          f.url,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
			Body:         body,
		}
		if err := f.cache.Store(entry); err != nil {
			appLog.Error("ics cache save failed", err, "url", redactURL(f.url))
		}

		appLog.Info("ics fetch success", "url", redactURL(f.url), "bytes", len(body))
		return FetchResult{Body: body, UpdatedAt: entry.UpdatedAt}, nil

	case http.StatusNotModified:
		if !haveCache {
			return FetchResult{}, fmt.Errorf("%w: 304 Not Modified but no cached body", ErrFeedUnavailable)
		}
		appLog.Info("ics fetch not modified; using cache", "url", redactURL(f.url))
		return FetchResult{Body: cached.Body, FromCache: true, UpdatedAt: cached.UpdatedAt}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

// redactURL keeps only scheme and host; feed paths often embed access
// tokens.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
