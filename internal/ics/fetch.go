package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "github.com/merlokk/lambda.calendar.next.event/internal/log"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is an internal identifier (e.g., config ICS ID).
	ID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte    // ICS payload (either freshly fetched or from cache)
	FromCache bool      // true if we reused the cached body
	FetchedAt time.Time // when the body was obtained
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher fetches ICS feeds with HTTP caching (ETag / Last-Modified) backed
// by a disk cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a new ICS Fetcher rooted at cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Relative fallback so development runs without root permissions.
		cacheDir = "./var/ics-cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
	}
}

// FetchAll fetches the given sources concurrently and returns individual
// results. Errors for individual sources are logged and collected; one bad
// source never fails the batch.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	var (
		mu      sync.Mutex
		results []FetchResult
		errs    []error
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, src := range sources {
		src := src
		g.Go(func() error {
			res, err := f.FetchOne(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
				return nil
			}
			results = append(results, res)
			return nil
		})
	}

	_ = g.Wait()
	return results, errs
}

// FetchOne fetches a single ICS source, honoring ETag and Last-Modified.
// It uses a disk cache under the fetcher's cacheDir keyed by a hash of the URL.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	cachePath, err := f.cachePathForURL(src.URL)
	if err != nil {
		return FetchResult{}, err
	}

	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}

	// Conditional headers from cache metadata.
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true, FetchedAt: meta.UpdatedAt}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    time.Now().UTC(),
		}

		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
		return FetchResult{Source: src, Body: body, FromCache: false, FetchedAt: newMeta.UpdatedAt}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true, FetchedAt: meta.UpdatedAt}, nil

	default:
		// Non-OK status: if we have cached data, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status), "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode)
			return FetchResult{Source: src, Body: cachedBody, FromCache: true, FetchedAt: meta.UpdatedAt}, nil
		}
		return FetchResult{}, errors.New(resp.Status)
	}
}

func (f *Fetcher) cachePathForURL(url string) (string, error) {
	if url == "" {
		return "", errors.New("empty url")
	}
	sum := sha256.Sum256([]byte(url))
	// First 16 hex chars as directory name.
	dir := hex.EncodeToString(sum[:8])
	return filepath.Join(f.cacheDir, dir), nil
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	metaFile := filepath.Join(cachePath, "meta.json")

	data, err := os.ReadFile(metaFile)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	metaFile := filepath.Join(cachePath, "meta.json")
	bodyFile := filepath.Join(cachePath, "body.ics")

	// Write body first so meta never points at a missing body.
	if err := os.WriteFile(bodyFile, body, 0o600); err != nil {
		return err
	}

	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metaFile, data, 0o600)
}

// redactURL hides sensitive parts of an ICS URL for logging purposes.
// Private feed URLs routinely embed access tokens in the path or query.
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "ics://...(redacted)"
	}

	j := i
	for j < len(u) && u[j] != '/' {
		j++
	}
	return u[:j] + redactedSuffix
}
