package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	appLog "unical/internal/log"
	"unical/internal/model"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	// maxBodySize caps a single timetable response.
	maxBodySize = 16 << 20
)

// Options configures a Client. Zero values pick the defaults.
type Options struct {
	// CacheDir is where per-URL bodies and validators are kept. Empty
	// disables the disk cache.
	CacheDir string

	Timeout   time.Duration
	UserAgent string

	// RequestsPerSecond limits outbound requests across all URLs. Zero
	// or negative disables limiting.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Result is the outcome of fetching one URL.
type Result struct {
	URL       string
	Body      []byte
	FromCache bool // true if the body came from the disk cache
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Client fetches timetable JSON from the upstream provider with
// conditional requests and a disk-backed fallback cache.
type Client struct {
	client    *http.Client
	cacheDir  string
	userAgent string
	limiter   *rate.Limiter
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		client:    hc,
		cacheDir:  opts.CacheDir,
		userAgent: opts.UserAgent,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Fetch implements timetable.Fetcher: it fetches rawURL and decodes the
// lesson array.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]model.RawEvent, error) {
	res, err := c.FetchRaw(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return DecodeEvents(res.Body)
}

// FetchRaw fetches rawURL, honoring ETag and Last-Modified. On network
// errors and non-OK statuses it falls back to the cached body if present.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) (Result, error) {
	return c.fetch(ctx, rawURL, true)
}

// FetchUncached fetches rawURL without reading or writing the disk cache.
// Caller-supplied URLs go through here so they never leave files behind.
func (c *Client) FetchUncached(ctx context.Context, rawURL string) (Result, error) {
	return c.fetch(ctx, rawURL, false)
}

func (c *Client) fetch(ctx context.Context, rawURL string, useCache bool) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Result{}, fmt.Errorf("%w: invalid url %q", ErrSetup, RedactURL(rawURL))
	}

	var cachePath string
	if useCache {
		cachePath = c.cachePathForURL(rawURL)
	}
	var (
		meta       cacheEntry
		cachedBody []byte
	)
	if cachePath != "" {
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			appLog.Error("upstream cache dir unavailable", err, "path", cachePath)
			cachePath = ""
		} else {
			meta, _ = loadCacheMeta(cachePath)
			cachedBody, _ = loadCacheBody(cachePath)
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSetup, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("upstream fetch start", "url", RedactURL(rawURL))

	resp, err := c.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("upstream network error, using cached body", err, "url", RedactURL(rawURL))
			return Result{URL: rawURL, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return Result{}, fmt.Errorf("%w: read body: %v", ErrNoResponse, err)
		}
		if cachePath != "" {
			newMeta := cacheEntry{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("upstream cache save failed", err, "url", RedactURL(rawURL))
			}
		}
		appLog.Debug("upstream fetch success", "url", RedactURL(rawURL), "bytes", len(body))
		return Result{URL: rawURL, Body: body}, nil

	case resp.StatusCode == http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Result{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("upstream not modified; using cache", "url", RedactURL(rawURL))
		return Result{URL: rawURL, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("upstream non-OK, using cached body", errors.New(resp.Status), "url", RedactURL(rawURL), "status", resp.StatusCode)
			return Result{URL: rawURL, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
}

// DecodeEvents decodes a JSON array of lesson records. Elements that do not
// decode are skipped; a body that is not an array is an error.
func DecodeEvents(body []byte) ([]model.RawEvent, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode timetable: %w", err)
	}
	out := make([]model.RawEvent, 0, len(items))
	for i, item := range items {
		var ev model.RawEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			appLog.Debug("upstream: skipping undecodable record", "index", i, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (c *Client) cachePathForURL(rawURL string) string {
	if c.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(rawURL))
	// Use first 16 hex chars as directory name.
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
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

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.json"))
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// RedactURL drops the query string of a URL for logging.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "upstream://...(redacted)"
	}
	if u.RawQuery == "" {
		return u.Scheme + "://" + u.Host + u.Path
	}
	return u.Scheme + "://" + u.Host + u.Path + "?...(redacted)"
}
