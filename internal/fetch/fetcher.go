// Package fetch retrieves source pages and media over HTTP.
//
// Requests to the same host are paced by a token bucket so resolving many
// permalinks in one batch does not hammer the source.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// ErrTooLarge marks a body that exceeded the configured cap.
var ErrTooLarge = errors.New("response body too large")

const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxBytes          = 10 * 1024 * 1024
	DefaultMaxMediaBytes     = 50 * 1024 * 1024
	DefaultUserAgent         = "tootrelay/1.0"
	DefaultRequestsPerSecond = 2.0
)

// Config configures a Fetcher.
type Config struct {
	Timeout           time.Duration // HTTP timeout. Default: 30s.
	MaxBytes          int64         // Max page body size. Default: 10MB.
	MaxMediaBytes     int64         // Max downloaded media size. Default: 50MB.
	UserAgent         string
	RequestsPerSecond float64 // Per-host pacing. Zero means the default.
	AcceptLanguage    string
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxMediaBytes <= 0 {
		c.MaxMediaBytes = DefaultMaxMediaBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = "en-US,en;q=0.9"
	}
}

// Fetcher performs GET requests for pages and media downloads.
type Fetcher struct {
	client *http.Client
	config Config

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher. A nil client means a fresh http.Client with the
// configured timeout.
func New(cfg Config, client *http.Client) *Fetcher {
	cfg.defaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Fetcher{
		client:   client,
		config:   cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Client returns the underlying HTTP client so callers posting elsewhere
// share the same transport and timeout.
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// Get returns the body of rawURL. Non-2xx responses and bodies over
// MaxBytes are errors; a page is never handed on truncated.
func (f *Fetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.do(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", rawURL)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, errors.Mark(errors.Newf("%s: body exceeds %d bytes", rawURL, f.config.MaxBytes), ErrTooLarge)
	}
	return body, nil
}

// Download streams rawURL into a new file at path. Media over MaxMediaBytes
// is an error. A partial file is removed on failure.
func (f *Fetcher) Download(ctx context.Context, rawURL, path string) (err error) {
	resp, err := f.do(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create media file")
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close media file")
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	n, err := io.Copy(out, io.LimitReader(resp.Body, f.config.MaxMediaBytes+1))
	if err != nil {
		return errors.Wrapf(err, "download %s", rawURL)
	}
	if n > f.config.MaxMediaBytes {
		return errors.Mark(errors.Newf("%s: media exceeds %d bytes", rawURL, f.config.MaxMediaBytes), ErrTooLarge)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, errors.Newf("invalid url %q", rawURL)
	}

	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, errors.Wrapf(err, "wait for %s", u.Host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept-Language", f.config.AcceptLanguage)
	req.Header.Set("DNT", "1")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", rawURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, errors.Newf("get %s: HTTP %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(f.config.RequestsPerSecond), 1)
		f.limiters[host] = l
	}
	return l
}
