// Package fetch inspects candidate pages over plain HTTP: image counts,
// e-mail discovery, visible word counts, and last-modified resolution.
// Every check fetches fresh; nothing is cached between pipeline stages.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	logx "leadscout/pkg/logx"
)

const userAgent = "leadscout/1.0 (+lead discovery)"

// Config bounds outbound page fetches.
//
// Defaults (when fields are omitted/zero):
//   - timeout: 8s
//   - rate_per_sec: 4
//   - max_body_kb: 512
type Config struct {
	Timeout    time.Duration
	RatePerSec int
	MaxBodyKB  int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 4
	}
	if c.MaxBodyKB <= 0 {
		c.MaxBodyKB = 512
	}
	return c
}

// Inspector is a rate-limited page fetcher shared by all runs.
// Safe for concurrent use.
type Inspector struct {
	log logx.Logger

	mu      sync.RWMutex
	client  *http.Client
	limiter *rate.Limiter
	maxBody int64
}

func NewInspector(cfg Config, log logx.Logger) *Inspector {
	if log.IsZero() {
		log = logx.Nop()
	}
	i := &Inspector{log: log}
	i.Apply(cfg)
	return i
}

// Apply swaps fetch limits at runtime.
func (i *Inspector) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	i.mu.Lock()
	defer i.mu.Unlock()
	i.client = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	i.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	i.maxBody = int64(cfg.MaxBodyKB) * 1024
}

func (i *Inspector) snapshot() (*http.Client, *rate.Limiter, int64) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.client, i.limiter, i.maxBody
}

// CountImages fetches the page and counts img elements with a non-empty src.
func (i *Inspector) CountImages(ctx context.Context, url string) (int, error) {
	doc, err := i.fetchDoc(ctx, url)
	if err != nil {
		return 0, err
	}
	return countImages(doc), nil
}

// FindEmail fetches the page and returns the first e-mail-shaped token,
// preferring mailto links over visible text. No e-mail on the page is not
// an error; the result is just empty.
func (i *Inspector) FindEmail(ctx context.Context, url string) (string, error) {
	doc, err := i.fetchDoc(ctx, url)
	if err != nil {
		return "", err
	}
	return findEmail(doc), nil
}

// CountWords fetches the page and counts whitespace-separated tokens in the
// visible text.
func (i *Inspector) CountWords(ctx context.Context, url string) (int, error) {
	doc, err := i.fetchDoc(ctx, url)
	if err != nil {
		return 0, err
	}
	return len(visibleWords(doc)), nil
}

// LastModified resolves the Last-Modified header, HEAD first with a GET
// fallback for servers that reject HEAD. A missing header returns a zero
// time without error.
func (i *Inspector) LastModified(ctx context.Context, url string) (time.Time, error) {
	client, limiter, _ := i.snapshot()
	if err := limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err == nil && resp.StatusCode < 400 {
		defer resp.Body.Close()
		return parseLastModified(resp)
	}
	if err == nil {
		_ = resp.Body.Close()
	}

	// HEAD rejected or failed; retry as GET, body discarded.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err = client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return time.Time{}, fmt.Errorf("fetch: http %d", resp.StatusCode)
	}
	return parseLastModified(resp)
}

func parseLastModified(resp *http.Response) (time.Time, error) {
	raw := resp.Header.Get("Last-Modified")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}

func (i *Inspector) fetchDoc(ctx context.Context, url string) (*html.Node, error) {
	client, limiter, maxBody := i.snapshot()
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch: http %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetch: parse html: %w", err)
	}
	return doc, nil
}
