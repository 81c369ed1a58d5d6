// Package search talks to the web-search provider and the optional
// keyword-variant provider. Both are plain JSON-over-HTTP endpoints.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "leadscout/pkg/logx"
)

const maxResponseBytes = 4 << 20

// Config configures the outbound provider calls.
//
// Defaults (when fields are omitted/zero):
//   - timeout: 15s
//   - expand_timeout: 20s
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration

	// ExpandEndpoint enables keyword-variant expansion when non-empty.
	ExpandEndpoint string
	ExpandTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.ExpandTimeout <= 0 {
		c.ExpandTimeout = 20 * time.Second
	}
	return c
}

// Query is one page request against the search provider.
type Query struct {
	Keyword  string
	Language string
	Region   string
	Num      int
	Offset   int
}

// Result is one organic search hit, in provider order.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Client is safe for concurrent use.
type Client struct {
	log logx.Logger

	mu     sync.RWMutex
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log}
	c.Apply(cfg)
	return c
}

// Apply swaps provider endpoints and timeouts at runtime.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.client = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (c *Client) snapshot() (Config, *http.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.client
}

// Search fetches one result page. Provider order is preserved.
func (c *Client) Search(ctx context.Context, q Query) ([]Result, error) {
	cfg, client := c.snapshot()
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("search: endpoint not configured")
	}

	body := map[string]any{"q": q.Keyword}
	if q.Region != "" {
		body["gl"] = q.Region
	}
	if q.Language != "" {
		body["hl"] = q.Language
	}
	if q.Num > 0 {
		body["num"] = q.Num
	}
	if q.Offset > 0 {
		body["start"] = q.Offset
	}

	var resp struct {
		Organic []Result `json:"organic"`
	}
	if err := c.postJSON(ctx, client, cfg.Endpoint, cfg.APIKey, body, &resp); err != nil {
		return nil, fmt.Errorf("search %q offset %d: %w", q.Keyword, q.Offset, err)
	}
	return resp.Organic, nil
}

// ExpandKeyword asks the variant provider for up to count related keywords.
// Callers degrade to the original keyword when this fails.
func (c *Client) ExpandKeyword(ctx context.Context, keyword string, count int) ([]string, error) {
	cfg, _ := c.snapshot()
	if strings.TrimSpace(cfg.ExpandEndpoint) == "" {
		return nil, errors.New("search: expand endpoint not configured")
	}

	// Variant calls tolerate a slower provider than page searches.
	client := &http.Client{Timeout: cfg.ExpandTimeout}
	body := map[string]any{"keyword": keyword, "count": count}

	var resp struct {
		Keywords []string `json:"keywords"`
	}
	if err := c.postJSON(ctx, client, cfg.ExpandEndpoint, cfg.APIKey, body, &resp); err != nil {
		return nil, fmt.Errorf("expand %q: %w", keyword, err)
	}

	out := make([]string, 0, len(resp.Keywords))
	for _, k := range resp.Keywords {
		k = strings.TrimSpace(k)
		if k != "" {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-KEY", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
