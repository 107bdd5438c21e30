package sheetfeed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config collects upstream feed options so callers stay explicit about the
// endpoint and timing without scattering defaults through the code.
type Config struct {
	URL       string
	Timeout   time.Duration
	RetryWait time.Duration
	UserAgent string
}

// Client wraps the spreadsheet-backed feed endpoint with a retrying HTTP
// client: a transient upstream hiccup, whether a dropped connection or a
// 5xx answer, is retried before it counts as a failed poll cycle.
type Client struct {
	url  string
	http *resty.Client
}

// NewClient builds a feed client while normalizing defaults so every
// caller gets consistent behavior without extra setup.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = 2 * time.Second
	}
	agent := strings.TrimSpace(cfg.UserAgent)
	if agent == "" {
		agent = "txn-density-map/1.0"
	}
	return &Client{
		url: strings.TrimSpace(cfg.URL),
		http: resty.New().
			SetRetryCount(3).
			SetRetryWaitTime(retryWait).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", agent).
			// Resty on its own only re-runs transport failures; server
			// errors count as transient here too.
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
			}),
	}
}

// URL reports the configured feed endpoint for log lines.
func (c *Client) URL() string { return c.url }

// Fetch downloads the current batch body and returns it together with its
// SHA-256 content hash. The poller compares the hash against the served
// snapshot's to skip rebuilding when the sheet has not changed.
func (c *Client) Fetch(ctx context.Context) ([]byte, string, error) {
	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", c.url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: unexpected status %d", c.url, resp.StatusCode())
	}
	body := resp.Body()
	sum := sha256.Sum256(body)
	return body, hex.EncodeToString(sum[:]), nil
}
