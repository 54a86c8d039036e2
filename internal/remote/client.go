// Package remote adapts HTTP collaborators, the fuzzy matcher and the
// relevance classifier, to the interfaces the dedupe pipeline and the
// ranker consume. Calls are rate limited and retried on 429 and 5xx, and
// every failure surfaces as a domain.ExternalServiceError.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
)

// maxErrorBody caps how much of an error response is kept for the log.
const maxErrorBody = 2048

// ClientConfig configures a Client.
type ClientConfig struct {
	// Service names the collaborator in errors and logs.
	Service string
	BaseURL string
	// APIKey is sent in the X-API-Key header when set.
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64
	BurstSize  int
	MaxRetries int
	// RetryDelay is the wait before a retry when the server sends no Retry-After.
	RetryDelay time.Duration
	UserAgent  string
}

// FromServiceConfig maps a config section onto a ClientConfig.
func FromServiceConfig(service string, c config.RemoteServiceConfig) ClientConfig {
	return ClientConfig{
		Service:    service,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		Timeout:    c.Timeout,
		RateLimit:  c.RateLimit,
		MaxRetries: c.MaxRetries,
	}
}

// Client is a rate-limited JSON-over-HTTP client for one service.
// It is safe for concurrent use.
type Client struct {
	http    *http.Client
	limiter *RateLimiter
	cfg     ClientConfig
}

// NewClient creates a Client, filling zero settings with defaults.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", cfg.Service)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = max(1, int(cfg.RateLimit))
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "screening-workflow-service/1.0"
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		cfg:     cfg,
	}, nil
}

// PostJSON sends in as JSON to path and decodes the response into out.
// Any transport failure or non-2xx status is returned as an
// ExternalServiceError tagged with op.
func (c *Client) PostJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s %s: encode request: %w", c.cfg.Service, op, err)
	}

	resp, err := c.do(ctx, path, body)
	if err != nil {
		return c.fail(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.fail(op, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) fail(op string, err error) error {
	return domain.NewExternalServiceError(c.cfg.Service, op, err)
}

// do posts body, waiting on the rate limiter before every attempt and
// retrying network errors, 429 and 5xx responses.
func (c *Client) do(ctx context.Context, path string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		if c.cfg.APIKey != "" {
			req.Header.Set("X-API-Key", c.cfg.APIKey)
		}
		if id := observability.RequestIDFromContext(ctx); id != "" {
			req.Header.Set("X-Request-ID", id)
		}

		resp, err := c.http.Do(req)
		delay := c.cfg.RetryDelay
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
		case shouldRetry(resp.StatusCode):
			delay = c.retryDelay(resp)
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
		default:
			return resp, nil
		}

		if attempt < c.cfg.MaxRetries {
			if err := wait(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("max retries exhausted after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

func shouldRetry(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// retryDelay honours Retry-After in seconds or as an HTTP date.
func (c *Client) retryDelay(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return c.cfg.RetryDelay
	}
	if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return c.cfg.RetryDelay
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return c.cfg.RetryDelay
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
