// Package gateway wraps outbound HTTP calls with bounded exponential-backoff
// retry on transient failures.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 1 * time.Second
	defaultJitterMax   = 500 * time.Millisecond
	defaultTimeout     = 30 * time.Second
)

// Options configures the retry behavior of a Client. Zero values fall back to
// the defaults (3 attempts, 1s base delay, 500ms jitter).
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	JitterMax   time.Duration
	Timeout     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}

	if o.BaseDelay <= 0 {
		o.BaseDelay = defaultBaseDelay
	}

	if o.JitterMax <= 0 {
		o.JitterMax = defaultJitterMax
	}

	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}

	return o
}

// Response is a fully drained HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// JSON unmarshals the response body.
func (r *Response) JSON(v any) error {
	err := json.Unmarshal(r.Body, v)
	if err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}

	return nil
}

// Client is a retrying HTTP client. Responses with status 429 or 5xx are
// retried with exponential backoff and jitter, up to MaxAttempts total.
// Transport-level errors (DNS failure, connection reset) are retried on the
// same schedule. Any other status is returned as-is; the caller checks OK.
type Client struct {
	httpClient *http.Client
	options    Options
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new gateway client.
func NewClient(logger *slog.Logger, options Options) *Client {
	opts := options.withDefaults()

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		options:    opts,
		logger:     logger.With("module", "gateway"),
		sleep:      sleepContext,
	}
}

// Get issues a GET request with retry.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, url, headers, nil)
}

// Post issues a POST request with a JSON payload and retry.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	if headers == nil {
		headers = make(map[string]string)
	}

	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}

	return c.Do(ctx, http.MethodPost, url, headers, body)
}

// Do issues the request, retrying transient failures. The body, when set, is
// replayed on every attempt.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var (
		response *Response
		lastErr  error
	)

	for attempt := range c.options.MaxAttempts {
		if attempt > 0 {
			delay := c.backoffDelay(attempt - 1)

			c.logger.InfoContext(ctx, "Retrying request",
				"method", method, "url", url, "attempt", attempt+1, "delay", delay)

			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		response, lastErr = c.doOnce(ctx, method, url, headers, body)
		if lastErr != nil {
			c.logger.WarnContext(ctx, "Request transport error",
				"method", method, "url", url, "attempt", attempt+1, "error", lastErr)

			continue
		}

		if !isTransient(response.StatusCode) {
			return response, nil
		}

		c.logger.WarnContext(ctx, "Transient upstream status",
			"method", method, "url", url, "attempt", attempt+1, "status", response.StatusCode)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", c.options.MaxAttempts, lastErr)
	}

	// Retries exhausted; the caller sees the final transient response as-is.
	return response, nil
}

func (c *Client) doOnce(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WarnContext(ctx, "Failed to close response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: payload}, nil
}

// backoffDelay computes base * 2^attempt plus random jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.options.BaseDelay << attempt

	if c.options.JitterMax > 0 {
		delay += time.Duration(rand.Int64N(int64(c.options.JitterMax)))
	}

	return delay
}

func isTransient(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode < 600)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
