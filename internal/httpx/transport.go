// SPDX-License-Identifier: MIT

package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/log"
)

var retryAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fuzzbin",
		Name:      "http_retry_attempts_total",
		Help:      "Total HTTP attempts broken down by outcome",
	},
	[]string{"outcome"},
)

var (
	// ErrNetwork is returned after retry exhaustion on network-class failures.
	ErrNetwork = errors.New("httpx: network failure after retries")
	// ErrRetryExhausted is returned when every attempt completed with a
	// retryable status code.
	ErrRetryExhausted = errors.New("httpx: retryable status persisted after retries")
)

// RetryError carries the detail behind ErrNetwork / ErrRetryExhausted.
type RetryError struct {
	Sentinel error
	Attempts int
	Status   int   // last retryable status, 0 for network failures
	Err      error // last underlying network error, nil for status exhaustion
}

func (r *RetryError) Error() string {
	if r.Status > 0 {
		return fmt.Sprintf("%v (HTTP %d after %d attempts)", r.Sentinel, r.Status, r.Attempts)
	}
	return fmt.Sprintf("%v (%d attempts): %v", r.Sentinel, r.Attempts, r.Err)
}

func (r *RetryError) Unwrap() error { return r.Sentinel }

// RetryConfig controls the retry loop.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first (default 3)
	MinWait     time.Duration // first backoff (default 500ms)
	MaxWait     time.Duration // backoff clamp (default 10s)
	Multiplier  float64       // backoff growth factor (default 2.0)
	Statuses    []int         // retryable status codes (default 408, 429, 500, 502, 503, 504)
}

// Config tunes the underlying connection pool plus the retry policy.
type Config struct {
	Timeout            time.Duration // total per-attempt timeout (default 30s)
	MaxRedirects       int           // redirect cap (default 10)
	InsecureSkipVerify bool
	MaxConnections     int // pool-wide connection cap (default 100)
	MaxKeepalive       int // idle connections kept per host (default 16)
	Retry              RetryConfig
}

var defaultRetryStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxRedirects <= 0 {
		out.MaxRedirects = 10
	}
	if out.MaxConnections <= 0 {
		out.MaxConnections = 100
	}
	if out.MaxKeepalive <= 0 {
		out.MaxKeepalive = 16
	}
	if out.Retry.MaxAttempts <= 0 {
		out.Retry.MaxAttempts = 3
	}
	if out.Retry.MinWait <= 0 {
		out.Retry.MinWait = 500 * time.Millisecond
	}
	if out.Retry.MaxWait <= 0 {
		out.Retry.MaxWait = 10 * time.Second
	}
	if out.Retry.Multiplier <= 1 {
		out.Retry.Multiplier = 2.0
	}
	if len(out.Retry.Statuses) == 0 {
		out.Retry.Statuses = defaultRetryStatuses
	}
	return out
}

// Client is a reentrant HTTP client with conditional retry. Non-retryable
// status codes return normally so the caller can inspect the response.
type Client struct {
	http      *http.Client
	retry     RetryConfig
	retryable map[int]bool
	logger    zerolog.Logger
}

// NewClient builds a client from config, applying defaults to zero fields.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConnections,
		MaxConnsPerHost:     cfg.MaxConnections,
		MaxIdleConnsPerHost: cfg.MaxKeepalive,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator opt-in
	}

	maxRedirects := cfg.MaxRedirects
	retryable := make(map[int]bool, len(cfg.Retry.Statuses))
	for _, s := range cfg.Retry.Statuses {
		retryable[s] = true
	}

	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		retry:     cfg.Retry,
		retryable: retryable,
		logger:    log.WithComponent("httpx"),
	}
}

// CloseIdleConnections drops keepalive connections held by the pool.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// Do sends a request, rebuilding it per attempt so bodies replay safely.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Response, error) {
	var lastStatus int
	var lastErr error

	wait := c.retry.MinWait
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			wait = time.Duration(float64(wait) * c.retry.Multiplier)
			if wait > c.retry.MaxWait {
				wait = c.retry.MaxWait
			}
		}

		req, err := c.newRequest(ctx, method, url, header, body)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			retryAttempts.WithLabelValues("network_error").Inc()
			lastErr = err
			lastStatus = 0
			c.logger.Debug().Err(err).Int("attempt", attempt).Str("url", url).Msg("network failure")
			continue
		}

		if c.retryable[resp.StatusCode] && attempt < c.retry.MaxAttempts {
			retryAttempts.WithLabelValues("retryable_status").Inc()
			lastStatus = resp.StatusCode
			lastErr = nil
			drain(resp)
			c.logger.Debug().Int("status", resp.StatusCode).Int("attempt", attempt).Str("url", url).Msg("retryable status")
			continue
		}

		if c.retryable[resp.StatusCode] {
			// Final attempt still retryable: exhaustion.
			retryAttempts.WithLabelValues("exhausted").Inc()
			status := resp.StatusCode
			drain(resp)
			return nil, &RetryError{Sentinel: ErrRetryExhausted, Attempts: attempt, Status: status}
		}

		retryAttempts.WithLabelValues("ok").Inc()
		return resp, nil
	}

	if lastErr != nil {
		return nil, &RetryError{Sentinel: ErrNetwork, Attempts: c.retry.MaxAttempts, Err: lastErr}
	}
	return nil, &RetryError{Sentinel: ErrRetryExhausted, Attempts: c.retry.MaxAttempts, Status: lastStatus}
}

// Get issues a GET request through the retry loop.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, header, nil)
}

// Post issues a POST request through the retry loop.
func (c *Client) Post(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, url, header, body)
}

// Put issues a PUT request through the retry loop.
func (c *Client) Put(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, url, header, body)
}

// Patch issues a PATCH request through the retry loop.
func (c *Client) Patch(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	return c.Do(ctx, http.MethodPatch, url, header, body)
}

// Delete issues a DELETE request through the retry loop.
func (c *Client) Delete(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, url, header, nil)
}

func (c *Client) newRequest(ctx context.Context, method, url string, header http.Header, body []byte) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return req, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
