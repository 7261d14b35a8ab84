// SPDX-License-Identifier: MIT

// Package metaclient is the base for metadata-service integrations. Every
// outbound call runs the same pipeline: rate limit, concurrency gate, then a
// cache-fronted send through the retrying transport. Per-service adapters
// add routing and parsing on top and never bypass the pipeline.
package metaclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/httpx"
	"github.com/fuzzbin/fuzzbin/internal/log"
	"github.com/fuzzbin/fuzzbin/internal/ratelimit"
	"github.com/fuzzbin/fuzzbin/internal/respcache"
)

// Credentials is the only per-service input that comes from public config.
type Credentials struct {
	Token    string
	Username string
	Password string
}

// ServiceSpec hardcodes the per-service wiring: base URL, effective rate,
// auth strategy and cache filename. Adapters own their spec.
type ServiceSpec struct {
	Name          string
	BaseURL       string
	Rate          ratelimit.Config
	MaxConcurrent int
	CacheFile     string        // filename under the cache directory
	Cache         respcache.Config // TTL/method/status policy (Path filled at New)
	AuthHeader    func(Credentials) http.Header
}

// Client composes the rate limiter, concurrency gate, transport and response
// cache behind verb-level helpers.
type Client struct {
	spec    ServiceSpec
	limiter *ratelimit.Limiter
	gate    *httpx.Gate
	http    *httpx.Client
	cache   *respcache.Cache
	auth    http.Header
	logger  zerolog.Logger
}

// New wires a client for the given service. cacheDir is the per-process
// cache root; each service gets its own SQLite file there.
func New(spec ServiceSpec, creds Credentials, cacheDir string, httpCfg httpx.Config) (*Client, error) {
	limiter, err := ratelimit.New(spec.Rate)
	if err != nil {
		return nil, fmt.Errorf("%s: rate config: %w", spec.Name, err)
	}

	cacheCfg := spec.Cache
	if cacheCfg.Enabled {
		cacheCfg.Path = filepath.Join(cacheDir, spec.CacheFile)
	}
	cache, err := respcache.Open(cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: open cache: %w", spec.Name, err)
	}

	auth := http.Header{}
	if spec.AuthHeader != nil {
		auth = spec.AuthHeader(creds)
	}

	maxConcurrent := spec.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 4
	}

	return &Client{
		spec:    spec,
		limiter: limiter,
		gate:    httpx.NewGate(maxConcurrent),
		http:    httpx.NewClient(httpCfg),
		cache:   cache,
		auth:    auth,
		logger:  log.WithComponent("metaclient." + spec.Name),
	}, nil
}

// Close releases the response cache.
func (c *Client) Close() error {
	return c.cache.Close()
}

// Do runs one request through the full pipeline and returns the response
// body and status. Relative paths are resolved against the service base URL.
func (c *Client) Do(ctx context.Context, method, ref string, query url.Values, body []byte) (*respcache.Response, error) {
	target, err := c.resolve(ref, query)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer c.gate.Release()

	key := respcache.Key(method, target, c.auth)
	return c.cache.Do(ctx, key, method, func(ctx context.Context) (*respcache.Response, error) {
		resp, err := c.http.Do(ctx, method, target, c.auth, body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: read response: %w", c.spec.Name, err)
		}
		return &respcache.Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: payload}, nil
	})
}

// GetJSON issues a GET and decodes a 2xx JSON body into out.
func (c *Client) GetJSON(ctx context.Context, ref string, query url.Values, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, ref, query, nil)
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return &UpstreamError{Service: c.spec.Name, Status: resp.Status, Body: truncate(resp.Body, 256)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.spec.Name, err)
	}
	return nil
}

func (c *Client) resolve(ref string, query url.Values) (string, error) {
	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		target = strings.TrimRight(c.spec.BaseURL, "/") + "/" + strings.TrimLeft(ref, "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%s: bad request URL %q: %w", c.spec.Name, ref, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// UpstreamError reports a non-2xx reply from a metadata service.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream HTTP %d: %s", e.Service, e.Status, e.Body)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
