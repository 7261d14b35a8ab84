// SPDX-License-Identifier: MIT

// Package respcache persists HTTP responses per metadata service in a
// single SQLite file, serving them by TTL with stale-while-revalidate.
package respcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/fuzzbin/fuzzbin/internal/log"
)

var lookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fuzzbin",
		Name:      "respcache_lookups_total",
		Help:      "Response cache lookups by outcome",
	},
	[]string{"outcome"},
)

// Response is the cached shape of an upstream reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher produces a fresh upstream response for a cache key.
type Fetcher func(ctx context.Context) (*Response, error)

// Config enumerates the cache knobs.
type Config struct {
	Enabled              bool
	Path                 string        // backing SQLite file, one per API client
	TTL                  time.Duration // freshness window (default 15m)
	StaleWhileRevalidate time.Duration // grace window after TTL (default 0)
	Methods              []string      // cacheable methods (default GET, HEAD)
	Statuses             []int         // cacheable statuses (default 200)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.TTL <= 0 {
		out.TTL = 15 * time.Minute
	}
	if len(out.Methods) == 0 {
		out.Methods = []string{http.MethodGet, http.MethodHead}
	}
	if len(out.Statuses) == 0 {
		out.Statuses = []int{http.StatusOK}
	}
	return out
}

// Cache is a keyed store of upstream responses. Safe for concurrent use.
type Cache struct {
	cfg       Config
	db        *sql.DB
	methods   map[string]bool
	statuses  map[int]bool
	group     singleflight.Group
	refreshes sync.WaitGroup
	logger    zerolog.Logger
	now       func() time.Time
}

// Open creates or opens the backing store and purges expired rows.
func Open(cfg Config) (*Cache, error) {
	cfg = cfg.withDefaults()

	c := &Cache{
		cfg:      cfg,
		methods:  make(map[string]bool, len(cfg.Methods)),
		statuses: make(map[int]bool, len(cfg.Statuses)),
		logger:   log.WithComponent("respcache"),
		now:      time.Now,
	}
	for _, m := range cfg.Methods {
		c.methods[strings.ToUpper(m)] = true
	}
	for _, s := range cfg.Statuses {
		c.statuses[s] = true
	}

	if !cfg.Enabled {
		return c, nil
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS responses (
		key TEXT PRIMARY KEY,
		status INTEGER NOT NULL,
		headers TEXT NOT NULL,
		body BLOB NOT NULL,
		stored_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_responses_stored_at ON responses(stored_at);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	c.db = db
	c.purgeExpired()
	return c, nil
}

// Close waits for background refreshes and closes the store.
func (c *Cache) Close() error {
	c.refreshes.Wait()
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Key derives the cache key from the method, the canonical URL and the
// request headers that participate in the auth identity.
func Key(method, rawURL string, authHeader http.Header) string {
	canonical := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		u.RawQuery = u.Query().Encode() // sorted keys
		canonical = u.String()
	}

	var sb strings.Builder
	sb.WriteString(strings.ToUpper(method))
	sb.WriteByte('\n')
	sb.WriteString(canonical)

	names := make([]string, 0, len(authHeader))
	for name := range authHeader {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteByte('\n')
		sb.WriteString(strings.ToLower(name))
		sb.WriteByte(':')
		sb.WriteString(strings.Join(authHeader[name], ","))
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// Do serves the response for key, consulting the cache per the serve policy:
// fresh hits come from the cache, stale hits within the revalidate window are
// served immediately while a background refresh replaces the entry, and
// misses fetch synchronously. Concurrent misses for one key coalesce.
func (c *Cache) Do(ctx context.Context, key, method string, fetch Fetcher) (*Response, error) {
	if !c.cfg.Enabled || c.db == nil || !c.methods[strings.ToUpper(method)] {
		return fetch(ctx)
	}

	entry, age, err := c.lookup(ctx, key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		c.logger.Warn().Err(err).Msg("cache lookup failed, fetching upstream")
	}

	if entry != nil {
		if age <= c.cfg.TTL {
			lookups.WithLabelValues("hit").Inc()
			return entry, nil
		}
		if age <= c.cfg.TTL+c.cfg.StaleWhileRevalidate {
			lookups.WithLabelValues("stale").Inc()
			c.refreshAsync(key, fetch)
			return entry, nil
		}
	}

	lookups.WithLabelValues("miss").Inc()
	resp, err, _ := c.group.Do(key, func() (any, error) {
		resp, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if c.statuses[resp.Status] {
			c.store(key, resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return resp.(*Response), nil
}

func (c *Cache) lookup(ctx context.Context, key string) (*Response, time.Duration, error) {
	var status int
	var headers string
	var body []byte
	var storedAt int64

	err := c.db.QueryRowContext(ctx,
		`SELECT status, headers, body, stored_at FROM responses WHERE key = ?`, key,
	).Scan(&status, &headers, &body, &storedAt)
	if err != nil {
		return nil, 0, err
	}

	hdr := http.Header{}
	if err := json.Unmarshal([]byte(headers), &hdr); err != nil {
		return nil, 0, fmt.Errorf("decode cached headers: %w", err)
	}

	age := c.now().Sub(time.Unix(storedAt, 0))
	return &Response{Status: status, Header: hdr, Body: body}, age, nil
}

func (c *Cache) store(key string, resp *Response) {
	headers, err := json.Marshal(resp.Header)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode response headers")
		return
	}
	_, err = c.db.Exec(`
	INSERT INTO responses (key, status, headers, body, stored_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		status = excluded.status,
		headers = excluded.headers,
		body = excluded.body,
		stored_at = excluded.stored_at
	`, key, resp.Status, string(headers), resp.Body, c.now().Unix())
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("store cached response")
	}
}

// refreshAsync replaces a stale entry in the background. Upstream errors are
// logged and leave the existing entry untouched.
func (c *Cache) refreshAsync(key string, fetch Fetcher) {
	c.refreshes.Add(1)
	go func() {
		defer c.refreshes.Done()
		_, err, _ := c.group.Do("refresh:"+key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			resp, err := fetch(ctx)
			if err != nil {
				return nil, err
			}
			if c.statuses[resp.Status] {
				c.store(key, resp)
			}
			return resp, nil
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("background refresh failed, keeping stale entry")
		}
	}()
}

func (c *Cache) purgeExpired() {
	cutoff := c.now().Add(-(c.cfg.TTL + c.cfg.StaleWhileRevalidate)).Unix()
	res, err := c.db.Exec(`DELETE FROM responses WHERE stored_at < ?`, cutoff)
	if err != nil {
		c.logger.Warn().Err(err).Msg("purge expired cache entries")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		c.logger.Debug().Int64("purged", n).Msg("expired cache entries removed")
	}
}
