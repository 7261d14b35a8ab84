// SPDX-License-Identifier: MIT

package metaclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fuzzbin/fuzzbin/internal/httpx"
	"github.com/fuzzbin/fuzzbin/internal/ratelimit"
	"github.com/fuzzbin/fuzzbin/internal/respcache"
)

// imvdbSpec pins the IMVDb wiring. Public config only supplies the app key.
var imvdbSpec = ServiceSpec{
	Name:          "imvdb",
	BaseURL:       "https://imvdb.com/api/v1",
	Rate:          ratelimit.Config{PerSecond: 2, PerMinute: 60},
	MaxConcurrent: 4,
	CacheFile:     "imvdb.sqlite",
	Cache: respcache.Config{
		Enabled: true,
		TTL:     6 * time.Hour,
	},
	AuthHeader: func(c Credentials) http.Header {
		h := http.Header{}
		if c.Token != "" {
			h.Set("IMVDB-APP-KEY", c.Token)
		}
		return h
	},
}

// IMVDb wraps the base client with IMVDb routing and response parsing.
type IMVDb struct {
	*Client
}

// NewIMVDb builds the IMVDb client.
func NewIMVDb(creds Credentials, cacheDir string, httpCfg httpx.Config) (*IMVDb, error) {
	c, err := New(imvdbSpec, creds, cacheDir, httpCfg)
	if err != nil {
		return nil, err
	}
	return &IMVDb{Client: c}, nil
}

// IMVDbVideo is the subset of the video entity the importer consumes.
type IMVDbVideo struct {
	ID      int64  `json:"id"`
	Title   string `json:"song_title"`
	Year    int    `json:"year"`
	Artists []struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"artists"`
	Directors []struct {
		Name string `json:"entity_name"`
	} `json:"directors"`
	Sources []struct {
		Source   string `json:"source"`
		SourceID string `json:"source_data"`
	} `json:"sources"`
}

// SearchVideos runs a full-text search against IMVDb.
func (c *IMVDb) SearchVideos(ctx context.Context, query string) ([]IMVDbVideo, error) {
	var out struct {
		Results []IMVDbVideo `json:"results"`
	}
	q := url.Values{"q": {query}}
	if err := c.GetJSON(ctx, "search/videos", q, &out); err != nil {
		return nil, fmt.Errorf("imvdb search %q: %w", query, err)
	}
	return out.Results, nil
}

// Video fetches one video with its sources included.
func (c *IMVDb) Video(ctx context.Context, id int64) (*IMVDbVideo, error) {
	var out IMVDbVideo
	q := url.Values{"include": {"sources"}}
	if err := c.GetJSON(ctx, "video/"+strconv.FormatInt(id, 10), q, &out); err != nil {
		return nil, fmt.Errorf("imvdb video %d: %w", id, err)
	}
	return &out, nil
}

// YouTubeID returns the YouTube source ID if the video carries one.
func (v *IMVDbVideo) YouTubeID() string {
	for _, s := range v.Sources {
		if s.Source == "youtube" {
			return s.SourceID
		}
	}
	return ""
}
