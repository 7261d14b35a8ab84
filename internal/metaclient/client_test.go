// SPDX-License-Identifier: MIT

package metaclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fuzzbin/fuzzbin/internal/httpx"
	"github.com/fuzzbin/fuzzbin/internal/ratelimit"
	"github.com/fuzzbin/fuzzbin/internal/respcache"
)

func testSpec(baseURL string, cacheEnabled bool) ServiceSpec {
	return ServiceSpec{
		Name:          "testsvc",
		BaseURL:       baseURL,
		Rate:          ratelimit.Config{PerSecond: 100, Burst: 100},
		MaxConcurrent: 2,
		CacheFile:     "testsvc.sqlite",
		Cache:         respcache.Config{Enabled: cacheEnabled, TTL: time.Minute},
		AuthHeader: func(c Credentials) http.Header {
			h := http.Header{}
			h.Set("Authorization", "Bearer "+c.Token)
			return h
		},
	}
}

func TestPipelineInjectsAuthAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "Thriller"})
	}))
	defer srv.Close()

	c, err := New(testSpec(srv.URL, true), Credentials{Token: "sekrit"}, t.TempDir(), httpx.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "videos/1", nil, &out))
	require.Equal(t, "Thriller", out.Name)

	// Second call is served from the response cache.
	out.Name = ""
	require.NoError(t, c.GetJSON(context.Background(), "videos/1", nil, &out))
	require.Equal(t, "Thriller", out.Name)
	require.EqualValues(t, 1, calls.Load())
}

func TestUpstreamErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(testSpec(srv.URL, false), Credentials{}, t.TempDir(), httpx.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	err = c.GetJSON(context.Background(), "videos/1", nil, nil)
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, http.StatusForbidden, uerr.Status)
	require.Equal(t, "testsvc", uerr.Service)
}

func TestRateLimitPacesConcurrentSearches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	spec := testSpec(srv.URL, false)
	spec.Rate = ratelimit.Config{PerSecond: 10, Burst: 1}

	c, err := New(spec, Credentials{}, t.TempDir(), httpx.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	start := time.Now()
	done := make(chan time.Duration, 3)
	for i := 0; i < 3; i++ {
		go func() {
			err := c.GetJSON(context.Background(), "search", nil, nil)
			require.NoError(t, err)
			done <- time.Since(start)
		}()
	}

	var last time.Duration
	for i := 0; i < 3; i++ {
		d := <-done
		if d > last {
			last = d
		}
	}
	// Three calls through a 10/s burst-1 bucket take at least two refills.
	require.GreaterOrEqual(t, last, 190*time.Millisecond)
}

func TestSpotifyTrackYear(t *testing.T) {
	tr := SpotifyTrack{}
	tr.Album.ReleaseDate = "2013-03-26"
	require.Equal(t, 2013, tr.Year())

	tr.Album.ReleaseDate = "1999"
	require.Equal(t, 1999, tr.Year())

	tr.Album.ReleaseDate = ""
	require.Equal(t, 0, tr.Year())
}
