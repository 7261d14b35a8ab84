// SPDX-License-Identifier: MIT

package metaclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fuzzbin/fuzzbin/internal/httpx"
	"github.com/fuzzbin/fuzzbin/internal/ratelimit"
	"github.com/fuzzbin/fuzzbin/internal/respcache"
)

var spotifySpec = ServiceSpec{
	Name:          "spotify",
	BaseURL:       "https://api.spotify.com/v1",
	Rate:          ratelimit.Config{PerSecond: 5, PerMinute: 120},
	MaxConcurrent: 4,
	CacheFile:     "spotify.sqlite",
	Cache: respcache.Config{
		Enabled:              true,
		TTL:                  30 * time.Minute,
		StaleWhileRevalidate: 30 * time.Minute,
	},
	AuthHeader: func(c Credentials) http.Header {
		h := http.Header{}
		if c.Token != "" {
			h.Set("Authorization", "Bearer "+c.Token)
		}
		return h
	},
}

// Spotify wraps the base client with playlist routing and paging.
type Spotify struct {
	*Client
}

// NewSpotify builds the Spotify client.
func NewSpotify(creds Credentials, cacheDir string, httpCfg httpx.Config) (*Spotify, error) {
	c, err := New(spotifySpec, creds, cacheDir, httpCfg)
	if err != nil {
		return nil, err
	}
	return &Spotify{Client: c}, nil
}

// SpotifyPlaylist carries the playlist header fields the importer needs.
type SpotifyPlaylist struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Tracks struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

// SpotifyTrack is one playlist entry.
type SpotifyTrack struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Album   struct {
		Name        string `json:"name"`
		ReleaseDate string `json:"release_date"`
	} `json:"album"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

type trackPage struct {
	Items []struct {
		Track SpotifyTrack `json:"track"`
	} `json:"items"`
	Next string `json:"next"`
}

// Playlist fetches the playlist header.
func (c *Spotify) Playlist(ctx context.Context, id string) (*SpotifyPlaylist, error) {
	var out SpotifyPlaylist
	if err := c.GetJSON(ctx, "playlists/"+id, nil, &out); err != nil {
		return nil, fmt.Errorf("spotify playlist %s: %w", id, err)
	}
	return &out, nil
}

// PlaylistTracks walks every page of a playlist in order.
func (c *Spotify) PlaylistTracks(ctx context.Context, id string) ([]SpotifyTrack, error) {
	var tracks []SpotifyTrack
	next := "playlists/" + id + "/tracks"
	for next != "" {
		var page trackPage
		if err := c.GetJSON(ctx, next, nil, &page); err != nil {
			return nil, fmt.Errorf("spotify playlist %s tracks: %w", id, err)
		}
		for _, item := range page.Items {
			if item.Track.ID == "" {
				continue // local or removed tracks have no ID
			}
			tracks = append(tracks, item.Track)
		}
		next = page.Next
	}
	return tracks, nil
}

// Year extracts the release year from the album date, which Spotify returns
// as YYYY, YYYY-MM or YYYY-MM-DD.
func (t *SpotifyTrack) Year() int {
	d := t.Album.ReleaseDate
	if len(d) < 4 {
		return 0
	}
	var y int
	if _, err := fmt.Sscanf(d[:4], "%d", &y); err != nil {
		return 0
	}
	return y
}
