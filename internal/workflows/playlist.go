// SPDX-License-Identifier: MIT

// Package workflows composes the store, lifecycle coordinator and metadata
// clients into the multi-step operations the daemon exposes: playlist import
// and IMVDb enrichment.
package workflows

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/log"
	"github.com/fuzzbin/fuzzbin/internal/metaclient"
	"github.com/fuzzbin/fuzzbin/internal/store"
)

// PlaylistSource is the slice of the Spotify client the importer consumes.
type PlaylistSource interface {
	Playlist(ctx context.Context, id string) (*metaclient.SpotifyPlaylist, error)
	PlaylistTracks(ctx context.Context, id string) ([]metaclient.SpotifyTrack, error)
}

// ImportSummary reports one playlist import run.
type ImportSummary struct {
	RunID        string
	PlaylistID   string
	PlaylistName string
	CollectionID int64
	Total        int
	Created      int
	Skipped      int
	Failed       int
	Errors       []string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// PlaylistImporter turns a streaming playlist into library rows and a
// matching collection.
type PlaylistImporter struct {
	store  *store.Store
	source PlaylistSource
	logger zerolog.Logger
}

// NewPlaylistImporter builds the importer.
func NewPlaylistImporter(s *store.Store, source PlaylistSource) *PlaylistImporter {
	return &PlaylistImporter{store: s, source: source, logger: log.WithComponent("playlist-import")}
}

// Import creates one video per unseen playlist track and a collection named
// after the playlist holding every track in playlist order. A track whose
// title and primary artist already exist is skipped but still joins the
// collection, which makes re-running the same playlist idempotent. Each track
// commits in its own transaction so one bad track never poisons the run.
func (p *PlaylistImporter) Import(ctx context.Context, playlistID string) (*ImportSummary, error) {
	summary := &ImportSummary{
		RunID:      uuid.NewString(),
		PlaylistID: playlistID,
		StartedAt:  time.Now(),
	}
	logger := p.logger.With().Str("run_id", summary.RunID).Str("playlist_id", playlistID).Logger()
	ctx = log.ContextWithRunID(ctx, summary.RunID)

	playlist, err := p.source.Playlist(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("workflows: fetch playlist: %w", err)
	}
	summary.PlaylistName = playlist.Name

	tracks, err := p.source.PlaylistTracks(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("workflows: fetch tracks: %w", err)
	}
	summary.Total = len(tracks)

	collection, err := p.store.UpsertCollection(ctx, playlist.Name, "imported from spotify playlist "+playlistID)
	if err != nil {
		return nil, err
	}
	summary.CollectionID = collection.ID

	for position, track := range tracks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := p.importTrack(ctx, collection.ID, position, track, summary); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", track.Name, err))
			logger.Warn().Err(err).Str("track", track.Name).Msg("track import failed")
		}
	}

	summary.FinishedAt = time.Now()
	logger.Info().
		Int("total", summary.Total).
		Int("created", summary.Created).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("playlist import complete")
	return summary, nil
}

func (p *PlaylistImporter) importTrack(ctx context.Context, collectionID int64, position int, track metaclient.SpotifyTrack, summary *ImportSummary) error {
	if len(track.Artists) == 0 {
		return fmt.Errorf("track %q has no artists", track.Name)
	}
	primary := track.Artists[0].Name

	return p.store.WithTx(ctx, func(ctx context.Context) error {
		existing, err := p.findExisting(ctx, track.Name, primary)
		if err != nil {
			return err
		}
		if existing != nil {
			summary.Skipped++
			return p.store.AddVideoToCollection(ctx, collectionID, existing.ID, position)
		}

		v := &store.Video{
			Title:          track.Name,
			Artist:         primary,
			Album:          track.Album.Name,
			Year:           track.Year(),
			DownloadSource: "spotify",
		}
		if err := p.store.CreateVideo(ctx, v); err != nil {
			return err
		}

		for i, a := range track.Artists {
			artist, err := p.store.UpsertArtist(ctx, a.Name, "")
			if err != nil {
				return err
			}
			role := store.RoleFeatured
			if i == 0 {
				role = store.RolePrimary
			}
			if err := p.store.LinkVideoArtist(ctx, v.ID, artist.ID, role, i); err != nil {
				return err
			}
		}

		if err := p.store.AddVideoToCollection(ctx, collectionID, v.ID, position); err != nil {
			return err
		}
		summary.Created++
		return nil
	})
}

// findExisting matches on exact title and primary artist, case-insensitively.
// The substring query narrows the scan; equality is decided here.
func (p *PlaylistImporter) findExisting(ctx context.Context, title, artist string) (*store.Video, error) {
	rows, err := p.store.Videos().Title(title).Execute(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if strings.EqualFold(strings.TrimSpace(rows[i].Title), strings.TrimSpace(title)) &&
			strings.EqualFold(strings.TrimSpace(rows[i].Artist), strings.TrimSpace(artist)) {
			return &rows[i], nil
		}
	}
	return nil, nil
}
