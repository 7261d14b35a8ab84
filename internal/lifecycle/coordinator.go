// SPDX-License-Identifier: MIT

// Package lifecycle drives each video through discovery, download,
// enrichment, organization and deletion. A single in-process coordinator
// enforces the transition table and persists every change with its history
// row through the store.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/log"
	"github.com/fuzzbin/fuzzbin/internal/store"
)

// ErrInvalidTransition reports an out-of-table transition request.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// transitions is the closed table of permitted moves. Any status may move to
// missing when the integrity audit finds the file gone.
var transitions = map[store.Status][]store.Status{
	store.StatusDiscovered:  {store.StatusQueued},
	store.StatusQueued:      {store.StatusDownloading},
	store.StatusDownloading: {store.StatusDownloaded, store.StatusFailed, store.StatusQueued},
	store.StatusDownloaded:  {store.StatusImported},
	store.StatusFailed:      {store.StatusQueued},
	store.StatusImported:    {store.StatusOrganized},
	store.StatusOrganized:   {store.StatusArchived},
	store.StatusArchived:    {},
	store.StatusMissing:     {},
}

// CanTransition reports whether from -> to is in the table.
func CanTransition(from, to store.Status) bool {
	if to == store.StatusMissing {
		return from != store.StatusMissing
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Coordinator serializes status transitions. It never reaches outside the
// store; callers bring the facts they already have.
type Coordinator struct {
	store  *store.Store
	logger zerolog.Logger
}

// New creates the coordinator.
func New(s *store.Store) *Coordinator {
	return &Coordinator{store: s, logger: log.WithComponent("lifecycle")}
}

// Transition moves the video to target, refusing out-of-table moves. History
// is emitted exactly once per actual change; a same-status call is a no-op.
func (c *Coordinator) Transition(ctx context.Context, videoID int64, target store.Status, reason, changedBy string, metadata map[string]any) error {
	if !store.ValidStatus(target) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	return c.store.WithTx(ctx, func(ctx context.Context) error {
		current, err := c.store.GetVideo(ctx, videoID)
		if err != nil {
			return err
		}
		if current.Status == target {
			return nil
		}
		if !CanTransition(current.Status, target) {
			c.logger.Warn().
				Int64("video_id", videoID).
				Str("from", string(current.Status)).
				Str("to", string(target)).
				Msg("refusing transition")
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
		}

		var meta string
		if len(metadata) > 0 {
			b, err := json.Marshal(metadata)
			if err != nil {
				return fmt.Errorf("lifecycle: encode metadata: %w", err)
			}
			meta = string(b)
		}

		_, err = c.store.UpdateStatus(ctx, videoID, target, reason, changedBy, meta)
		return err
	})
}

// Queue marks a discovered or failed video ready for download.
func (c *Coordinator) Queue(ctx context.Context, videoID int64, reason string) error {
	return c.Transition(ctx, videoID, store.StatusQueued, reason, "coordinator", nil)
}

// StartDownload marks a queued video as downloading.
func (c *Coordinator) StartDownload(ctx context.Context, videoID int64) error {
	return c.Transition(ctx, videoID, store.StatusDownloading, "download started", "downloader", nil)
}

// CancelDownload returns an interrupted download to the queue. An operator
// stop is not a download failure; the attempt counter stays untouched.
func (c *Coordinator) CancelDownload(ctx context.Context, videoID int64) error {
	return c.Transition(ctx, videoID, store.StatusQueued, "download cancelled", "downloader", nil)
}

// CompleteDownload records the downloaded file facts and transitions to
// downloaded in one transaction.
func (c *Coordinator) CompleteDownload(ctx context.Context, videoID int64, filePath string, size int64, checksum, algo string) error {
	return c.store.WithTx(ctx, func(ctx context.Context) error {
		v, err := c.store.GetVideo(ctx, videoID)
		if err != nil {
			return err
		}
		now := time.Now()
		v.VideoFilePath = filePath
		v.FileSize = size
		v.FileChecksum = checksum
		v.ChecksumAlgo = algo
		v.FileVerifiedAt = &now
		if err := c.store.UpdateVideo(ctx, v); err != nil {
			return err
		}
		return c.Transition(ctx, videoID, store.StatusDownloaded, "download complete", "downloader", map[string]any{
			"file_path": filePath,
			"size":      size,
		})
	})
}

// FailDownload records the error, bumps the attempt counter and transitions
// to failed.
func (c *Coordinator) FailDownload(ctx context.Context, videoID int64, downloadErr string) error {
	return c.store.WithTx(ctx, func(ctx context.Context) error {
		v, err := c.store.GetVideo(ctx, videoID)
		if err != nil {
			return err
		}
		v.LastDownloadErr = downloadErr
		v.DownloadAttempts++
		if err := c.store.UpdateVideo(ctx, v); err != nil {
			return err
		}
		return c.Transition(ctx, videoID, store.StatusFailed, downloadErr, "downloader", map[string]any{
			"attempts": v.DownloadAttempts,
		})
	})
}

// CompleteImport writes the enrichment fields and transitions to imported.
func (c *Coordinator) CompleteImport(ctx context.Context, videoID int64, album, genre, studio, director string) error {
	return c.store.WithTx(ctx, func(ctx context.Context) error {
		v, err := c.store.GetVideo(ctx, videoID)
		if err != nil {
			return err
		}
		if album != "" {
			v.Album = album
		}
		if genre != "" {
			v.Genre = genre
		}
		if studio != "" {
			v.Studio = studio
		}
		if director != "" {
			v.Director = director
		}
		if err := c.store.UpdateVideo(ctx, v); err != nil {
			return err
		}
		return c.Transition(ctx, videoID, store.StatusImported, "metadata import complete", "importer", nil)
	})
}

// MarkOrganized transitions after a successful atomic move. The file manager
// has already written the final paths.
func (c *Coordinator) MarkOrganized(ctx context.Context, videoID int64) error {
	return c.Transition(ctx, videoID, store.StatusOrganized, "organized", "organizer", nil)
}

// MarkMissing records post-hoc file loss found by the integrity audit.
func (c *Coordinator) MarkMissing(ctx context.Context, videoID int64, expectedPath string) error {
	return c.Transition(ctx, videoID, store.StatusMissing, "file missing", "auditor", map[string]any{
		"expected_path": expectedPath,
	})
}
