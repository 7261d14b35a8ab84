// SPDX-License-Identifier: MIT

package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fuzzbin/fuzzbin/internal/files"
	"github.com/fuzzbin/fuzzbin/internal/lifecycle"
	"github.com/fuzzbin/fuzzbin/internal/log"
	"github.com/fuzzbin/fuzzbin/internal/store"
)

// ErrNoSource reports a video without any downloadable external ID.
var ErrNoSource = errors.New("download: video has no source ID")

// Downloader runs downloads for queued videos and records the outcome.
type Downloader struct {
	store      *store.Store
	coord      *lifecycle.Coordinator
	runner     Runner
	hasher     files.Hasher
	stagingDir string
	logger     zerolog.Logger
}

// NewDownloader builds the downloader. Downloaded files land in stagingDir
// under their video ID until the organizer moves them.
func NewDownloader(s *store.Store, coord *lifecycle.Coordinator, runner Runner, hasher files.Hasher, stagingDir string) *Downloader {
	return &Downloader{
		store:      s,
		coord:      coord,
		runner:     runner,
		hasher:     hasher,
		stagingDir: stagingDir,
		logger:     log.WithComponent("download"),
	}
}

// sourceURL picks the watch URL for a video, YouTube first.
func sourceURL(v *store.Video) (string, error) {
	switch {
	case v.YouTubeID != "":
		return "https://www.youtube.com/watch?v=" + v.YouTubeID, nil
	case v.VimeoID != "":
		return "https://vimeo.com/" + v.VimeoID, nil
	}
	return "", fmt.Errorf("%w: video %d", ErrNoSource, v.ID)
}

// Download fetches one queued video. Success records the file facts and
// transitions to downloaded; failure records the error and transitions to
// failed so the video can be requeued. A cancelled run goes straight back
// to queued.
func (d *Downloader) Download(ctx context.Context, videoID int64, events chan<- Event) error {
	v, err := d.store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	url, err := sourceURL(v)
	if err != nil {
		return err
	}

	if err := d.coord.StartDownload(ctx, videoID); err != nil {
		return err
	}

	outputPath := filepath.Join(d.stagingDir, fmt.Sprintf("%d.mp4", videoID))
	if err := d.runner.Run(ctx, url, outputPath, events); err != nil {
		// The outcome must be recorded even when the context died with the
		// run. An operator stop requeues the video; a timeout or a broken
		// download counts as a failure.
		record := context.WithoutCancel(ctx)
		if errors.Is(err, context.Canceled) {
			if cancelErr := d.coord.CancelDownload(record, videoID); cancelErr != nil {
				d.logger.Error().Err(cancelErr).Int64("video_id", videoID).Msg("requeueing cancelled download failed")
			}
		} else if failErr := d.coord.FailDownload(record, videoID, err.Error()); failErr != nil {
			d.logger.Error().Err(failErr).Int64("video_id", videoID).Msg("recording download failure failed")
		}
		return err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		err = fmt.Errorf("download: output missing: %w", err)
		_ = d.coord.FailDownload(ctx, videoID, err.Error())
		return err
	}
	sum, err := d.hasher.Sum(outputPath)
	if err != nil {
		_ = d.coord.FailDownload(ctx, videoID, err.Error())
		return err
	}

	if err := d.coord.CompleteDownload(ctx, videoID, outputPath, info.Size(), sum, d.hasher.Tag()); err != nil {
		return err
	}
	d.logger.Info().Int64("video_id", videoID).Str("path", outputPath).Int64("size", info.Size()).Msg("download complete")
	return nil
}

// QueueSummary reports one ProcessQueue pass.
type QueueSummary struct {
	Attempted int
	Succeeded int
	Failed    int
}

// ProcessQueue downloads every queued video with at most maxConcurrent
// running at once. Individual failures are recorded on their rows and do not
// stop the pass; only context cancellation aborts it.
func (d *Downloader) ProcessQueue(ctx context.Context, maxConcurrent int, events chan<- Event) (QueueSummary, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	queued, err := d.store.Videos().Status(store.StatusQueued).Execute(ctx)
	if err != nil {
		return QueueSummary{}, err
	}

	var succeeded, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, v := range queued {
		v := v
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := d.Download(ctx, v.ID, events); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	err = g.Wait()

	summary := QueueSummary{
		Attempted: len(queued),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	d.logger.Info().
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("download queue pass complete")
	return summary, err
}
