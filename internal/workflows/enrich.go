// SPDX-License-Identifier: MIT

package workflows

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/lifecycle"
	"github.com/fuzzbin/fuzzbin/internal/log"
	"github.com/fuzzbin/fuzzbin/internal/metaclient"
	"github.com/fuzzbin/fuzzbin/internal/store"
)

// ErrNoMatch reports that IMVDb returned nothing usable for a video.
var ErrNoMatch = errors.New("workflows: no metadata match")

// VideoLookup is the slice of the IMVDb client the enricher consumes.
type VideoLookup interface {
	SearchVideos(ctx context.Context, query string) ([]metaclient.IMVDbVideo, error)
	Video(ctx context.Context, id int64) (*metaclient.IMVDbVideo, error)
}

// Enricher fills a video's identity fields from IMVDb and, when the file is
// already downloaded, advances it to imported.
type Enricher struct {
	store  *store.Store
	coord  *lifecycle.Coordinator
	source VideoLookup
	logger zerolog.Logger
}

// NewEnricher builds the enricher.
func NewEnricher(s *store.Store, coord *lifecycle.Coordinator, source VideoLookup) *Enricher {
	return &Enricher{store: s, coord: coord, source: source, logger: log.WithComponent("enrich")}
}

// Enrich searches IMVDb by artist and title, takes the first result, fetches
// its sources and writes the external IDs, year and director onto the row.
// Existing values win everywhere except the IMVDb ID itself. A downloaded video
// transitions to imported; any other status only gets the metadata.
func (e *Enricher) Enrich(ctx context.Context, videoID int64) error {
	v, err := e.store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if v.Artist == "" || v.Title == "" {
		return fmt.Errorf("%w: video %d needs artist and title to search", ErrNoMatch, videoID)
	}

	results, err := e.source.SearchVideos(ctx, v.Artist+" "+v.Title)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("%w: %q by %q", ErrNoMatch, v.Title, v.Artist)
	}

	full, err := e.source.Video(ctx, results[0].ID)
	if err != nil {
		return err
	}

	director := ""
	if len(full.Directors) > 0 {
		names := make([]string, 0, len(full.Directors))
		for _, d := range full.Directors {
			names = append(names, d.Name)
		}
		director = strings.Join(names, ", ")
	}

	err = e.store.WithTx(ctx, func(ctx context.Context) error {
		v, err := e.store.GetVideo(ctx, videoID)
		if err != nil {
			return err
		}

		v.IMVDbVideoID = strconv.FormatInt(full.ID, 10)
		if v.YouTubeID == "" {
			v.YouTubeID = full.YouTubeID()
		}
		if v.Year == 0 {
			v.Year = full.Year
		}
		if v.Director == "" {
			v.Director = director
		}
		if err := e.store.UpdateVideo(ctx, v); err != nil {
			return err
		}

		if v.Status == store.StatusDownloaded {
			return e.coord.CompleteImport(ctx, videoID, "", "", "", "")
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.logger.Info().
		Int64("video_id", videoID).
		Int64("imvdb_id", full.ID).
		Msg("video enriched")
	return nil
}
