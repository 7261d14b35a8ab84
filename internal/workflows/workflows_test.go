// SPDX-License-Identifier: MIT

package workflows

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fuzzbin/fuzzbin/internal/lifecycle"
	"github.com/fuzzbin/fuzzbin/internal/metaclient"
	"github.com/fuzzbin/fuzzbin/internal/store"
)

type fakePlaylist struct {
	playlist metaclient.SpotifyPlaylist
	tracks   []metaclient.SpotifyTrack
	calls    int
}

func (f *fakePlaylist) Playlist(context.Context, string) (*metaclient.SpotifyPlaylist, error) {
	f.calls++
	return &f.playlist, nil
}

func (f *fakePlaylist) PlaylistTracks(context.Context, string) ([]metaclient.SpotifyTrack, error) {
	return f.tracks, nil
}

type fakeIMVDb struct {
	results []metaclient.IMVDbVideo
	videos  map[int64]*metaclient.IMVDbVideo
}

func (f *fakeIMVDb) SearchVideos(context.Context, string) ([]metaclient.IMVDbVideo, error) {
	return f.results, nil
}

func (f *fakeIMVDb) Video(_ context.Context, id int64) (*metaclient.IMVDbVideo, error) {
	return f.videos[id], nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fuzzbin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func track(name string, year string, artists ...string) metaclient.SpotifyTrack {
	var tr metaclient.SpotifyTrack
	tr.ID = "sp-" + name
	tr.Name = name
	tr.Album.Name = name + " album"
	tr.Album.ReleaseDate = year
	for _, a := range artists {
		tr.Artists = append(tr.Artists, struct {
			Name string `json:"name"`
		}{Name: a})
	}
	return tr
}

func TestImportPlaylist(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	source := &fakePlaylist{
		playlist: metaclient.SpotifyPlaylist{ID: "pl1", Name: "Summer Hits"},
		tracks: []metaclient.SpotifyTrack{
			track("Blurred Lines", "2013-03-26", "Robin Thicke", "T.I.", "Pharrell Williams"),
			track("Get Lucky", "2013", "Daft Punk"),
		},
	}

	importer := NewPlaylistImporter(s, source)
	summary, err := importer.Import(ctx, "pl1")
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	require.Equal(t, "Summer Hits", summary.PlaylistName)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 2, summary.Created)
	require.Zero(t, summary.Skipped)
	require.Zero(t, summary.Failed)

	// Collection holds both tracks in playlist order.
	videos, err := s.CollectionVideos(ctx, summary.CollectionID)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	require.Equal(t, "Blurred Lines", videos[0].Title)
	require.Equal(t, "Get Lucky", videos[1].Title)
	require.Equal(t, 2013, videos[0].Year)
	require.Equal(t, store.StatusDiscovered, videos[0].Status)
	require.Equal(t, "spotify", videos[0].DownloadSource)

	// Artist links preserve order, first artist primary.
	artists, links, err := s.VideoArtists(ctx, videos[0].ID)
	require.NoError(t, err)
	require.Len(t, artists, 3)
	require.Equal(t, "Robin Thicke", artists[0].Name)
	require.Equal(t, store.RolePrimary, links[0].Role)
	require.Equal(t, store.RoleFeatured, links[1].Role)
	require.Equal(t, "T.I.", artists[1].Name)
}

func TestImportPlaylistIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	source := &fakePlaylist{
		playlist: metaclient.SpotifyPlaylist{ID: "pl1", Name: "Summer Hits"},
		tracks: []metaclient.SpotifyTrack{
			track("Get Lucky", "2013", "Daft Punk"),
		},
	}
	importer := NewPlaylistImporter(s, source)

	first, err := importer.Import(ctx, "pl1")
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	second, err := importer.Import(ctx, "pl1")
	require.NoError(t, err)
	require.Zero(t, second.Created)
	require.Equal(t, 1, second.Skipped)
	require.NotEqual(t, first.RunID, second.RunID)

	n, err := s.Videos().Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	// Still exactly one collection membership.
	videos, err := s.CollectionVideos(ctx, second.CollectionID)
	require.NoError(t, err)
	require.Len(t, videos, 1)
}

func TestImportSkipsExistingByTitleAndArtist(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateVideo(ctx, &store.Video{Title: "get lucky", Artist: "DAFT PUNK"}))

	source := &fakePlaylist{
		playlist: metaclient.SpotifyPlaylist{ID: "pl1", Name: "Mix"},
		tracks:   []metaclient.SpotifyTrack{track("Get Lucky", "2013", "Daft Punk")},
	}
	summary, err := NewPlaylistImporter(s, source).Import(ctx, "pl1")
	require.NoError(t, err)
	require.Zero(t, summary.Created)
	require.Equal(t, 1, summary.Skipped)
}

func TestImportTrackWithoutArtistsFails(t *testing.T) {
	s := openStore(t)

	bad := metaclient.SpotifyTrack{ID: "x", Name: "No Artist"}
	source := &fakePlaylist{
		playlist: metaclient.SpotifyPlaylist{ID: "pl1", Name: "Mix"},
		tracks:   []metaclient.SpotifyTrack{bad, track("Get Lucky", "2013", "Daft Punk")},
	}

	summary, err := NewPlaylistImporter(s, source).Import(context.Background(), "pl1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 1, summary.Created)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.Errors[0], "No Artist")
}

func imvdbVideo(id int64, title string, year int) *metaclient.IMVDbVideo {
	v := &metaclient.IMVDbVideo{ID: id, Title: title, Year: year}
	v.Directors = append(v.Directors, struct {
		Name string `json:"entity_name"`
	}{Name: "Diane Martel"})
	v.Sources = append(v.Sources, struct {
		Source   string `json:"source"`
		SourceID string `json:"source_data"`
	}{Source: "youtube", SourceID: "yyDUC1LUXSU"})
	return v
}

func TestEnrichDownloadedVideo(t *testing.T) {
	s := openStore(t)
	coord := lifecycle.New(s)
	ctx := context.Background()

	v := &store.Video{Title: "Blurred Lines", Artist: "Robin Thicke"}
	require.NoError(t, s.CreateVideo(ctx, v))
	require.NoError(t, coord.Queue(ctx, v.ID, ""))
	require.NoError(t, coord.StartDownload(ctx, v.ID))
	require.NoError(t, coord.CompleteDownload(ctx, v.ID, "/tmp/x.mp4", 10, "h", "sha256"))

	full := imvdbVideo(42, "Blurred Lines", 2013)
	source := &fakeIMVDb{
		results: []metaclient.IMVDbVideo{{ID: 42}},
		videos:  map[int64]*metaclient.IMVDbVideo{42: full},
	}

	require.NoError(t, NewEnricher(s, coord, source).Enrich(ctx, v.ID))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, "42", got.IMVDbVideoID)
	require.Equal(t, "yyDUC1LUXSU", got.YouTubeID)
	require.Equal(t, 2013, got.Year)
	require.Equal(t, "Diane Martel", got.Director)
	require.Equal(t, store.StatusImported, got.Status)
}

func TestEnrichKeepsExistingFields(t *testing.T) {
	s := openStore(t)
	coord := lifecycle.New(s)
	ctx := context.Background()

	v := &store.Video{Title: "Blurred Lines", Artist: "Robin Thicke", Year: 2014, YouTubeID: "existing"}
	require.NoError(t, s.CreateVideo(ctx, v))

	source := &fakeIMVDb{
		results: []metaclient.IMVDbVideo{{ID: 42}},
		videos:  map[int64]*metaclient.IMVDbVideo{42: imvdbVideo(42, "Blurred Lines", 2013)},
	}
	require.NoError(t, NewEnricher(s, coord, source).Enrich(ctx, v.ID))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, 2014, got.Year)
	require.Equal(t, "existing", got.YouTubeID)
	require.Equal(t, "42", got.IMVDbVideoID)
	// Not downloaded, so the status stays put.
	require.Equal(t, store.StatusDiscovered, got.Status)
}

func TestEnrichNoMatch(t *testing.T) {
	s := openStore(t)
	coord := lifecycle.New(s)
	ctx := context.Background()

	v := &store.Video{Title: "Obscure", Artist: "Nobody"}
	require.NoError(t, s.CreateVideo(ctx, v))

	err := NewEnricher(s, coord, &fakeIMVDb{}).Enrich(ctx, v.ID)
	require.ErrorIs(t, err, ErrNoMatch)

	// Missing artist refuses before searching.
	noArtist := &store.Video{Title: "Untitled"}
	require.NoError(t, s.CreateVideo(ctx, noArtist))
	err = NewEnricher(s, coord, &fakeIMVDb{}).Enrich(ctx, noArtist.ID)
	require.ErrorIs(t, err, ErrNoMatch)
}
