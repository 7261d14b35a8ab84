// SPDX-License-Identifier: MIT

package lifecycle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fuzzbin/fuzzbin/internal/store"
)

func setup(t *testing.T) (*Coordinator, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "fuzzbin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func createVideo(t *testing.T, s *store.Store) *store.Video {
	t.Helper()
	v := &store.Video{Title: "test video"}
	require.NoError(t, s.CreateVideo(context.Background(), v))
	return v
}

func TestHappyPathToArchived(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()
	v := createVideo(t, s)

	require.NoError(t, c.Queue(ctx, v.ID, "manual"))
	require.NoError(t, c.StartDownload(ctx, v.ID))
	require.NoError(t, c.CompleteDownload(ctx, v.ID, "/tmp/video.mp4", 1024, "abc123", "sha256"))
	require.NoError(t, c.CompleteImport(ctx, v.ID, "Album", "Pop", "Studio", "Director"))
	require.NoError(t, c.MarkOrganized(ctx, v.ID))
	require.NoError(t, c.Transition(ctx, v.ID, store.StatusArchived, "done", "operator", nil))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusArchived, got.Status)
	require.Equal(t, "/tmp/video.mp4", got.VideoFilePath)
	require.Equal(t, "Album", got.Album)
	require.Equal(t, "abc123", got.FileChecksum)

	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	// created + 6 transitions, exactly one row each.
	require.Len(t, history, 7)
	require.Equal(t, store.StatusArchived, history[0].NewStatus)
}

func TestRefusesOutOfTableTransition(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()
	v := createVideo(t, s)

	err := c.Transition(ctx, v.ID, store.StatusOrganized, "skip ahead", "", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// No history row for the refused move.
	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestFailedDownloadCanRequeue(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()
	v := createVideo(t, s)

	require.NoError(t, c.Queue(ctx, v.ID, ""))
	require.NoError(t, c.StartDownload(ctx, v.ID))
	require.NoError(t, c.FailDownload(ctx, v.ID, "yt-dlp: HTTP 403"))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, got.Status)
	require.Equal(t, 1, got.DownloadAttempts)
	require.Equal(t, "yt-dlp: HTTP 403", got.LastDownloadErr)

	// Manual retry re-enters the queue.
	require.NoError(t, c.Queue(ctx, v.ID, "manual retry"))
	got, err = s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusQueued, got.Status)
}

func TestAnyStateCanGoMissing(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()
	v := createVideo(t, s)

	require.NoError(t, c.MarkMissing(ctx, v.ID, "/var/media/a/b.mp4"))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusMissing, got.Status)

	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Contains(t, history[0].Metadata, "/var/media/a/b.mp4")

	// missing is terminal except for nothing: even missing -> missing no-ops.
	require.NoError(t, c.MarkMissing(ctx, v.ID, "/var/media/a/b.mp4"))
	history, err = s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestSameStatusTransitionEmitsNothing(t *testing.T) {
	c, s := setup(t)
	ctx := context.Background()
	v := createVideo(t, s)

	require.NoError(t, c.Queue(ctx, v.ID, ""))
	require.NoError(t, c.Queue(ctx, v.ID, "again"))

	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to store.Status
		ok       bool
	}{
		{store.StatusDiscovered, store.StatusQueued, true},
		{store.StatusQueued, store.StatusDownloading, true},
		{store.StatusDownloading, store.StatusDownloaded, true},
		{store.StatusDownloading, store.StatusFailed, true},
		{store.StatusDownloading, store.StatusQueued, true},
		{store.StatusFailed, store.StatusQueued, true},
		{store.StatusDownloaded, store.StatusImported, true},
		{store.StatusImported, store.StatusOrganized, true},
		{store.StatusOrganized, store.StatusArchived, true},
		{store.StatusArchived, store.StatusQueued, false},
		{store.StatusDiscovered, store.StatusDownloaded, false},
		{store.StatusQueued, store.StatusOrganized, false},
		{store.StatusArchived, store.StatusMissing, true},
		{store.StatusMissing, store.StatusMissing, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
