// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fuzzbin.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newVideo(title, artist string) *Video {
	return &Video{Title: title, Artist: artist}
}

func TestMigrationsApplyOnceAndSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fuzzbin.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Re-opening must be a no-op, not a re-apply.
	s2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	var n int
	require.NoError(t, s2.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	require.Equal(t, 2, n)
}

func TestCreateVideoEmitsInitialHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("Blurred Lines", "Robin Thicke")
	require.NoError(t, s.CreateVideo(ctx, v))
	require.NotZero(t, v.ID)
	require.Equal(t, StatusDiscovered, v.Status)

	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Nil(t, history[0].OldStatus)
	require.Equal(t, StatusDiscovered, history[0].NewStatus)
}

func TestStatusHistoryHeadMatchesStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("Sabotage", "Beastie Boys")
	require.NoError(t, s.CreateVideo(ctx, v))

	for _, st := range []Status{StatusQueued, StatusDownloading, StatusDownloaded} {
		changed, err := s.UpdateStatus(ctx, v.ID, st, "", "test", "")
		require.NoError(t, err)
		require.True(t, changed)
	}

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, got.Status, history[0].NewStatus)
	require.Equal(t, StatusDownloaded, history[0].NewStatus)
}

func TestUpdateStatusSameStatusIsNoOp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("Around the World", "Daft Punk")
	require.NoError(t, s.CreateVideo(ctx, v))

	changed, err := s.UpdateStatus(ctx, v.ID, StatusDiscovered, "again", "", "")
	require.NoError(t, err)
	require.False(t, changed)

	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("x", "")
	require.NoError(t, s.CreateVideo(ctx, v))

	_, err := s.UpdateStatus(ctx, v.ID, Status("exploded"), "", "", "")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestUpdateVideoRoutesStatusThroughHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("Hurt", "Johnny Cash")
	require.NoError(t, s.CreateVideo(ctx, v))

	v.Album = "American IV"
	v.Status = StatusQueued
	require.NoError(t, s.UpdateVideo(ctx, v))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, "American IV", got.Album)
	require.Equal(t, StatusQueued, got.Status)

	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, StatusQueued, history[0].NewStatus)
}

func TestExternalIDUniquenessSurvivesSoftDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v1 := newVideo("first", "")
	v1.YouTubeID = "dQw4w9WgXcQ"
	require.NoError(t, s.CreateVideo(ctx, v1))

	v2 := newVideo("second", "")
	v2.YouTubeID = "dQw4w9WgXcQ"
	err := s.CreateVideo(ctx, v2)
	require.ErrorIs(t, err, ErrDuplicate)

	// The ID stays reserved after soft-delete: no reuse.
	require.NoError(t, s.SoftDeleteVideo(ctx, v1.ID))
	err = s.CreateVideo(ctx, v2)
	require.ErrorIs(t, err, ErrDuplicate)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("Smells Like Teen Spirit", "Nirvana")
	require.NoError(t, s.CreateVideo(ctx, v))
	require.NoError(t, s.SoftDeleteVideo(ctx, v.ID))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, got.IsDeleted)
	require.NotNil(t, got.DeletedAt)

	// Default queries exclude deleted rows.
	rows, err := s.Videos().Title("Teen Spirit").Execute(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)

	rows, err = s.Videos().Title("Teen Spirit").IncludeDeleted(true).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, s.RestoreVideo(ctx, v.ID))
	got, err = s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.False(t, got.IsDeleted)
	require.Nil(t, got.DeletedAt)
}

func TestHardDeleteCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("gone", "")
	require.NoError(t, s.CreateVideo(ctx, v))
	_, err := s.TagVideo(ctx, v.ID, "rock")
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, v.ID, StatusQueued, "", "", "")
	require.NoError(t, err)

	require.NoError(t, s.HardDeleteVideo(ctx, v.ID))

	_, err = s.GetVideo(ctx, v.ID)
	require.ErrorIs(t, err, ErrNotFound)

	history, err := s.StatusHistoryFor(ctx, v.ID)
	require.NoError(t, err)
	require.Empty(t, history)

	var junctions int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM video_tags WHERE video_id = ?`, v.ID).Scan(&junctions))
	require.Zero(t, junctions)
}

func TestArtistUpsertCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a1, err := s.UpsertArtist(ctx, "Daft Punk", "")
	require.NoError(t, err)
	a2, err := s.UpsertArtist(ctx, "daft punk", "imvdb-123")
	require.NoError(t, err)
	require.Equal(t, a1.ID, a2.ID)
	require.Equal(t, "Daft Punk", a2.Name, "case-preserving storage")
	require.Equal(t, "imvdb-123", a2.IMVDbArtistID)

	found, err := s.FindArtistByName(ctx, "DAFT PUNK")
	require.NoError(t, err)
	require.Equal(t, a1.ID, found.ID)
}

func TestLinkVideoArtistIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("One More Time", "Daft Punk")
	require.NoError(t, s.CreateVideo(ctx, v))
	a, err := s.UpsertArtist(ctx, "Daft Punk", "")
	require.NoError(t, err)

	require.NoError(t, s.LinkVideoArtist(ctx, v.ID, a.ID, RolePrimary, 0))
	require.NoError(t, s.LinkVideoArtist(ctx, v.ID, a.ID, RolePrimary, 0))

	_, links, err := s.VideoArtists(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestCollectionMembershipSymmetry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c, err := s.UpsertCollection(ctx, "90s Bangers", "")
	require.NoError(t, err)

	v1 := newVideo("first", "")
	v2 := newVideo("second", "")
	require.NoError(t, s.CreateVideo(ctx, v1))
	require.NoError(t, s.CreateVideo(ctx, v2))
	require.NoError(t, s.AddVideoToCollection(ctx, c.ID, v2.ID, 1))
	require.NoError(t, s.AddVideoToCollection(ctx, c.ID, v1.ID, 0))

	videos, err := s.CollectionVideos(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, videos, 2)
	require.Equal(t, v1.ID, videos[0].ID, "ordered by position")
	require.Equal(t, v2.ID, videos[1].ID)

	colls, err := s.VideoCollections(ctx, v1.ID)
	require.NoError(t, err)
	require.Len(t, colls, 1)
	require.Equal(t, c.ID, colls[0].ID)

	// Name uniqueness is case-insensitive among non-deleted rows.
	c2, err := s.UpsertCollection(ctx, "90S BANGERS", "")
	require.NoError(t, err)
	require.Equal(t, c.ID, c2.ID)
}

func TestTagUsageCountLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v1 := newVideo("a", "")
	v2 := newVideo("b", "")
	require.NoError(t, s.CreateVideo(ctx, v1))
	require.NoError(t, s.CreateVideo(ctx, v2))

	tag, err := s.TagVideo(ctx, v1.ID, "  Rock ")
	require.NoError(t, err)
	require.Equal(t, "rock", tag.NormalizedName)
	require.Equal(t, 1, tag.UsageCount)

	tag, err = s.TagVideo(ctx, v2.ID, "rock")
	require.NoError(t, err)
	require.Equal(t, 2, tag.UsageCount)

	// Double-tagging is idempotent.
	tag, err = s.TagVideo(ctx, v2.ID, "ROCK")
	require.NoError(t, err)
	require.Equal(t, 2, tag.UsageCount)

	// Soft-deleting a video adjusts the live count.
	require.NoError(t, s.SoftDeleteVideo(ctx, v1.ID))
	tag, err = s.GetTag(ctx, "rock")
	require.NoError(t, err)
	require.Equal(t, 1, tag.UsageCount)

	require.NoError(t, s.RestoreVideo(ctx, v1.ID))
	tag, err = s.GetTag(ctx, "rock")
	require.NoError(t, err)
	require.Equal(t, 2, tag.UsageCount)

	// Removing the last reference deletes the tag row.
	require.NoError(t, s.UntagVideo(ctx, v1.ID, "rock"))
	require.NoError(t, s.UntagVideo(ctx, v2.ID, "rock"))
	_, err = s.GetTag(ctx, "rock")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHardDeleteTagAccounting(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Sole reference: hard delete removes the tag row entirely.
	v1 := newVideo("a", "")
	require.NoError(t, s.CreateVideo(ctx, v1))
	_, err := s.TagVideo(ctx, v1.ID, "rock")
	require.NoError(t, err)
	require.NoError(t, s.HardDeleteVideo(ctx, v1.ID))
	_, err = s.GetTag(ctx, "rock")
	require.ErrorIs(t, err, ErrNotFound)

	// A fresh reference starts the count over at one.
	v2 := newVideo("b", "")
	require.NoError(t, s.CreateVideo(ctx, v2))
	tag, err := s.TagVideo(ctx, v2.ID, "rock")
	require.NoError(t, err)
	require.Equal(t, 1, tag.UsageCount)

	// Shared tag: hard delete decrements, the survivor keeps the tag.
	v3 := newVideo("c", "")
	require.NoError(t, s.CreateVideo(ctx, v3))
	tag, err = s.TagVideo(ctx, v3.ID, "rock")
	require.NoError(t, err)
	require.Equal(t, 2, tag.UsageCount)

	require.NoError(t, s.HardDeleteVideo(ctx, v3.ID))
	tag, err = s.GetTag(ctx, "rock")
	require.NoError(t, err)
	require.Equal(t, 1, tag.UsageCount)
}

func TestSoftThenHardDeleteDoesNotDoubleDecrement(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	shared := newVideo("keeper", "")
	doomed := newVideo("doomed", "")
	require.NoError(t, s.CreateVideo(ctx, shared))
	require.NoError(t, s.CreateVideo(ctx, doomed))
	_, err := s.TagVideo(ctx, shared.ID, "rock")
	require.NoError(t, err)
	_, err = s.TagVideo(ctx, doomed.ID, "rock")
	require.NoError(t, err)

	// Soft delete already took the reference out of the live count.
	require.NoError(t, s.SoftDeleteVideo(ctx, doomed.ID))
	tag, err := s.GetTag(ctx, "rock")
	require.NoError(t, err)
	require.Equal(t, 1, tag.UsageCount)

	require.NoError(t, s.HardDeleteVideo(ctx, doomed.ID))
	tag, err = s.GetTag(ctx, "rock")
	require.NoError(t, err)
	require.Equal(t, 1, tag.UsageCount)

	// Once the soft-deleted holdout is gone, the last untag drops the row.
	require.NoError(t, s.UntagVideo(ctx, shared.ID, "rock"))
	_, err = s.GetTag(ctx, "rock")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestQueryBuilderPredicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seed := []*Video{
		{Title: "Blurred Lines", Artist: "Robin Thicke", Album: "Blurred Lines", Year: 2013, Genre: "Pop"},
		{Title: "Get Lucky", Artist: "Daft Punk", Album: "Random Access Memories", Year: 2013, Genre: "Disco"},
		{Title: "Around the World", Artist: "Daft Punk", Album: "Homework", Year: 1997, Genre: "House"},
	}
	for _, v := range seed {
		require.NoError(t, s.CreateVideo(ctx, v))
	}

	rows, err := s.Videos().Artist("daft").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = s.Videos().Artist("Daft Punk").Year(1997).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Around the World", rows[0].Title)

	rows, err = s.Videos().YearRange(2010, 2020).OrderBy("title", false).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Blurred Lines", rows[0].Title)

	n, err := s.Videos().YearRange(2010, 2020).Limit(1).Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n, "count strips limit")

	// Invalid order field is ignored, not an error.
	rows, err = s.Videos().OrderBy("; DROP TABLE videos", true).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestQueryBuilderTagAndCollection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("tagged", "")
	require.NoError(t, s.CreateVideo(ctx, v))
	_, err := s.TagVideo(ctx, v.ID, "synthwave")
	require.NoError(t, err)

	c, err := s.UpsertCollection(ctx, "Favorites", "")
	require.NoError(t, err)
	require.NoError(t, s.AddVideoToCollection(ctx, c.ID, v.ID, 0))

	rows, err := s.Videos().Tag("Synthwave").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = s.Videos().Collection("favorites").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = s.Videos().Tag("absent").Execute(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestFullTextSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v1 := &Video{Title: "Smells Like Teen Spirit", Artist: "Nirvana", Album: "Nevermind"}
	v2 := &Video{Title: "Come As You Are", Artist: "Nirvana", Album: "Nevermind"}
	v3 := &Video{Title: "Creep", Artist: "Radiohead", Album: "Pablo Honey"}
	for _, v := range []*Video{v1, v2, v3} {
		require.NoError(t, s.CreateVideo(ctx, v))
	}

	rows, err := s.Videos().Search("nirvana").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = s.Videos().Search("teen spirit").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, v1.ID, rows[0].ID)

	// FTS keeps in sync through updates.
	v3.Title = "Karma Police"
	require.NoError(t, s.UpdateVideo(ctx, v3))
	rows, err = s.Videos().Search("creep").Execute(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
	rows, err = s.Videos().Search("karma").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Soft-deleted rows drop out of search by default.
	require.NoError(t, s.SoftDeleteVideo(ctx, v2.ID))
	rows, err = s.Videos().Search("nirvana").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestWithTxNestingSharesTransaction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := newVideo("atomic", "")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.CreateVideo(ctx, v); err != nil {
			return err
		}
		// Nested scope shares the outer transaction.
		return s.WithTx(ctx, func(ctx context.Context) error {
			_, err := s.TagVideo(ctx, v.ID, "inner")
			return err
		})
	})
	require.NoError(t, err)

	tags, err := s.VideoTags(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	v := newVideo("phantom", "")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.CreateVideo(ctx, v); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetVideo(ctx, v.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
