// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// normalizeName produces the case-insensitive lookup key for artists,
// collections and tags.
func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// UpsertArtist inserts the artist or returns the existing row for the same
// normalized name. Storage is case-preserving; lookup is case-insensitive.
func (s *Store) UpsertArtist(ctx context.Context, name, imvdbArtistID string) (*Artist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: artist name required", ErrInvalidQuery)
	}
	normalized := normalizeName(name)

	var out *Artist
	err := s.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO artists (name, normalized_name, imvdb_artist_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(normalized_name) DO UPDATE SET
			imvdb_artist_id = COALESCE(excluded.imvdb_artist_id, artists.imvdb_artist_id),
			updated_at = excluded.updated_at`,
			name, normalized, nullStr(imvdbArtistID), timestamp(now), timestamp(now),
		)
		if err != nil {
			return mapWriteError(err, "artist", name)
		}

		a, err := s.getArtistByNormalized(ctx, normalized)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// GetArtist returns an artist by ID.
func (s *Store) GetArtist(ctx context.Context, id int64) (*Artist, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
	SELECT id, name, normalized_name, imvdb_artist_id, is_deleted, deleted_at, created_at, updated_at
	FROM artists WHERE id = ?`, id)
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "artist", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get artist %d: %w", id, err)
	}
	return a, nil
}

// FindArtistByName looks an artist up case-insensitively.
func (s *Store) FindArtistByName(ctx context.Context, name string) (*Artist, error) {
	a, err := s.getArtistByNormalized(ctx, normalizeName(name))
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, &NotFoundError{Kind: "artist", ID: name}
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) getArtistByNormalized(ctx context.Context, normalized string) (*Artist, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
	SELECT id, name, normalized_name, imvdb_artist_id, is_deleted, deleted_at, created_at, updated_at
	FROM artists WHERE normalized_name = ?`, normalized)
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "artist", ID: normalized}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get artist %q: %w", normalized, err)
	}
	return a, nil
}

// LinkVideoArtist connects a video and an artist at the given role and
// position. Double-linking is idempotent.
func (s *Store) LinkVideoArtist(ctx context.Context, videoID, artistID int64, role ArtistRole, position int) error {
	if role != RolePrimary && role != RoleFeatured {
		return fmt.Errorf("%w: artist role %q", ErrInvalidQuery, role)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR IGNORE INTO video_artists (video_id, artist_id, role, position)
		VALUES (?, ?, ?, ?)`,
			videoID, artistID, string(role), position,
		)
		if err != nil {
			return mapWriteError(err, "video_artist", fmt.Sprintf("%d/%d", videoID, artistID))
		}
		return nil
	})
}

// UnlinkVideoArtist removes one link.
func (s *Store) UnlinkVideoArtist(ctx context.Context, videoID, artistID int64, role ArtistRole) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx,
			`DELETE FROM video_artists WHERE video_id = ? AND artist_id = ? AND role = ?`,
			videoID, artistID, string(role),
		)
		if err != nil {
			return mapWriteError(err, "video_artist", fmt.Sprintf("%d/%d", videoID, artistID))
		}
		return nil
	})
}

// VideoArtists returns the artists linked to a video ordered by role then
// position (primary first).
func (s *Store) VideoArtists(ctx context.Context, videoID int64) ([]Artist, []VideoArtist, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
	SELECT a.id, a.name, a.normalized_name, a.imvdb_artist_id, a.is_deleted, a.deleted_at, a.created_at, a.updated_at,
	       va.role, va.position
	FROM video_artists va
	JOIN artists a ON a.id = va.artist_id
	WHERE va.video_id = ?
	ORDER BY CASE va.role WHEN 'primary' THEN 0 ELSE 1 END, va.position`, videoID)
	if err != nil {
		return nil, nil, fmt.Errorf("store: video artists %d: %w", videoID, err)
	}
	defer func() { _ = rows.Close() }()

	var artists []Artist
	var links []VideoArtist
	for rows.Next() {
		var a Artist
		var link VideoArtist
		var imvdbID, deletedAt, createdAt, updatedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.Name, &a.NormalizedName, &imvdbID, &a.IsDeleted, &deletedAt, &createdAt, &updatedAt,
			&link.Role, &link.Position); err != nil {
			return nil, nil, fmt.Errorf("store: scan video artist: %w", err)
		}
		a.IMVDbArtistID = imvdbID.String
		a.DeletedAt = parseTime(deletedAt)
		if t := parseTime(createdAt); t != nil {
			a.CreatedAt = *t
		}
		if t := parseTime(updatedAt); t != nil {
			a.UpdatedAt = *t
		}
		link.VideoID = videoID
		link.ArtistID = a.ID
		artists = append(artists, a)
		links = append(links, link)
	}
	return artists, links, rows.Err()
}

func scanArtist(row rowScanner) (*Artist, error) {
	var a Artist
	var imvdbID, deletedAt, createdAt, updatedAt sql.NullString
	if err := row.Scan(&a.ID, &a.Name, &a.NormalizedName, &imvdbID, &a.IsDeleted, &deletedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.IMVDbArtistID = imvdbID.String
	a.DeletedAt = parseTime(deletedAt)
	if t := parseTime(createdAt); t != nil {
		a.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		a.UpdatedAt = *t
	}
	return &a, nil
}
