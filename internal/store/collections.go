// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertCollection inserts or returns the collection with the same
// normalized name among non-deleted rows.
func (s *Store) UpsertCollection(ctx context.Context, name, description string) (*Collection, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: collection name required", ErrInvalidQuery)
	}
	normalized := normalizeName(name)

	var out *Collection
	err := s.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO collections (name, normalized_name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(normalized_name) DO UPDATE SET
			description = COALESCE(excluded.description, collections.description),
			updated_at = excluded.updated_at`,
			name, normalized, nullStr(description), timestamp(now), timestamp(now),
		)
		if err != nil {
			return mapWriteError(err, "collection", name)
		}

		row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, name, normalized_name, description, is_deleted, deleted_at, created_at, updated_at
		FROM collections WHERE normalized_name = ?`, normalized)
		c, err := scanCollection(row)
		if err != nil {
			return fmt.Errorf("store: get collection %q: %w", name, err)
		}
		out = c
		return nil
	})
	return out, err
}

// GetCollection returns a collection by ID.
func (s *Store) GetCollection(ctx context.Context, id int64) (*Collection, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
	SELECT id, name, normalized_name, description, is_deleted, deleted_at, created_at, updated_at
	FROM collections WHERE id = ?`, id)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "collection", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get collection %d: %w", id, err)
	}
	return c, nil
}

// AddVideoToCollection links the video at the given position; re-adding is
// idempotent and keeps the first position.
func (s *Store) AddVideoToCollection(ctx context.Context, collectionID, videoID int64, position int) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT OR IGNORE INTO video_collections (collection_id, video_id, position)
		VALUES (?, ?, ?)`,
			collectionID, videoID, position,
		)
		if err != nil {
			return mapWriteError(err, "video_collection", fmt.Sprintf("%d/%d", collectionID, videoID))
		}
		return nil
	})
}

// RemoveVideoFromCollection drops the link.
func (s *Store) RemoveVideoFromCollection(ctx context.Context, collectionID, videoID int64) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx,
			`DELETE FROM video_collections WHERE collection_id = ? AND video_id = ?`,
			collectionID, videoID,
		)
		if err != nil {
			return mapWriteError(err, "video_collection", fmt.Sprintf("%d/%d", collectionID, videoID))
		}
		return nil
	})
}

// CollectionVideos returns the collection members ordered by position.
func (s *Store) CollectionVideos(ctx context.Context, collectionID int64) ([]Video, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
	SELECT `+videoColumns+`
	FROM video_collections vc
	JOIN videos ON videos.id = vc.video_id
	WHERE vc.collection_id = ? AND videos.is_deleted = 0
	ORDER BY vc.position, vc.video_id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("store: collection videos %d: %w", collectionID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan collection video: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// VideoCollections returns the collections a video belongs to.
func (s *Store) VideoCollections(ctx context.Context, videoID int64) ([]Collection, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
	SELECT c.id, c.name, c.normalized_name, c.description, c.is_deleted, c.deleted_at, c.created_at, c.updated_at
	FROM video_collections vc
	JOIN collections c ON c.id = vc.collection_id
	WHERE vc.video_id = ? AND c.is_deleted = 0
	ORDER BY c.name`, videoID)
	if err != nil {
		return nil, fmt.Errorf("store: video collections %d: %w", videoID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan collection: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCollection(row rowScanner) (*Collection, error) {
	var c Collection
	var description, deletedAt, createdAt, updatedAt sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.NormalizedName, &description, &c.IsDeleted, &deletedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Description = description.String
	c.DeletedAt = parseTime(deletedAt)
	if t := parseTime(createdAt); t != nil {
		c.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		c.UpdatedAt = *t
	}
	return &c, nil
}
