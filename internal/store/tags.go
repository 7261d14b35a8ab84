// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertTag inserts the tag keyed by its normalized (lowercase, trimmed)
// form, or returns the existing row. usage_count starts at zero and is
// maintained entirely by the video_tags triggers.
func (s *Store) UpsertTag(ctx context.Context, name string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: tag name required", ErrInvalidQuery)
	}
	normalized := normalizeName(name)

	var out *Tag
	err := s.WithTx(ctx, func(ctx context.Context) error {
		_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO tags (name, normalized_name) VALUES (?, ?)
		ON CONFLICT(normalized_name) DO NOTHING`,
			name, normalized,
		)
		if err != nil {
			return mapWriteError(err, "tag", name)
		}
		t, err := s.getTagByNormalized(ctx, normalized)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// GetTag looks a tag up by its display or normalized name.
func (s *Store) GetTag(ctx context.Context, name string) (*Tag, error) {
	return s.getTagByNormalized(ctx, normalizeName(name))
}

func (s *Store) getTagByNormalized(ctx context.Context, normalized string) (*Tag, error) {
	var t Tag
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, normalized_name, usage_count FROM tags WHERE normalized_name = ?`, normalized,
	).Scan(&t.ID, &t.Name, &t.NormalizedName, &t.UsageCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "tag", ID: normalized}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get tag %q: %w", normalized, err)
	}
	return &t, nil
}

// TagVideo attaches the named tag to the video, creating the tag on first
// use. Double-tagging is idempotent. There is no raw path around this; the
// triggers keep usage_count live.
func (s *Store) TagVideo(ctx context.Context, videoID int64, name string) (*Tag, error) {
	var out *Tag
	err := s.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.UpsertTag(ctx, name)
		if err != nil {
			return err
		}
		_, err = s.q(ctx).ExecContext(ctx,
			`INSERT OR IGNORE INTO video_tags (video_id, tag_id) VALUES (?, ?)`,
			videoID, t.ID,
		)
		if err != nil {
			return mapWriteError(err, "video_tag", fmt.Sprintf("%d/%s", videoID, name))
		}
		// Re-read for the trigger-updated usage count.
		t, err = s.getTagByNormalized(ctx, t.NormalizedName)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

// UntagVideo detaches the tag; the delete trigger decrements usage_count and
// removes the tag row once the last reference is gone.
func (s *Store) UntagVideo(ctx context.Context, videoID int64, name string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.getTagByNormalized(ctx, normalizeName(name))
		if err != nil {
			return err
		}
		_, err = s.q(ctx).ExecContext(ctx,
			`DELETE FROM video_tags WHERE video_id = ? AND tag_id = ?`,
			videoID, t.ID,
		)
		if err != nil {
			return mapWriteError(err, "video_tag", fmt.Sprintf("%d/%s", videoID, name))
		}
		return nil
	})
}

// VideoTags returns the tags attached to a video, name-ordered.
func (s *Store) VideoTags(ctx context.Context, videoID int64) ([]Tag, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
	SELECT t.id, t.name, t.normalized_name, t.usage_count
	FROM video_tags vt
	JOIN tags t ON t.id = vt.tag_id
	WHERE vt.video_id = ?
	ORDER BY t.normalized_name`, videoID)
	if err != nil {
		return nil, fmt.Errorf("store: video tags %d: %w", videoID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.NormalizedName, &t.UsageCount); err != nil {
			return nil, fmt.Errorf("store: scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
