// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const videoColumns = `
	id, title, artist, album, year, director, genre, studio,
	imvdb_video_id, youtube_id, vimeo_id,
	video_file_path, nfo_file_path, file_size, file_checksum, checksum_algo, file_verified_at,
	status, status_changed_at, status_message,
	download_source, download_attempts, last_download_error,
	is_deleted, deleted_at, created_at, updated_at`

// CreateVideo inserts v, assigns its ID and emits the initial status-history
// row (old_status = null).
func (s *Store) CreateVideo(ctx context.Context, v *Video) error {
	if v.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidQuery)
	}
	if v.Year != 0 && (v.Year < 1900 || v.Year > 2100) {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidQuery, v.Year)
	}
	if v.Status == "" {
		v.Status = StatusDiscovered
	}
	if !ValidStatus(v.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, v.Status)
	}

	return s.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		v.CreatedAt = now
		v.UpdatedAt = now
		v.StatusChangedAt = &now

		res, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO videos (
			title, artist, album, year, director, genre, studio,
			imvdb_video_id, youtube_id, vimeo_id,
			video_file_path, nfo_file_path, file_size, file_checksum, checksum_algo, file_verified_at,
			status, status_changed_at, status_message,
			download_source, download_attempts, last_download_error,
			is_deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			v.Title, nullStr(v.Artist), nullStr(v.Album), nullInt(v.Year),
			nullStr(v.Director), nullStr(v.Genre), nullStr(v.Studio),
			nullStr(v.IMVDbVideoID), nullStr(v.YouTubeID), nullStr(v.VimeoID),
			nullStr(v.VideoFilePath), nullStr(v.NFOFilePath),
			v.FileSize, nullStr(v.FileChecksum), nullStr(v.ChecksumAlgo), timePtr(v.FileVerifiedAt),
			string(v.Status), timestamp(now), nullStr(v.StatusMessage),
			nullStr(v.DownloadSource), v.DownloadAttempts, nullStr(v.LastDownloadErr),
			timestamp(now), timestamp(now),
		)
		if err != nil {
			return mapWriteError(err, "video", v.Title)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("store: video id: %w", err)
		}
		v.ID = id

		return s.insertHistory(ctx, id, nil, v.Status, "created", "", "")
	})
}

// GetVideo returns the video by ID, soft-deleted rows included.
func (s *Store) GetVideo(ctx context.Context, id int64) (*Video, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT`+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "video", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("store: get video %d: %w", id, err)
	}
	return v, nil
}

// UpdateVideo rewrites the mutable descriptive and file fields of v. When
// v.Status differs from the stored status, the change routes through the
// same transition path as UpdateStatus, emitting a history row.
func (s *Store) UpdateVideo(ctx context.Context, v *Video) error {
	if v.ID == 0 {
		return fmt.Errorf("%w: video id required", ErrInvalidQuery)
	}
	if v.Year != 0 && (v.Year < 1900 || v.Year > 2100) {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidQuery, v.Year)
	}

	return s.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.GetVideo(ctx, v.ID)
		if err != nil {
			return err
		}

		now := s.now()
		_, err = s.q(ctx).ExecContext(ctx, `
		UPDATE videos SET
			title = ?, artist = ?, album = ?, year = ?, director = ?, genre = ?, studio = ?,
			imvdb_video_id = ?, youtube_id = ?, vimeo_id = ?,
			video_file_path = ?, nfo_file_path = ?, file_size = ?,
			file_checksum = ?, checksum_algo = ?, file_verified_at = ?,
			download_source = ?, download_attempts = ?, last_download_error = ?,
			updated_at = ?
		WHERE id = ?`,
			v.Title, nullStr(v.Artist), nullStr(v.Album), nullInt(v.Year),
			nullStr(v.Director), nullStr(v.Genre), nullStr(v.Studio),
			nullStr(v.IMVDbVideoID), nullStr(v.YouTubeID), nullStr(v.VimeoID),
			nullStr(v.VideoFilePath), nullStr(v.NFOFilePath), v.FileSize,
			nullStr(v.FileChecksum), nullStr(v.ChecksumAlgo), timePtr(v.FileVerifiedAt),
			nullStr(v.DownloadSource), v.DownloadAttempts, nullStr(v.LastDownloadErr),
			timestamp(now), v.ID,
		)
		if err != nil {
			return mapWriteError(err, "video", v.Title)
		}
		v.UpdatedAt = now

		// Status changes always go through the transition path so the
		// history row is never skipped.
		if v.Status != "" && v.Status != current.Status {
			_, err := s.UpdateStatus(ctx, v.ID, v.Status, "update_video", "", "")
			return err
		}
		return nil
	})
}

// UpdateStatus transitions the video to newStatus inside one transaction,
// recording a history row. Same-status calls are a no-op and emit nothing.
// It returns whether a transition actually happened.
func (s *Store) UpdateStatus(ctx context.Context, videoID int64, newStatus Status, reason, changedBy, metadata string) (bool, error) {
	if !ValidStatus(newStatus) {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	changed := false
	err := s.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.GetVideo(ctx, videoID)
		if err != nil {
			return err
		}
		if current.Status == newStatus {
			return nil
		}

		now := s.now()
		_, err = s.q(ctx).ExecContext(ctx, `
		UPDATE videos SET status = ?, status_changed_at = ?, status_message = ?, updated_at = ?
		WHERE id = ?`,
			string(newStatus), timestamp(now), nullStr(reason), timestamp(now), videoID,
		)
		if err != nil {
			return mapWriteError(err, "video", string(newStatus))
		}

		old := current.Status
		if err := s.insertHistory(ctx, videoID, &old, newStatus, reason, changedBy, metadata); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// SoftDeleteVideo marks the row deleted without touching junction rows.
func (s *Store) SoftDeleteVideo(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		res, err := s.q(ctx).ExecContext(ctx,
			`UPDATE videos SET is_deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ? AND is_deleted = 0`,
			timestamp(now), timestamp(now), id,
		)
		if err != nil {
			return mapWriteError(err, "video", fmt.Sprint(id))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &NotFoundError{Kind: "video", ID: id}
		}
		return nil
	})
}

// RestoreVideo clears the soft-delete flags.
func (s *Store) RestoreVideo(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		res, err := s.q(ctx).ExecContext(ctx,
			`UPDATE videos SET is_deleted = 0, deleted_at = NULL, updated_at = ? WHERE id = ? AND is_deleted = 1`,
			timestamp(now), id,
		)
		if err != nil {
			return mapWriteError(err, "video", fmt.Sprint(id))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &NotFoundError{Kind: "video", ID: id}
		}
		return nil
	})
}

// HardDeleteVideo removes the row; junction rows and history cascade.
func (s *Store) HardDeleteVideo(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		res, err := s.q(ctx).ExecContext(ctx, `DELETE FROM videos WHERE id = ?`, id)
		if err != nil {
			return mapWriteError(err, "video", fmt.Sprint(id))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &NotFoundError{Kind: "video", ID: id}
		}
		return nil
	})
}

// UpdateVideoPaths records the organized file locations and hash in one
// statement; used by the file manager inside its move transaction.
func (s *Store) UpdateVideoPaths(ctx context.Context, id int64, videoPath, nfoPath, checksum, algo string, size int64) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		now := s.now()
		res, err := s.q(ctx).ExecContext(ctx, `
		UPDATE videos SET video_file_path = ?, nfo_file_path = ?, file_checksum = ?,
			checksum_algo = ?, file_size = ?, file_verified_at = ?, updated_at = ?
		WHERE id = ?`,
			nullStr(videoPath), nullStr(nfoPath), nullStr(checksum), nullStr(algo),
			size, timestamp(now), timestamp(now), id,
		)
		if err != nil {
			return mapWriteError(err, "video", fmt.Sprint(id))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return &NotFoundError{Kind: "video", ID: id}
		}
		return nil
	})
}

// StatusHistoryFor returns the history newest-first; ties on changed_at
// break by insertion row id.
func (s *Store) StatusHistoryFor(ctx context.Context, videoID int64) ([]StatusHistory, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
	SELECT id, video_id, old_status, new_status, changed_at, reason, changed_by, metadata_json
	FROM video_status_history
	WHERE video_id = ?
	ORDER BY changed_at DESC, id DESC`, videoID)
	if err != nil {
		return nil, fmt.Errorf("store: history for %d: %w", videoID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []StatusHistory
	for rows.Next() {
		var h StatusHistory
		var oldStatus, reason, changedBy, metadata, changedAt sql.NullString
		if err := rows.Scan(&h.ID, &h.VideoID, &oldStatus, &h.NewStatus, &changedAt, &reason, &changedBy, &metadata); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		if oldStatus.Valid {
			st := Status(oldStatus.String)
			h.OldStatus = &st
		}
		if t := parseTime(changedAt); t != nil {
			h.ChangedAt = *t
		}
		h.Reason = reason.String
		h.ChangedBy = changedBy.String
		h.Metadata = metadata.String
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) insertHistory(ctx context.Context, videoID int64, oldStatus *Status, newStatus Status, reason, changedBy, metadata string) error {
	var old any
	if oldStatus != nil {
		old = string(*oldStatus)
	}
	_, err := s.q(ctx).ExecContext(ctx, `
	INSERT INTO video_status_history (video_id, old_status, new_status, changed_at, reason, changed_by, metadata_json)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		videoID, old, string(newStatus), timestamp(s.now()), nullStr(reason), nullStr(changedBy), nullStr(metadata),
	)
	if err != nil {
		return fmt.Errorf("store: insert history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*Video, error) {
	var v Video
	var artist, album, director, genre, studio sql.NullString
	var imvdb, youtube, vimeo sql.NullString
	var videoPath, nfoPath, checksum, algo sql.NullString
	var year sql.NullInt64
	var fileSize sql.NullInt64
	var verifiedAt, statusChangedAt, deletedAt, createdAt, updatedAt sql.NullString
	var statusMessage, source, lastErr sql.NullString

	err := row.Scan(
		&v.ID, &v.Title, &artist, &album, &year, &director, &genre, &studio,
		&imvdb, &youtube, &vimeo,
		&videoPath, &nfoPath, &fileSize, &checksum, &algo, &verifiedAt,
		&v.Status, &statusChangedAt, &statusMessage,
		&source, &v.DownloadAttempts, &lastErr,
		&v.IsDeleted, &deletedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	v.Artist = artist.String
	v.Album = album.String
	v.Year = int(year.Int64)
	v.Director = director.String
	v.Genre = genre.String
	v.Studio = studio.String
	v.IMVDbVideoID = imvdb.String
	v.YouTubeID = youtube.String
	v.VimeoID = vimeo.String
	v.VideoFilePath = videoPath.String
	v.NFOFilePath = nfoPath.String
	v.FileSize = fileSize.Int64
	v.FileChecksum = checksum.String
	v.ChecksumAlgo = algo.String
	v.FileVerifiedAt = parseTime(verifiedAt)
	v.StatusChangedAt = parseTime(statusChangedAt)
	v.StatusMessage = statusMessage.String
	v.DownloadSource = source.String
	v.LastDownloadErr = lastErr.String
	v.DeletedAt = parseTime(deletedAt)
	if t := parseTime(createdAt); t != nil {
		v.CreatedAt = *t
	}
	if t := parseTime(updatedAt); t != nil {
		v.UpdatedAt = *t
	}
	return &v, nil
}

func timePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timestamp(*t)
}
