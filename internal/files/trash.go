// SPDX-License-Identifier: MIT

package files

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SoftDelete moves the video's files into the trash directory, mirroring
// their relative layout under the library root; files from outside the
// library land in the trash root under their basename. The row is marked
// deleted only after the files are in the trash.
func (m *Manager) SoftDelete(ctx context.Context, videoID int64) error {
	v, err := m.store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if v.IsDeleted {
		return nil
	}

	var journal []moveStep
	trashVideo, trashNFO := "", ""

	if v.VideoFilePath != "" && fileExists(v.VideoFilePath) {
		trashVideo = m.trashPath(v.VideoFilePath)
		if fileExists(trashVideo) {
			return fmt.Errorf("%w: %s", ErrTargetExists, trashVideo)
		}
		if err := m.moveFile(v.VideoFilePath, trashVideo); err != nil {
			return err
		}
		journal = append(journal, moveStep{from: v.VideoFilePath, to: trashVideo})
	}
	if v.NFOFilePath != "" && fileExists(v.NFOFilePath) {
		trashNFO = m.trashPath(v.NFOFilePath)
		if err := m.moveFile(v.NFOFilePath, trashNFO); err != nil {
			return m.rollback(journal, err)
		}
		journal = append(journal, moveStep{from: v.NFOFilePath, to: trashNFO})
	}

	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		// Only paths whose files actually moved are rewritten; a stale path
		// with no file behind it survives the round trip untouched.
		if trashVideo != "" || trashNFO != "" {
			if trashVideo != "" {
				v.VideoFilePath = trashVideo
			}
			if trashNFO != "" {
				v.NFOFilePath = trashNFO
			}
			if err := m.store.UpdateVideo(ctx, v); err != nil {
				return err
			}
		}
		return m.store.SoftDeleteVideo(ctx, videoID)
	})
	if err != nil {
		return m.rollback(journal, err)
	}

	m.logger.Info().Int64("video_id", videoID).Str("trash", trashVideo).Msg("video soft-deleted")
	return nil
}

// Restore moves trashed files back to their original library locations and
// clears the deleted flag.
func (m *Manager) Restore(ctx context.Context, videoID int64) error {
	v, err := m.store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if !v.IsDeleted {
		return nil
	}

	var journal []moveStep
	origVideo, origNFO := "", ""

	if v.VideoFilePath != "" && fileExists(v.VideoFilePath) {
		origVideo, err = m.libraryPath(v.VideoFilePath)
		if err != nil {
			return err
		}
		if fileExists(origVideo) {
			return fmt.Errorf("%w: %s", ErrTargetExists, origVideo)
		}
		if err := m.moveFile(v.VideoFilePath, origVideo); err != nil {
			return err
		}
		journal = append(journal, moveStep{from: v.VideoFilePath, to: origVideo})
	}
	if v.NFOFilePath != "" && fileExists(v.NFOFilePath) {
		origNFO, err = m.libraryPath(v.NFOFilePath)
		if err != nil {
			return m.rollback(journal, err)
		}
		if err := m.moveFile(v.NFOFilePath, origNFO); err != nil {
			return m.rollback(journal, err)
		}
		journal = append(journal, moveStep{from: v.NFOFilePath, to: origNFO})
	}

	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		if origVideo != "" || origNFO != "" {
			if origVideo != "" {
				v.VideoFilePath = origVideo
			}
			if origNFO != "" {
				v.NFOFilePath = origNFO
			}
			if err := m.store.UpdateVideo(ctx, v); err != nil {
				return err
			}
		}
		return m.store.RestoreVideo(ctx, videoID)
	})
	if err != nil {
		return m.rollback(journal, err)
	}

	m.logger.Info().Int64("video_id", videoID).Str("path", origVideo).Msg("video restored")
	return nil
}

// HardDelete removes the video's files, its thumbnail and the row. Missing
// files are ignored; the row must exist.
func (m *Manager) HardDelete(ctx context.Context, videoID int64) error {
	v, err := m.store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}

	for _, path := range []string{v.VideoFilePath, v.NFOFilePath, m.ThumbnailPath(videoID)} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("files: remove %s: %w", path, err)
		}
	}

	if err := m.store.HardDeleteVideo(ctx, videoID); err != nil {
		return err
	}
	m.logger.Info().Int64("video_id", videoID).Msg("video hard-deleted")
	return nil
}

// trashPath mirrors a library path under the trash directory. Files living
// outside the library keep only their basename.
func (m *Manager) trashPath(path string) string {
	rel, err := relInside(m.cfg.LibraryDir, path)
	if err != nil {
		return filepath.Join(m.cfg.TrashDir, filepath.Base(path))
	}
	return filepath.Join(m.cfg.TrashDir, rel)
}

// libraryPath maps a trash path back to its original library location.
func (m *Manager) libraryPath(path string) (string, error) {
	rel, err := relInside(m.cfg.TrashDir, path)
	if err != nil {
		return "", fmt.Errorf("files: %q is outside the trash", path)
	}
	return filepath.Join(m.cfg.LibraryDir, rel), nil
}

func relInside(base, path string) (string, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%q escapes %q", path, base)
	}
	return rel, nil
}
