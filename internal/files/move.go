// SPDX-License-Identifier: MIT

package files

import (
	"context"
	"fmt"
	"os"

	"github.com/fuzzbin/fuzzbin/internal/organizer"
	"github.com/fuzzbin/fuzzbin/internal/store"
)

// moveStep is one completed file move, journaled for reverse-order rollback.
type moveStep struct {
	from, to string
}

// MoveVideoAtomic moves a video (and its NFO, when present) to target and
// records the new locations in the store. The content hash is taken before
// and after the move; a mismatch rolls the files back and returns
// ErrHashMismatch. The store is only updated once every file operation has
// succeeded, so a mid-move crash leaves the row pointing at the old paths.
func (m *Manager) MoveVideoAtomic(ctx context.Context, videoID int64, target organizer.Paths, dryRun bool) error {
	v, err := m.store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if v.VideoFilePath == "" || !fileExists(v.VideoFilePath) {
		return fmt.Errorf("%w: %s", ErrSourceMissing, v.VideoFilePath)
	}
	if fileExists(target.Video) {
		return fmt.Errorf("%w: %s", ErrTargetExists, target.Video)
	}

	if dryRun {
		m.logger.Info().
			Int64("video_id", videoID).
			Str("from", v.VideoFilePath).
			Str("to", target.Video).
			Msg("dry run, not moving")
		return nil
	}

	preHash, err := m.hasher.Sum(v.VideoFilePath)
	if err != nil {
		return err
	}

	var journal []moveStep
	move := func(from, to string) error {
		if err := m.moveFile(from, to); err != nil {
			return err
		}
		journal = append(journal, moveStep{from: from, to: to})
		return nil
	}

	if err := move(v.VideoFilePath, target.Video); err != nil {
		return m.rollback(journal, err)
	}

	nfoPath := ""
	if v.NFOFilePath != "" && fileExists(v.NFOFilePath) {
		if err := move(v.NFOFilePath, target.NFO); err != nil {
			return m.rollback(journal, err)
		}
		nfoPath = target.NFO
	}

	if m.mutateAfterMove != nil {
		m.mutateAfterMove(target.Video)
	}

	postHash, err := m.hasher.Sum(target.Video)
	if err != nil {
		return m.rollback(journal, err)
	}
	if postHash != preHash {
		return m.rollback(journal, fmt.Errorf("%w: %s", ErrHashMismatch, target.Video))
	}

	info, err := os.Stat(target.Video)
	if err != nil {
		return m.rollback(journal, fmt.Errorf("files: stat %s: %w", target.Video, err))
	}

	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		if err := m.store.UpdateVideoPaths(ctx, videoID, target.Video, nfoPath, postHash, m.hasher.Tag(), info.Size()); err != nil {
			return err
		}
		_, err := m.store.UpdateStatus(ctx, videoID, store.StatusOrganized, "organized", "files", "")
		return err
	})
	if err != nil {
		return m.rollback(journal, err)
	}

	m.logger.Info().
		Int64("video_id", videoID).
		Str("path", target.Video).
		Str("hash", postHash).
		Msg("video organized")
	return nil
}

// rollback undoes journaled moves in reverse order. A rollback failure is
// fatal and wraps both errors for the operator.
func (m *Manager) rollback(journal []moveStep, original error) error {
	for i := len(journal) - 1; i >= 0; i-- {
		step := journal[i]
		if err := m.moveFile(step.to, step.from); err != nil {
			m.logger.Error().
				Err(err).
				Str("from", step.to).
				Str("to", step.from).
				Msg("rollback failed, manual intervention required")
			return &RollbackFailedError{Original: original, Rollback: err}
		}
	}
	if len(journal) > 0 {
		m.logger.Warn().Err(original).Int("steps", len(journal)).Msg("move rolled back")
	}
	return original
}
