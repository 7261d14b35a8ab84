// SPDX-License-Identifier: MIT

package files

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceMissing reports a move whose source file does not exist.
	ErrSourceMissing = errors.New("files: source file missing")
	// ErrTargetExists guards against clobbering an existing target.
	ErrTargetExists = errors.New("files: target already exists")
	// ErrHashMismatch reports post-move verification failure; the move is
	// rolled back before this propagates.
	ErrHashMismatch = errors.New("files: hash mismatch after move")
	// ErrFileTooLarge reports a file above the configured hashing cap.
	ErrFileTooLarge = errors.New("files: file exceeds size cap")
	// ErrRollbackFailed is the fatal operator-intervention outcome.
	ErrRollbackFailed = errors.New("files: rollback failed")
)

// RollbackFailedError couples the failure that triggered rollback with the
// failure of the rollback itself. Nothing recovers from this automatically.
type RollbackFailedError struct {
	Original error
	Rollback error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("files: rollback failed: %v (original error: %v)", e.Rollback, e.Original)
}

func (e *RollbackFailedError) Unwrap() error { return ErrRollbackFailed }
