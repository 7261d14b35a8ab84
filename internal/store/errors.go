// SPDX-License-Identifier: MIT

package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports a missing entity.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate reports a uniqueness violation on a domain key.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrInvalidQuery reports an unusable query builder state.
	ErrInvalidQuery = errors.New("store: invalid query")
	// ErrTransactionFailed wraps failures committing or rolling back.
	ErrTransactionFailed = errors.New("store: transaction failed")
	// ErrInvalidStatus reports a status outside the lifecycle set.
	ErrInvalidStatus = errors.New("store: invalid status")
	// ErrMigrationChecksum reports drift between an applied migration and
	// the file on disk. The store refuses to start.
	ErrMigrationChecksum = errors.New("store: migration checksum mismatch")
)

// NotFoundError identifies which entity was missing.
type NotFoundError struct {
	Kind string
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("store: %s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateError identifies which domain key collided.
type DuplicateError struct {
	Kind string
	Key  string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("store: duplicate %s %q", e.Kind, e.Key)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// mapWriteError converts raw engine errors on write paths into typed ones.
// Callers never see engine error strings for constraint violations.
func mapWriteError(err error, kind, key string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return &DuplicateError{Kind: kind, Key: key}
	}
	return fmt.Errorf("store: write %s: %w", kind, err)
}
