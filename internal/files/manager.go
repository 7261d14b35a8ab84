// SPDX-License-Identifier: MIT

package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/log"
	"github.com/fuzzbin/fuzzbin/internal/store"
)

// Config locates the library on disk and selects the hashing policy.
type Config struct {
	LibraryDir    string
	TrashDir      string // defaults to LibraryDir/.trash
	ThumbnailDir  string // defaults to LibraryDir/.thumbnails
	HashAlgorithm string // sha256 (default), xxhash64 or md5
	MaxHashSize   int64  // 0 = unlimited
}

// Manager performs all filesystem mutations for the library. Store rows are
// only updated after the corresponding files have landed.
type Manager struct {
	cfg    Config
	store  *store.Store
	hasher Hasher
	logger zerolog.Logger

	// mutateAfterMove is a test seam invoked between the file landing at its
	// target and the post-move hash verification.
	mutateAfterMove func(path string)
}

// NewManager validates the library root and derives the trash and thumbnail
// directories.
func NewManager(cfg Config, s *store.Store) (*Manager, error) {
	info, err := os.Stat(cfg.LibraryDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("files: library dir %q is not an existing directory", cfg.LibraryDir)
	}
	if cfg.TrashDir == "" {
		cfg.TrashDir = filepath.Join(cfg.LibraryDir, ".trash")
	}
	if cfg.ThumbnailDir == "" {
		cfg.ThumbnailDir = filepath.Join(cfg.LibraryDir, ".thumbnails")
	}

	h := Hasher{Algorithm: cfg.HashAlgorithm, MaxSize: cfg.MaxHashSize}
	if _, err := h.newDigest(); err != nil {
		return nil, err
	}

	return &Manager{
		cfg:    cfg,
		store:  s,
		hasher: h,
		logger: log.WithComponent("files"),
	}, nil
}

// TrashDir returns the effective trash directory.
func (m *Manager) TrashDir() string { return m.cfg.TrashDir }

// ThumbnailPath returns the canonical thumbnail location for a video.
func (m *Manager) ThumbnailPath(videoID int64) string {
	return filepath.Join(m.cfg.ThumbnailDir, fmt.Sprintf("%d.jpg", videoID))
}

// moveFile renames src to dst, falling back to copy-and-delete across
// filesystem boundaries. Parent directories are created as needed.
func (m *Manager) moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("files: mkdir %s: %w", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src) // #nosec G304 -- paths come from the store
	if err != nil {
		return fmt.Errorf("files: open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // #nosec G304
	if err != nil {
		return fmt.Errorf("files: create %s: %w", dst, err)
	}

	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("files: copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("files: close %s: %w", dst, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("files: remove source %s: %w", src, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
