// SPDX-License-Identifier: MIT

// Package backup produces zip snapshots of everything needed to rebuild an
// installation: the config file, the checkpointed library database and the
// thumbnail cache. Old backups are pruned by count.
package backup

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/log"
	"github.com/fuzzbin/fuzzbin/internal/store"
)

const (
	backupPrefix = "fuzzbin_backup_"
	backupSuffix = ".zip"
	stampLayout  = "20060102_150405"
)

// Config locates the inputs and the output policy.
type Config struct {
	OutputDir      string
	RetentionCount int // 0 = keep everything
	ConfigPath     string
	DatabasePath   string
	ThumbnailDir   string // optional
}

// Service runs backups.
type Service struct {
	cfg    Config
	store  *store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// New builds the service.
func New(cfg Config, s *store.Store) *Service {
	return &Service{cfg: cfg, store: s, logger: log.WithComponent("backup"), now: time.Now}
}

// Run writes one timestamped backup and prunes old ones. It returns the path
// of the new archive.
func (s *Service) Run(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("backup: mkdir %s: %w", s.cfg.OutputDir, err)
	}

	// The WAL must be folded in so the copied file is self-contained.
	if s.store != nil {
		if err := s.store.Checkpoint(ctx); err != nil {
			return "", err
		}
	}

	name := backupPrefix + s.now().Format(stampLayout) + backupSuffix
	path := filepath.Join(s.cfg.OutputDir, name)

	if err := s.writeArchive(path); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	if err := s.prune(); err != nil {
		return path, err
	}

	s.logger.Info().Str("path", path).Msg("backup complete")
	return path, nil
}

func (s *Service) writeArchive(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // #nosec G304
	if err != nil {
		return fmt.Errorf("backup: create %s: %w", path, err)
	}

	zw := zip.NewWriter(f)
	err = func() error {
		if err := addFile(zw, s.cfg.ConfigPath, "config.yaml"); err != nil {
			return err
		}
		if err := addFile(zw, s.cfg.DatabasePath, "fuzzbin.db"); err != nil {
			return err
		}
		if s.cfg.ThumbnailDir != "" {
			if err := addDir(zw, s.cfg.ThumbnailDir, ".thumbnails"); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		_ = zw.Close()
		_ = f.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("backup: finalize archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("backup: sync archive: %w", err)
	}
	return f.Close()
}

// addFile stores one file under the given archive name. A missing source is
// skipped; a fresh install may not have every input yet.
func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src) // #nosec G304 -- paths are operator config
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("backup: open %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("backup: add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("backup: copy %s: %w", name, err)
	}
	return nil
}

func addDir(zw *zip.Writer, src, prefix string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, prefix+"/"+filepath.ToSlash(rel))
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// prune removes the oldest backups beyond the retention count. The timestamp
// in the name sorts lexically, so name order is age order.
func (s *Service) prune() error {
	if s.cfg.RetentionCount <= 0 {
		return nil
	}

	entries, err := os.ReadDir(s.cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("backup: list %s: %w", s.cfg.OutputDir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), backupSuffix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.cfg.RetentionCount {
		return nil
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	for _, name := range names[s.cfg.RetentionCount:] {
		if err := os.Remove(filepath.Join(s.cfg.OutputDir, name)); err != nil {
			return fmt.Errorf("backup: prune %s: %w", name, err)
		}
		s.logger.Info().Str("name", name).Msg("old backup pruned")
	}
	return nil
}
