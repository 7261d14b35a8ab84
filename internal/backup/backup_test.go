// SPDX-License-Identifier: MIT

package backup

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fuzzbin/fuzzbin/internal/store"
)

func fixture(t *testing.T) (*Service, string) {
	t.Helper()
	configDir := t.TempDir()

	configPath := filepath.Join(configDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: info\n"), 0o644))

	dbPath := filepath.Join(configDir, "fuzzbin.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.CreateVideo(context.Background(), &store.Video{Title: "Song"}))

	thumbDir := filepath.Join(configDir, ".thumbnails")
	require.NoError(t, os.MkdirAll(thumbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(thumbDir, "1.jpg"), []byte("jpeg"), 0o644))

	svc := New(Config{
		OutputDir:      filepath.Join(configDir, "backups"),
		RetentionCount: 2,
		ConfigPath:     configPath,
		DatabasePath:   dbPath,
		ThumbnailDir:   thumbDir,
	}, s)
	return svc, configDir
}

func archiveNames(t *testing.T, path string) map[string]bool {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	return names
}

func TestRunProducesArchive(t *testing.T) {
	svc, _ := fixture(t)

	path, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Regexp(t, `fuzzbin_backup_\d{8}_\d{6}\.zip$`, path)

	names := archiveNames(t, path)
	require.True(t, names["config.yaml"])
	require.True(t, names["fuzzbin.db"])
	require.True(t, names[".thumbnails/1.jpg"])
}

func TestBackupDatabaseIsUsable(t *testing.T) {
	svc, configDir := fixture(t)

	path, err := svc.Run(context.Background())
	require.NoError(t, err)

	// Extract the db and open it; the checkpointed copy must stand alone.
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	var extracted string
	for _, f := range r.File {
		if f.Name != "fuzzbin.db" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		extracted = filepath.Join(configDir, "restored.db")
		require.NoError(t, os.WriteFile(extracted, data, 0o644))
	}
	require.NotEmpty(t, extracted)

	restored, err := store.Open(extracted)
	require.NoError(t, err)
	defer func() { _ = restored.Close() }()

	n, err := restored.Videos().Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRetentionPrunesOldest(t *testing.T) {
	svc, _ := fixture(t)

	stamps := []time.Time{
		time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 3, 10, 0, 0, 0, time.UTC),
	}
	for _, ts := range stamps {
		svc.now = func() time.Time { return ts }
		_, err := svc.Run(context.Background())
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(svc.cfg.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// The oldest is gone.
	for _, e := range entries {
		require.NotContains(t, e.Name(), "20260101")
	}
}

func TestMissingInputsAreSkipped(t *testing.T) {
	dir := t.TempDir()
	svc := New(Config{
		OutputDir:    filepath.Join(dir, "backups"),
		ConfigPath:   filepath.Join(dir, "missing.yaml"),
		DatabasePath: filepath.Join(dir, "missing.db"),
	}, nil)

	path, err := svc.Run(context.Background())
	require.NoError(t, err)

	names := archiveNames(t, path)
	require.Empty(t, names)
}
