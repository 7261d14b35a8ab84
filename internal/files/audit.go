// SPDX-License-Identifier: MIT

package files

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fuzzbin/fuzzbin/internal/nfo"
)

var auditIssues = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fuzzbin",
	Name:      "library_audit_issues_total",
	Help:      "Integrity issues found by library verification, by type.",
}, []string{"type"})

// Issue types reported by VerifyLibrary.
const (
	IssueMissingFile       = "missing_file"
	IssueBrokenNFO         = "broken_nfo"
	IssueOrphanedFile      = "orphaned_file"
	IssueOrphanedThumbnail = "orphaned_thumbnail"
)

// Issue is one integrity finding with its suggested repair.
type Issue struct {
	Type    string
	VideoID int64 // 0 for orphans without a row
	Path    string
	Repair  string
}

// Report summarizes one verification run.
type Report struct {
	TotalVideos int
	Issues      []Issue
}

// Count returns the number of issues of the given type.
func (r *Report) Count(issueType string) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Type == issueType {
			n++
		}
	}
	return n
}

// videoExtensions are the file types the orphan scan treats as videos.
var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".webm": true, ".avi": true, ".mov": true,
}

// VerifyLibrary audits every non-deleted row against the filesystem and,
// with the scan flags set, the filesystem against the rows. It reports
// findings and never repairs anything itself.
func (m *Manager) VerifyLibrary(ctx context.Context, scanOrphans, scanThumbnails bool) (*Report, error) {
	rows, err := m.store.Videos().Execute(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{TotalVideos: len(rows)}
	referenced := make(map[string]bool, len(rows))
	ids := make(map[int64]bool, len(rows))

	for i := range rows {
		v := &rows[i]
		ids[v.ID] = true
		if v.VideoFilePath != "" {
			referenced[v.VideoFilePath] = true
			if !fileExists(v.VideoFilePath) {
				report.Issues = append(report.Issues, Issue{
					Type: IssueMissingFile, VideoID: v.ID, Path: v.VideoFilePath,
					Repair: "update_status_to_missing",
				})
			}
		}
		if v.NFOFilePath != "" {
			referenced[v.NFOFilePath] = true
			if !fileExists(v.NFOFilePath) {
				report.Issues = append(report.Issues, Issue{
					Type: IssueBrokenNFO, VideoID: v.ID, Path: v.NFOFilePath,
					Repair: "regenerate_nfo",
				})
			} else if _, err := nfo.ReadMusicVideo(v.NFOFilePath); errors.Is(err, nfo.ErrMalformed) {
				report.Issues = append(report.Issues, Issue{
					Type: IssueBrokenNFO, VideoID: v.ID, Path: v.NFOFilePath,
					Repair: "regenerate_nfo",
				})
			}
		}
	}

	// Deleted rows still own their trash files; count those as referenced so
	// the orphan scan never flags the trash mirror.
	deleted, err := m.store.Videos().IncludeDeleted(true).Execute(ctx)
	if err != nil {
		return nil, err
	}
	for i := range deleted {
		ids[deleted[i].ID] = true
		if deleted[i].VideoFilePath != "" {
			referenced[deleted[i].VideoFilePath] = true
		}
		if deleted[i].NFOFilePath != "" {
			referenced[deleted[i].NFOFilePath] = true
		}
	}

	if scanOrphans {
		if err := m.scanOrphanedFiles(report, referenced); err != nil {
			return nil, err
		}
	}
	if scanThumbnails {
		if err := m.scanOrphanedThumbnails(report, ids); err != nil {
			return nil, err
		}
	}

	for _, issue := range report.Issues {
		auditIssues.WithLabelValues(issue.Type).Inc()
	}
	m.logger.Info().
		Int("videos", report.TotalVideos).
		Int("issues", len(report.Issues)).
		Msg("library verification complete")
	return report, nil
}

func (m *Manager) scanOrphanedFiles(report *Report, referenced map[string]bool) error {
	return filepath.WalkDir(m.cfg.LibraryDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == m.cfg.TrashDir || path == m.cfg.ThumbnailDir {
				return filepath.SkipDir
			}
			if path != m.cfg.LibraryDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !videoExtensions[strings.ToLower(filepath.Ext(path))] || referenced[path] {
			return nil
		}
		report.Issues = append(report.Issues, Issue{
			Type: IssueOrphanedFile, Path: path, Repair: "import_or_delete",
		})
		return nil
	})
}

func (m *Manager) scanOrphanedThumbnails(report *Report, ids map[int64]bool) error {
	entries, err := os.ReadDir(m.cfg.ThumbnailDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, convErr := strconv.ParseInt(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())), 10, 64)
		if convErr != nil || ids[id] {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			Type: IssueOrphanedThumbnail, VideoID: id,
			Path:   filepath.Join(m.cfg.ThumbnailDir, e.Name()),
			Repair: "delete_thumbnail",
		})
	}
	return nil
}
