// SPDX-License-Identifier: MIT

package files

import (
	"context"
	"sort"
	"strings"

	"github.com/fuzzbin/fuzzbin/internal/store"
)

// Match types for duplicate candidates.
const (
	MatchHash     = "hash"
	MatchMetadata = "metadata"
	MatchBoth     = "both"
)

// Duplicate is one candidate duplicate of the subject video.
type Duplicate struct {
	VideoID    int64
	MatchType  string
	Confidence float64
	Video      store.Video
}

// FindDuplicatesByHash returns videos sharing the subject's content hash,
// each with confidence 1.0. The subject's hash is computed and persisted
// first when the row has none and the file is reachable.
func (m *Manager) FindDuplicatesByHash(ctx context.Context, videoID int64) ([]Duplicate, error) {
	v, err := m.store.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if v.FileChecksum == "" {
		if v.VideoFilePath == "" || !fileExists(v.VideoFilePath) {
			return nil, nil
		}
		sum, err := m.hasher.Sum(v.VideoFilePath)
		if err != nil {
			return nil, err
		}
		v.FileChecksum = sum
		v.ChecksumAlgo = m.hasher.Tag()
		if err := m.store.UpdateVideo(ctx, v); err != nil {
			return nil, err
		}
	}

	rows, err := m.store.Videos().Checksum(v.FileChecksum).Execute(ctx)
	if err != nil {
		return nil, err
	}

	var out []Duplicate
	for _, row := range rows {
		if row.ID == videoID {
			continue
		}
		out = append(out, Duplicate{VideoID: row.ID, MatchType: MatchHash, Confidence: 1.0, Video: row})
	}
	return out, nil
}

// FindDuplicatesByMetadata returns videos with the same title and primary
// artist, case-insensitively. Confidence starts at 0.7 and gains 0.1 each for
// a matching year and album, capped at 0.95 so metadata alone never reaches
// the certainty of a hash match.
func (m *Manager) FindDuplicatesByMetadata(ctx context.Context, videoID int64) ([]Duplicate, error) {
	v, err := m.store.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v.Title == "" || v.Artist == "" {
		return nil, nil
	}

	// Substring query narrows the scan; exact equality is decided here.
	rows, err := m.store.Videos().Title(v.Title).Execute(ctx)
	if err != nil {
		return nil, err
	}

	var out []Duplicate
	for _, row := range rows {
		if row.ID == videoID {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(row.Title), strings.TrimSpace(v.Title)) ||
			!strings.EqualFold(strings.TrimSpace(row.Artist), strings.TrimSpace(v.Artist)) {
			continue
		}

		confidence := 0.7
		if v.Year != 0 && row.Year == v.Year {
			confidence += 0.1
		}
		if v.Album != "" && strings.EqualFold(row.Album, v.Album) {
			confidence += 0.1
		}
		if confidence > 0.95 {
			confidence = 0.95
		}
		out = append(out, Duplicate{VideoID: row.ID, MatchType: MatchMetadata, Confidence: confidence, Video: row})
	}
	return out, nil
}

// FindAllDuplicates unions hash and metadata candidates. A video found by
// both strategies reports match type "both" with confidence 1.0. Results sort
// by confidence descending, then by video ID.
func (m *Manager) FindAllDuplicates(ctx context.Context, videoID int64) ([]Duplicate, error) {
	byHash, err := m.FindDuplicatesByHash(ctx, videoID)
	if err != nil {
		return nil, err
	}
	byMeta, err := m.FindDuplicatesByMetadata(ctx, videoID)
	if err != nil {
		return nil, err
	}

	merged := make(map[int64]Duplicate, len(byHash)+len(byMeta))
	for _, d := range byHash {
		merged[d.VideoID] = d
	}
	for _, d := range byMeta {
		if prev, ok := merged[d.VideoID]; ok {
			prev.MatchType = MatchBoth
			prev.Confidence = 1.0
			merged[d.VideoID] = prev
			continue
		}
		merged[d.VideoID] = d
	}

	out := make([]Duplicate, 0, len(merged))
	for _, d := range merged {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].VideoID < out[j].VideoID
	})
	return out, nil
}
