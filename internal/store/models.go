// SPDX-License-Identifier: MIT

package store

import "time"

// Status is the lifecycle state of a video. The transition table lives in
// the lifecycle package; the store only validates membership.
type Status string

const (
	StatusDiscovered  Status = "discovered"
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusDownloaded  Status = "downloaded"
	StatusFailed      Status = "failed"
	StatusImported    Status = "imported"
	StatusOrganized   Status = "organized"
	StatusArchived    Status = "archived"
	StatusMissing     Status = "missing"
)

// ValidStatus reports whether s belongs to the closed status set.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDiscovered, StatusQueued, StatusDownloading, StatusDownloaded,
		StatusFailed, StatusImported, StatusOrganized, StatusArchived, StatusMissing:
		return true
	}
	return false
}

// ArtistRole qualifies a video/artist link.
type ArtistRole string

const (
	RolePrimary  ArtistRole = "primary"
	RoleFeatured ArtistRole = "featured"
)

// Video is the central library entity.
type Video struct {
	ID       int64
	Title    string
	Artist   string
	Album    string
	Year     int // 0 when absent
	Director string
	Genre    string
	Studio   string

	IMVDbVideoID string
	YouTubeID    string
	VimeoID      string

	VideoFilePath  string
	NFOFilePath    string
	FileSize       int64
	FileChecksum   string
	ChecksumAlgo   string
	FileVerifiedAt *time.Time

	Status           Status
	StatusChangedAt  *time.Time
	StatusMessage    string
	DownloadSource   string
	DownloadAttempts int
	LastDownloadErr  string

	IsDeleted bool
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Artist is dedup'd by normalized name.
type Artist struct {
	ID             int64
	Name           string
	NormalizedName string
	IMVDbArtistID  string
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VideoArtist is one ordered link between a video and an artist.
type VideoArtist struct {
	VideoID  int64
	ArtistID int64
	Role     ArtistRole
	Position int
}

// Collection is a named ordered list of videos.
type Collection struct {
	ID             int64
	Name           string
	NormalizedName string
	Description    string
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Tag is a short label with a live usage count maintained by triggers.
type Tag struct {
	ID             int64
	Name           string
	NormalizedName string
	UsageCount     int
}

// StatusHistory is one append-only transition event.
type StatusHistory struct {
	ID        int64
	VideoID   int64
	OldStatus *Status // nil on initial creation
	NewStatus Status
	ChangedAt time.Time
	Reason    string
	ChangedBy string
	Metadata  string // JSON blob, empty when none
}
