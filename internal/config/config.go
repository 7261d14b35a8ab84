// SPDX-License-Identifier: MIT

// Package config owns the typed configuration tree, its YAML file with
// comments intact, runtime changes with undo/redo, and hot reload.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that round-trips YAML as "30s" style strings.
// Bare integers are taken as seconds.
type Duration time.Duration

// Std converts to the standard type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the full configuration tree. Zero values mean "use the default";
// Resolve fills every field.
type Config struct {
	ConfigDir  string `yaml:"config_dir"`
	LibraryDir string `yaml:"library_dir"`

	Logging   Logging        `yaml:"logging"`
	APIs      map[string]API `yaml:"apis"`
	YtDlp     YtDlp          `yaml:"ytdlp"`
	FFProbe   FFProbe        `yaml:"ffprobe"`
	Thumbnail Thumbnail      `yaml:"thumbnail"`
	NFO       NFO            `yaml:"nfo"`
	Organizer Organizer      `yaml:"organizer"`
	Tags      Tags           `yaml:"tags"`
	Backup    Backup         `yaml:"backup"`
	Trash     Trash          `yaml:"trash"`
}

// Logging selects level and output format.
type Logging struct {
	Level  string      `yaml:"level"`
	Format string      `yaml:"format"`
	File   LoggingFile `yaml:"file"`
}

// LoggingFile toggles the file sink.
type LoggingFile struct {
	Enabled bool `yaml:"enabled"`
}

// API carries the credentials for one metadata service; the wiring itself
// (base URL, rates, cache) is compiled in.
type API struct {
	Auth map[string]string `yaml:"auth"`
}

// YtDlp shapes the downloader subprocess.
type YtDlp struct {
	BinaryPath string `yaml:"binary_path"`
	FormatSpec string `yaml:"format_spec"`
	GeoBypass  bool   `yaml:"geo_bypass"`
}

// FFProbe shapes the probe subprocess.
type FFProbe struct {
	BinaryPath string   `yaml:"binary_path"`
	Timeout    Duration `yaml:"timeout"`
}

// Thumbnail locates the thumbnail cache.
type Thumbnail struct {
	CacheDir string `yaml:"cache_dir"`
}

// NFO controls sidecar writing.
type NFO struct {
	FeaturedArtists    bool `yaml:"featured_artists"`
	WriteArtistNFO     bool `yaml:"write_artist_nfo"`
	WriteMusicvideoNFO bool `yaml:"write_musicvideo_nfo"`
}

// Organizer controls path resolution.
type Organizer struct {
	PathPattern        string `yaml:"path_pattern"`
	NormalizeFilenames bool   `yaml:"normalize_filenames"`
}

// Tags controls tag normalization and automatic decade tags.
type Tags struct {
	Normalize  bool       `yaml:"normalize"`
	AutoDecade AutoDecade `yaml:"auto_decade"`
}

// AutoDecade emits a decade tag ("1990s") from the video year.
type AutoDecade struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // only "suffix" is recognized
}

// Backup controls scheduled zip backups.
type Backup struct {
	Enabled        bool   `yaml:"enabled"`
	Schedule       string `yaml:"schedule"`
	RetentionCount int    `yaml:"retention_count"`
	OutputDir      string `yaml:"output_dir"`
}

// Trash controls the soft-delete directory and its purge schedule.
type Trash struct {
	TrashDir      string `yaml:"trash_dir"`
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
}

// Environment override keys.
const (
	EnvConfigDir  = "FUZZBIN_CONFIG_DIR"
	EnvLibraryDir = "FUZZBIN_LIBRARY_DIR"
	EnvDocker     = "FUZZBIN_DOCKER"
)

// Resolve applies environment overrides and fills every unset field with its
// default. It is idempotent.
func (c *Config) Resolve() error {
	docker := os.Getenv(EnvDocker) == "1"

	if v := os.Getenv(EnvConfigDir); v != "" {
		c.ConfigDir = v
	}
	if v := os.Getenv(EnvLibraryDir); v != "" {
		c.LibraryDir = v
	}

	if c.ConfigDir == "" {
		if docker {
			c.ConfigDir = "/config"
		} else {
			base, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("config: resolve config dir: %w", err)
			}
			c.ConfigDir = filepath.Join(base, "fuzzbin")
		}
	}
	if c.LibraryDir == "" {
		if docker {
			c.LibraryDir = "/music_videos"
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("config: resolve library dir: %w", err)
			}
			c.LibraryDir = filepath.Join(home, "music_videos")
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.APIs == nil {
		c.APIs = map[string]API{}
	}
	if c.YtDlp.BinaryPath == "" {
		c.YtDlp.BinaryPath = "yt-dlp"
	}
	if c.YtDlp.FormatSpec == "" {
		c.YtDlp.FormatSpec = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	}
	if c.FFProbe.BinaryPath == "" {
		c.FFProbe.BinaryPath = "ffprobe"
	}
	if c.FFProbe.Timeout == 0 {
		c.FFProbe.Timeout = Duration(30 * time.Second)
	}
	if c.Thumbnail.CacheDir == "" {
		c.Thumbnail.CacheDir = filepath.Join(c.ConfigDir, ".thumbnails")
	}
	if c.Organizer.PathPattern == "" {
		c.Organizer.PathPattern = "{artist}/{title}"
	}
	if c.Tags.AutoDecade.Format == "" {
		c.Tags.AutoDecade.Format = "suffix"
	}
	if c.Backup.RetentionCount == 0 {
		c.Backup.RetentionCount = 5
	}
	if c.Backup.OutputDir == "" {
		c.Backup.OutputDir = filepath.Join(c.ConfigDir, "backups")
	}
	if c.Trash.TrashDir == "" {
		c.Trash.TrashDir = filepath.Join(c.LibraryDir, ".trash")
	}
	if c.Trash.RetentionDays == 0 {
		c.Trash.RetentionDays = 30
	}
	return nil
}

// DatabasePath is the library store file.
func (c *Config) DatabasePath() string { return filepath.Join(c.ConfigDir, "fuzzbin.db") }

// CacheDir holds one response-cache file per metadata service.
func (c *Config) CacheDir() string { return filepath.Join(c.ConfigDir, ".cache") }

// FilePath is the canonical config file location.
func (c *Config) FilePath() string { return filepath.Join(c.ConfigDir, "config.yaml") }

// Credentials returns the auth map for a service, never nil.
func (c *Config) Credentials(service string) map[string]string {
	if api, ok := c.APIs[service]; ok && api.Auth != nil {
		return api.Auth
	}
	return map[string]string{}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c.ConfigDir == "" || c.LibraryDir == "" {
		return fmt.Errorf("config: config_dir and library_dir are required")
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}
	if c.Organizer.PathPattern == "" {
		return fmt.Errorf("config: organizer path_pattern is required")
	}
	return nil
}
