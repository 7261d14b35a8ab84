// SPDX-License-Identifier: MIT

// Package download fetches video files through an external yt-dlp binary and
// drives the matching lifecycle transitions. The binary is the only piece of
// the system that touches the network for media; everything here supervises
// it.
package download

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/fuzzbin/fuzzbin/internal/log"
)

// EventType tags progress events emitted while a download runs.
type EventType string

const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one progress report. Percent is only meaningful for progress
// events; Err only for error events.
type Event struct {
	Type    EventType
	VideoID int64
	URL     string
	Percent float64
	Speed   string
	ETA     string
	Path    string
	Err     error
}

// Runner executes one download and streams events into the channel. Sends
// must never block; slow consumers lose intermediate progress, not the
// terminal event.
type Runner interface {
	Run(ctx context.Context, url, outputPath string, events chan<- Event) error
}

// Config shapes the yt-dlp invocation.
type Config struct {
	BinaryPath string        // defaults to "yt-dlp" on PATH
	Format     string        // yt-dlp -f selector, defaults to best mp4
	Timeout    time.Duration // 0 = no per-download timeout
	ExtraArgs  []string
}

func (c Config) withDefaults() Config {
	if c.BinaryPath == "" {
		c.BinaryPath = "yt-dlp"
	}
	if c.Format == "" {
		c.Format = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	}
	return c
}

// YtDlp runs the real binary.
type YtDlp struct {
	cfg    Config
	logger zerolog.Logger
}

// NewYtDlp builds the runner.
func NewYtDlp(cfg Config) *YtDlp {
	return &YtDlp{cfg: cfg.withDefaults(), logger: log.WithComponent("ytdlp")}
}

// progressRe matches yt-dlp's default progress lines:
//
//	[download]  42.5% of 10.00MiB at 1.20MiB/s ETA 00:10
var progressRe = regexp.MustCompile(`\[download\]\s+([0-9.]+)%(?:\s+of\s+~?\S+)?(?:\s+at\s+(\S+))?(?:\s+ETA\s+(\S+))?`)

// Run invokes yt-dlp with --newline so progress arrives one line at a time.
// Cancellation kills the process group through CommandContext.
func (y *YtDlp) Run(ctx context.Context, url, outputPath string, events chan<- Event) error {
	if y.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.cfg.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("download: mkdir: %w", err)
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"-f", y.cfg.Format,
		"-o", outputPath,
	}
	args = append(args, y.cfg.ExtraArgs...)
	args = append(args, url)

	cmd := exec.CommandContext(ctx, y.cfg.BinaryPath, args...) // #nosec G204 -- binary path is operator config
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("download: stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	emit(events, Event{Type: EventStart, URL: url, Path: outputPath})
	if err := cmd.Start(); err != nil {
		emit(events, Event{Type: EventError, URL: url, Err: err})
		return fmt.Errorf("download: start yt-dlp: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ev, ok := parseProgressLine(scanner.Text()); ok {
			ev.URL = url
			emit(events, ev)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		emit(events, Event{Type: EventError, URL: url, Err: err})
		return fmt.Errorf("download: yt-dlp %s: %w", url, err)
	}

	emit(events, Event{Type: EventComplete, URL: url, Path: outputPath})
	return nil
}

// parseProgressLine extracts a progress event from one output line.
func parseProgressLine(line string) (Event, bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Event{}, false
	}
	return Event{Type: EventProgress, Percent: pct, Speed: m[2], ETA: m[3]}, true
}

// emit sends without blocking; a full channel drops the event.
func emit(events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
	}
}
