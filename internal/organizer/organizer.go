// SPDX-License-Identifier: MIT

// Package organizer computes canonical library paths from a path pattern and
// a video's metadata. It is a pure function: beyond checking that the root
// exists it never touches the filesystem.
package organizer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrInvalidPattern reports an unknown or unusable placeholder.
	ErrInvalidPattern = errors.New("organizer: invalid pattern")
	// ErrMissingField reports an absent or whitespace-only required field.
	ErrMissingField = errors.New("organizer: missing field")
	// ErrInvalidPath reports an unusable root directory.
	ErrInvalidPath = errors.New("organizer: invalid path")
)

// Metadata is the NFO-shaped record patterns draw from.
type Metadata struct {
	Title           string
	Artist          string
	Album           string
	Year            int
	Director        string
	Genre           string
	Studio          string
	FeaturedArtists []string
	Tags            []string
}

// fieldSpec describes one pattern-addressable field. Validation and
// extraction are table-driven rather than reflective; organizer_test pins
// this table against the Metadata struct.
type fieldSpec struct {
	name   string
	get    func(*Metadata) string
	isList bool
	usable bool // tags is declared but can never appear in a pattern
}

var fieldSpecs = []fieldSpec{
	{name: "title", usable: true, get: func(m *Metadata) string { return m.Title }},
	{name: "artist", usable: true, get: func(m *Metadata) string { return m.Artist }},
	{name: "album", usable: true, get: func(m *Metadata) string { return m.Album }},
	{name: "year", usable: true, get: func(m *Metadata) string {
		if m.Year == 0 {
			return ""
		}
		return strconv.Itoa(m.Year)
	}},
	{name: "director", usable: true, get: func(m *Metadata) string { return m.Director }},
	{name: "genre", usable: true, get: func(m *Metadata) string { return m.Genre }},
	{name: "studio", usable: true, get: func(m *Metadata) string { return m.Studio }},
	{name: "featured_artists", isList: true, usable: true, get: func(m *Metadata) string {
		return strings.Join(m.FeaturedArtists, ", ")
	}},
	{name: "tags", isList: true, usable: false},
}

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

// Paths is the resolved pair of target files.
type Paths struct {
	Video string
	NFO   string
}

// Resolve substitutes pattern placeholders from meta and returns the target
// video and NFO paths under root. With normalize set, every field value is
// flattened to lowercase ASCII with underscores for whitespace.
func Resolve(root, pattern string, meta *Metadata, normalize bool) (Paths, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return Paths{}, fmt.Errorf("%w: root %q is not an existing directory", ErrInvalidPath, root)
	}

	names := placeholderRe.FindAllStringSubmatch(pattern, -1)
	resolved := pattern
	for _, m := range names {
		name := m[1]
		spec := lookupField(name)
		if spec == nil || !spec.usable {
			return Paths{}, fmt.Errorf("%w: unknown or unusable field %q", ErrInvalidPattern, name)
		}

		value := spec.get(meta)
		if strings.TrimSpace(value) == "" {
			return Paths{}, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		if normalize {
			value = normalizeSegment(value)
			if value == "" {
				return Paths{}, fmt.Errorf("%w: %s (empty after normalization)", ErrMissingField, name)
			}
		}
		resolved = strings.ReplaceAll(resolved, m[0], value)
	}

	if strings.Contains(resolved, "{") || strings.Contains(resolved, "}") {
		return Paths{}, fmt.Errorf("%w: unbalanced braces in %q", ErrInvalidPattern, pattern)
	}

	rel := filepath.FromSlash(strings.Trim(resolved, "/"))
	return Paths{
		Video: filepath.Join(root, rel+".mp4"),
		NFO:   filepath.Join(root, rel+".nfo"),
	}, nil
}

func lookupField(name string) *fieldSpec {
	for i := range fieldSpecs {
		if fieldSpecs[i].name == name {
			return &fieldSpecs[i]
		}
	}
	return nil
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// normalizeSegment flattens a field value into a filesystem-friendly token:
// NFKD decomposition, combining marks stripped, lowercased, hyphens dropped,
// non-ASCII-alphanumerics dropped, whitespace runs collapsed to "_".
func normalizeSegment(s string) string {
	flat, _, err := transform.String(stripMarks, s)
	if err != nil {
		flat = s
	}
	flat = strings.ToLower(flat)
	flat = strings.ReplaceAll(flat, "-", "")

	var b strings.Builder
	for _, r := range flat {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	return strings.Join(fields, "_")
}
