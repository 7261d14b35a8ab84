// SPDX-License-Identifier: MIT

// Package nfo reads and writes Kodi-compatible .nfo sidecar files. Elements
// this package does not know about survive a read-modify-write cycle
// untouched, so hand-edited or third-party fields are never lost.
package nfo

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"

	"github.com/fuzzbin/fuzzbin/internal/store"
)

// ErrMalformed reports an unparseable NFO file.
var ErrMalformed = errors.New("nfo: malformed document")

// Extra is one element this package does not model. Name, attributes and
// inner XML round-trip verbatim.
type Extra struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",innerxml"`
}

// MusicVideo is the musicvideo document. Artists holds the primary artist
// first, then featured artists, as repeated <artist> elements.
type MusicVideo struct {
	XMLName  xml.Name `xml:"musicvideo"`
	Title    string   `xml:"title,omitempty"`
	Artists  []string `xml:"artist,omitempty"`
	Album    string   `xml:"album,omitempty"`
	Year     int      `xml:"year,omitempty"`
	Director string   `xml:"director,omitempty"`
	Genre    string   `xml:"genre,omitempty"`
	Studio   string   `xml:"studio,omitempty"`
	Plot     string   `xml:"plot,omitempty"`
	Runtime  int      `xml:"runtime,omitempty"`
	Thumb    string   `xml:"thumb,omitempty"`
	Extras   []Extra  `xml:",any"`
}

// Artist is the artist document.
type Artist struct {
	XMLName   xml.Name `xml:"artist"`
	Name      string   `xml:"name,omitempty"`
	Genre     string   `xml:"genre,omitempty"`
	Biography string   `xml:"biography,omitempty"`
	Thumb     string   `xml:"thumb,omitempty"`
	Extras    []Extra  `xml:",any"`
}

// FromVideo maps a store row and its linked artists to a document. The
// artists slice follows store ordering, primary first; when empty the row's
// artist field is used alone.
func FromVideo(v *store.Video, artists []store.Artist) *MusicVideo {
	m := &MusicVideo{
		Title:    v.Title,
		Album:    v.Album,
		Year:     v.Year,
		Director: v.Director,
		Genre:    v.Genre,
		Studio:   v.Studio,
	}
	for _, a := range artists {
		m.Artists = append(m.Artists, a.Name)
	}
	if len(m.Artists) == 0 && v.Artist != "" {
		m.Artists = []string{v.Artist}
	}
	return m
}

// PrimaryArtist returns the first artist, or "".
func (m *MusicVideo) PrimaryArtist() string {
	if len(m.Artists) == 0 {
		return ""
	}
	return m.Artists[0]
}

// ReadMusicVideo parses the file at path.
func ReadMusicVideo(path string) (*MusicVideo, error) {
	var m MusicVideo
	if err := readDoc(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadArtist parses the file at path.
func ReadArtist(path string) (*Artist, error) {
	var a Artist
	if err := readDoc(path, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func readDoc(path string, out any) error {
	data, err := os.ReadFile(path) // #nosec G304 -- paths come from the store
	if err != nil {
		return fmt.Errorf("nfo: read %s: %w", path, err)
	}
	if err := xml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return nil
}

// Write marshals doc and writes it atomically; readers never observe a
// partial file.
func Write(path string, doc any) error {
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("nfo: encode: %w", err)
	}
	content := append([]byte(xml.Header), data...)
	content = append(content, '\n')
	if err := renameio.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("nfo: write %s: %w", path, err)
	}
	return nil
}
