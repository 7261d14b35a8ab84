// SPDX-License-Identifier: MIT

package nfo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/fuzzbin/fuzzbin/internal/store"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.nfo")
	doc := &MusicVideo{
		Title:    "Blurred Lines",
		Artists:  []string{"Robin Thicke", "T.I.", "Pharrell Williams"},
		Album:    "Blurred Lines",
		Year:     2013,
		Director: "Diane Martel",
		Genre:    "Pop",
	}
	require.NoError(t, Write(path, doc))

	got, err := ReadMusicVideo(path)
	require.NoError(t, err)
	got.XMLName = doc.XMLName // name is only set by the decoder
	require.Empty(t, cmp.Diff(doc, got))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), "<?xml"))
}

func TestUnknownElementsSurviveRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.nfo")
	original := `<?xml version="1.0" encoding="UTF-8"?>
<musicvideo>
  <title>Get Lucky</title>
  <artist>Daft Punk</artist>
  <userrating>9</userrating>
  <fanart url="https://example.com/fanart"><thumb>big.jpg</thumb></fanart>
</musicvideo>`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	doc, err := ReadMusicVideo(path)
	require.NoError(t, err)
	require.Equal(t, "Get Lucky", doc.Title)
	require.Len(t, doc.Extras, 2)

	doc.Year = 2013
	require.NoError(t, Write(path, doc))

	rewritten, err := ReadMusicVideo(path)
	require.NoError(t, err)
	require.Equal(t, 2013, rewritten.Year)
	require.Len(t, rewritten.Extras, 2)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "<userrating>9</userrating>")
	require.Contains(t, string(raw), `url="https://example.com/fanart"`)
	require.Contains(t, string(raw), "<thumb>big.jpg</thumb>")
}

func TestReadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nfo")
	require.NoError(t, os.WriteFile(path, []byte("<musicvideo><title>x</musicvideo>"), 0o644))

	_, err := ReadMusicVideo(path)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestFromVideo(t *testing.T) {
	v := &store.Video{
		Title:    "Blurred Lines",
		Artist:   "Robin Thicke",
		Album:    "Blurred Lines",
		Year:     2013,
		Director: "Diane Martel",
	}
	artists := []store.Artist{{Name: "Robin Thicke"}, {Name: "T.I."}}

	doc := FromVideo(v, artists)
	require.Equal(t, []string{"Robin Thicke", "T.I."}, doc.Artists)
	require.Equal(t, "Robin Thicke", doc.PrimaryArtist())

	// Without linked artists the row's artist field stands in.
	doc = FromVideo(v, nil)
	require.Equal(t, []string{"Robin Thicke"}, doc.Artists)
}

func TestArtistDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artist.nfo")
	require.NoError(t, Write(path, &Artist{Name: "Daft Punk", Genre: "Electronic"}))

	got, err := ReadArtist(path)
	require.NoError(t, err)
	require.Equal(t, "Daft Punk", got.Name)
	require.Equal(t, "Electronic", got.Genre)
}
