package music

import (
	"fmt"
	"io"

	"github.com/dhowden/tag"
)

// Metadata is the subset of embedded tag fields the track model cares
// about.
type Metadata struct {
	Title    string
	Album    string
	Artist   string
	Composer string
}

// SniffTags reads embedded metadata from a tagged source file (MP3,
// FLAC, M4A, OGG — whatever dhowden/tag recognizes), for the upload
// ingest path where a caller supplies the original tagged file alongside
// raw PCM for re-encoding into the container format.
func SniffTags(r io.ReadSeeker) (Metadata, error) {
	m, err := tag.ReadFrom(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("music: read tags: %w", err)
	}
	return Metadata{
		Title:    m.Title(),
		Album:    m.Album(),
		Artist:   m.Artist(),
		Composer: m.Composer(),
	}, nil
}
