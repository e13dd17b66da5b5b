// Package metadata extracts descriptive tags from audio files.
package metadata

import (
	"fmt"
	"os"
	"strings"

	"github.com/dhowden/tag"

	"github.com/tejashwikalptaru/reh/internal/domain"
)

// Reader reads ID3, MP4, FLAC and Vorbis comment tags with dhowden/tag.
type Reader struct{}

// NewReader creates a tag reader.
func NewReader() *Reader {
	return &Reader{}
}

// ReadMetadata returns the tags of the file at path.
// A file without a recognizable tag block yields empty metadata and no error.
func (r *Reader) ReadMetadata(path string) (domain.TrackMetadata, error) {
	if path == "" {
		return domain.TrackMetadata{}, domain.ErrInvalidFilePath
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.TrackMetadata{}, fmt.Errorf("open %s: %w: %w", path, domain.ErrIO, err)
	}
	defer file.Close()

	m, err := tag.ReadFrom(file)
	if err != nil {
		// Missing or unparseable tags never block playback.
		return domain.TrackMetadata{}, nil
	}

	return domain.TrackMetadata{
		Title:  strings.TrimSpace(m.Title()),
		Artist: strings.TrimSpace(m.Artist()),
		Album:  strings.TrimSpace(m.Album()),
	}, nil
}
