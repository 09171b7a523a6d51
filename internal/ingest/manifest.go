package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// Manifest summarizes the media playlist currently served for a stream.
type Manifest struct {
	MediaSequence  int      `json:"mediaSequence"`
	TargetDuration int      `json:"targetDuration"`
	Segments       []string `json:"segments"`
	WindowSeconds  float64  `json:"windowSeconds"`
}

// ReadManifest parses the playlist written to dir.
func ReadManifest(dir string) (*Manifest, error) {
	buf, err := os.ReadFile(filepath.Join(dir, PlaylistName))
	if err != nil {
		return nil, err
	}

	pl, err := playlist.Unmarshal(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}

	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("playlist is not a media playlist")
	}

	m := &Manifest{
		MediaSequence:  media.MediaSequence,
		TargetDuration: media.TargetDuration,
		Segments:       make([]string, 0, len(media.Segments)),
	}
	var window time.Duration
	for _, seg := range media.Segments {
		m.Segments = append(m.Segments, seg.URI)
		window += seg.Duration
	}
	m.WindowSeconds = window.Seconds()
	return m, nil
}
