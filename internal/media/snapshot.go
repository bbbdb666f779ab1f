// Package media captures what the player is showing when a cut is triggered
// and turns it into a cut window and an audio track selection.
package media

import (
	"path/filepath"
	"strings"
	"time"
)

// Track kinds reported in the player's track list.
const (
	TrackAudio = "audio"
	TrackVideo = "video"
	TrackSub   = "sub"
)

// Track is one entry of the player's track list.
type Track struct {
	ID       int    `json:"id"`
	Type     string `json:"type"`
	Selected bool   `json:"selected"`
	FFIndex  *int   `json:"ff-index,omitempty"`
	Lang     string `json:"lang,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Snapshot is the player state captured for a single trigger. It is never
// reused across triggers.
type Snapshot struct {
	SubText    string    `json:"sub_text"`
	SubStart   float64   `json:"sub_start"`
	SubEnd     float64   `json:"sub_end"`
	SubDelay   float64   `json:"sub_delay"`
	TimePos    float64   `json:"time_pos"`
	Duration   float64   `json:"duration"`
	Path       string    `json:"path"`
	Tracks     []Track   `json:"tracks"`
	CapturedAt time.Time `json:"captured_at"`
}

// BaseName returns the media file name without directory or extension.
// Artifact names are derived from it.
func (s *Snapshot) BaseName() string {
	name := filepath.Base(s.Path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "clip"
	}
	return name
}
