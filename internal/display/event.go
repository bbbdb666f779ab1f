// Package display carries cycle results from the engine to whatever shows
// them: the HTTP stream, the tray, the terminal monitor and Kafka.
package display

import (
	"strings"
	"time"
	"unicode"

	"github.com/shadowkit/shadow-agent/internal/media"
)

type Kind string

const (
	// KindAnalysis is the fast-path result of a cycle.
	KindAnalysis Kind = "analysis"
	// KindPersisted follows once the source clip is on disk (or failed to be).
	KindPersisted Kind = "persisted"
	// KindMic carries metrics for a microphone take uploaded for a cycle.
	KindMic Kind = "mic"
)

// Event is the structured payload delivered to the display boundary. Every
// field of one Event describes the same cycle.
type Event struct {
	Kind        Kind            `json:"kind"`
	CycleID     string          `json:"cycle_id"`
	TriggeredAt time.Time       `json:"triggered_at"`
	Text        string          `json:"text"`
	DisplayText string          `json:"display_text"`
	Window      media.CutWindow `json:"window"`
	Track       string          `json:"track"`
	TrackIndex  int             `json:"track_index"`
	LatencyMs   int64           `json:"latency_ms"`
	RMS         float64         `json:"rms"`
	Peak        float64         `json:"peak"`
	F0MedianHz  *float64        `json:"f0_median_hz"`
	VoicedPct   float64         `json:"voiced_pct"`
	F0Hz        []float64       `json:"f0_hz"`
	HopMs       int             `json:"hop_ms"`
	SourcePath  string          `json:"source_path,omitempty"`
	LatestPath  string          `json:"latest_path,omitempty"`
	MicPath     string          `json:"mic_path,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// StripAnnotations removes leading bracketed or parenthetical annotations
// such as "(laughs)" or "[music]" from subtitle text.
func StripAnnotations(text string) string {
	s := strings.TrimSpace(text)
	for {
		rest, ok := cutLeadingAnnotation(s)
		if !ok {
			return s
		}
		s = strings.TrimLeftFunc(rest, unicode.IsSpace)
	}
}

var annotationPairs = map[rune]rune{
	'(': ')',
	'[': ']',
	'（': '）',
	'【': '】',
	'［': '］',
}

func cutLeadingAnnotation(s string) (string, bool) {
	if s == "" {
		return s, false
	}
	open := []rune(s)[0]
	closing, ok := annotationPairs[open]
	if !ok {
		return s, false
	}
	i := strings.IndexRune(s, closing)
	if i < 0 {
		return s, false
	}
	rest := s[i+len(string(closing)):]
	if strings.TrimSpace(rest) == "" {
		// Never strip a line down to nothing.
		return s, false
	}
	return rest, true
}
