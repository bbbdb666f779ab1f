// Package export renders cycle history as a CMX 3600 edit decision list so
// a session's cut lines can be reviewed in an editor.
package export

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/shadowkit/shadow-agent/internal/catalog"
)

// DefaultFrameRate is used when the caller gives none.
const DefaultFrameRate = 30.0

const maxClipName = 64

// Clip is one event of the list: a window of a media file.
type Clip struct {
	Name      string
	MediaPath string
	StartMs   int64
	EndMs     int64
}

// ClipsFromCycles keeps cycles that resolved a window, oldest first.
// ListCycles returns newest first.
func ClipsFromCycles(cycles []*catalog.Cycle) []Clip {
	clips := make([]Clip, 0, len(cycles))
	for i := len(cycles) - 1; i >= 0; i-- {
		c := cycles[i]
		if c.MediaPath == "" || c.WindowEndMs <= c.WindowStartMs {
			continue
		}
		clips = append(clips, Clip{
			Name:      clipName(c.SubText, c.ID),
			MediaPath: c.MediaPath,
			StartMs:   c.WindowStartMs,
			EndMs:     c.WindowEndMs,
		})
	}
	return clips
}

// GenerateEDL lays clips end to end on the record side.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	dropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{"TITLE: " + singleLine(title)}
	if dropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	var recordMs int64
	for i, clip := range clips {
		dur := clip.EndMs - clip.StartMs
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "A", timecode(clip.StartMs, fps),
				timecode(clip.EndMs, fps), timecode(recordMs, fps), timecode(recordMs+dur, fps)),
			"* FROM CLIP NAME:  "+clip.Name,
			"* MEDIA PATH:  "+singleLine(clip.MediaPath),
		)
		recordMs += dur
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func timecode(ms int64, fps int) string {
	totalFrames := int64(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % int64(fps)
	totalSeconds := totalFrames / int64(fps)
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalSeconds/3600, totalSeconds/60%60, totalSeconds%60, frames)
}

func clipName(text, fallback string) string {
	name := singleLine(text)
	if r := []rune(name); len(r) > maxClipName {
		name = string(r[:maxClipName])
	}
	if name == "" {
		return fallback
	}
	return name
}

// singleLine folds control characters so a value cannot start a new EDL line.
func singleLine(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s))
}
