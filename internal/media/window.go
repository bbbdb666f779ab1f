package media

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateWindow is returned when padding and clamping leave an empty window.
var ErrDegenerateWindow = errors.New("degenerate cut window")

// CutWindow is a padded, clamped interval in seconds of media time.
// Invariant: 0 <= Start < End (and End <= duration when the duration is known).
type CutWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ComputeWindow pads the subtitle bounds by pad and clamps them to
// [0, duration]. A duration <= 0 means unknown and only the lower clamp applies.
func ComputeWindow(subStart, subEnd, duration, pad float64) (CutWindow, error) {
	if math.IsNaN(subStart) || math.IsNaN(subEnd) || math.IsNaN(pad) {
		return CutWindow{}, fmt.Errorf("%w: non-numeric bounds", ErrDegenerateWindow)
	}
	start := clamp(subStart-pad, duration)
	end := clamp(subEnd+pad, duration)
	if start >= end {
		return CutWindow{}, fmt.Errorf("%w: subtitle %.3f-%.3f gives %.3f-%.3f", ErrDegenerateWindow, subStart, subEnd, start, end)
	}
	return CutWindow{Start: start, End: end}, nil
}

func clamp(v, duration float64) float64 {
	if v < 0 {
		return 0
	}
	if duration > 0 && v > duration {
		return duration
	}
	return v
}

// Duration returns End - Start in seconds.
func (w CutWindow) Duration() float64 {
	return w.End - w.Start
}

// StartMs returns Start rounded to whole milliseconds.
func (w CutWindow) StartMs() int64 {
	return int64(math.Round(w.Start * 1000))
}

// EndMs returns End rounded to whole milliseconds.
func (w CutWindow) EndMs() int64 {
	return int64(math.Round(w.End * 1000))
}

// Margins returns how much of the window lies before subStart and after
// subEnd. These are the padding regions excluded from voicing statistics.
func (w CutWindow) Margins(subStart, subEnd float64) (lead, trail float64) {
	lead = math.Max(0, subStart-w.Start)
	trail = math.Max(0, w.End-subEnd)
	if lead > w.Duration() {
		lead = w.Duration()
	}
	if trail > w.Duration() {
		trail = w.Duration()
	}
	return lead, trail
}

func (w CutWindow) String() string {
	return fmt.Sprintf("%.3f-%.3f", w.Start, w.End)
}
