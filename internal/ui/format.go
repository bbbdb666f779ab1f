// Package ui renders cycle results outside the HTTP API: a menu bar tray and
// a terminal monitor.
package ui

import (
	"fmt"
	"strings"

	"github.com/shadowkit/shadow-agent/internal/display"
)

// F0Label formats a median pitch, or "unvoiced" when no frame was voiced.
func F0Label(f0 *float64) string {
	if f0 == nil {
		return "unvoiced"
	}
	return fmt.Sprintf("%.0f Hz", *f0)
}

// WindowLabel formats a cut window as "S.SSs-E.EEs".
func WindowLabel(ev display.Event) string {
	return fmt.Sprintf("%.2fs-%.2fs", ev.Window.Start, ev.Window.End)
}

// Summary is the one-line result shown in the tray menu.
func Summary(ev display.Event) string {
	if ev.Error != "" && ev.Kind == display.KindAnalysis {
		return "Last: error"
	}
	return fmt.Sprintf("Last: F0 %s / voiced %.0f%%", F0Label(ev.F0MedianHz), ev.VoicedPct)
}

// Contour draws the F0 series as a block sparkline, width cells wide.
// Unvoiced frames (0 Hz) render as spaces.
func Contour(f0 []float64, width int) string {
	if len(f0) == 0 || width <= 0 {
		return ""
	}
	blocks := []rune("▁▂▃▄▅▆▇█")

	lo, hi := 0.0, 0.0
	for _, v := range f0 {
		if v <= 0 {
			continue
		}
		if lo == 0 || v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	var b strings.Builder
	for i := range width {
		v := f0[i*len(f0)/width]
		if v <= 0 || hi == 0 {
			b.WriteRune(' ')
			continue
		}
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(blocks)-1))
		}
		b.WriteRune(blocks[idx])
	}
	return b.String()
}
