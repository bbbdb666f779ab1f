package engine

import (
	"time"

	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/display"
	"github.com/shadowkit/shadow-agent/internal/media"
	"github.com/shadowkit/shadow-agent/internal/output"
	"github.com/shadowkit/shadow-agent/internal/pitch"
)

// baseEvent fills the fields every display event of a cycle shares.
func baseEvent(kind display.Kind, tr Trigger, snap *media.Snapshot, w media.CutWindow, track media.TrackSelection) display.Event {
	ev := display.Event{
		Kind:        kind,
		CycleID:     tr.ID,
		TriggeredAt: tr.At,
		Window:      w,
		Track:       track.Map,
		TrackIndex:  track.Index,
	}
	if snap != nil {
		ev.Text = snap.SubText
		ev.DisplayText = display.StripAnnotations(snap.SubText)
	}
	return ev
}

func analysisEvent(tr Trigger, snap *media.Snapshot, w media.CutWindow, track media.TrackSelection, res *pitch.Result, firstByte time.Duration) display.Event {
	ev := baseEvent(display.KindAnalysis, tr, snap, w, track)
	ev.LatencyMs = firstByte.Milliseconds()
	ev.RMS = res.RMS
	ev.Peak = res.Peak
	ev.F0MedianHz = res.F0MedianHz
	ev.VoicedPct = res.VoicedPct
	ev.F0Hz = res.F0Hz
	ev.HopMs = res.HopMs
	return ev
}

func logRecord(tr Trigger, v view, status string, pr PersistResult, errMsg string) output.LogRecord {
	rec := output.LogRecord{
		Event:       tr.Event,
		CycleID:     tr.ID,
		Status:      status,
		SourcePath:  pr.Path,
		LatestPath:  pr.LatestPath,
		WindowStart: v.window.Start,
		WindowEnd:   v.window.End,
		TrackMap:    v.track.Map,
		FirstByteMs: v.firstByte.Milliseconds(),
		Error:       errMsg,
	}
	if v.snap != nil {
		rec.MediaPath = v.snap.Path
		rec.SubText = v.snap.SubText
	}
	if v.analysis != nil {
		rec.RMS = v.analysis.RMS
		rec.Peak = v.analysis.Peak
		rec.F0MedianHz = v.analysis.F0MedianHz
		rec.VoicedPct = v.analysis.VoicedPct
	}
	return rec
}

func cycleRecord(tr Trigger, v view, status, sourcePath, errMsg string) *catalog.Cycle {
	c := &catalog.Cycle{
		ID:            tr.ID,
		Event:         tr.Event,
		Status:        status,
		WindowStartMs: v.window.StartMs(),
		WindowEndMs:   v.window.EndMs(),
		TrackMap:      v.track.Map,
		FirstByteMs:   v.firstByte.Milliseconds(),
		SourcePath:    sourcePath,
		Error:         errMsg,
		TriggeredAt:   tr.At,
	}
	if v.snap != nil {
		c.MediaPath = v.snap.Path
		c.SubText = v.snap.SubText
	}
	if v.analysis != nil {
		c.RMS = v.analysis.RMS
		c.Peak = v.analysis.Peak
		c.F0MedianHz = v.analysis.F0MedianHz
		c.VoicedPct = v.analysis.VoicedPct
	}
	return c
}
