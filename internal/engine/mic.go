package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/display"
	"github.com/shadowkit/shadow-agent/internal/logging"
	"github.com/shadowkit/shadow-agent/internal/media"
	"github.com/shadowkit/shadow-agent/internal/output"
	"github.com/shadowkit/shadow-agent/internal/pitch"
	"github.com/shadowkit/shadow-agent/internal/wav"
)

// MaxMicBytes bounds an uploaded recording.
const MaxMicBytes = 32 << 20

var (
	ErrCycleNotFound    = errors.New("cycle not found")
	ErrInvalidRecording = errors.New("invalid recording")
	ErrNoCycleStore     = errors.New("cycle store not configured")
)

// MicResult is the outcome of analysing an uploaded take.
type MicResult struct {
	CycleID    string       `json:"cycle_id"`
	Path       string       `json:"path"`
	LatestPath string       `json:"latest_path,omitempty"`
	Analysis   pitch.Result `json:"analysis"`
}

// SubmitMic analyses a WAV recording of the learner's attempt at a cycle's
// line and stores it next to the source clip under the mic category.
func (e *Engine) SubmitMic(ctx context.Context, cycleID string, r io.Reader) (*MicResult, error) {
	if e.store == nil {
		return nil, ErrNoCycleStore
	}
	rec, err := e.store.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("load cycle: %w", err)
	}
	if rec == nil {
		return nil, ErrCycleNotFound
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxMicBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	if len(data) > MaxMicBytes {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidRecording, MaxMicBytes)
	}

	clip, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecording, err)
	}
	res, err := pitch.Analyze(clip.Samples, e.cfg.Pitch.WithInput(clip.SampleRate, clip.Channels), pitch.Edges{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecording, err)
	}

	w := media.CutWindow{
		Start: float64(rec.WindowStartMs) / 1000,
		End:   float64(rec.WindowEndMs) / 1000,
	}
	base := (&media.Snapshot{Path: rec.MediaPath}).BaseName()
	commit, err := e.out.Store(ctx, catalog.CategoryMic, rec.ID, base, w, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store recording: %w", err)
	}

	rec, err = e.saveMic(ctx, rec, commit.Artifact.Path, res)
	if err != nil {
		return nil, err
	}

	e.out.AppendLog(output.LogRecord{
		Event:       "mic",
		CycleID:     rec.ID,
		Status:      rec.Status,
		MediaPath:   rec.MediaPath,
		MicPath:     rec.MicPath,
		LatestPath:  commit.LatestPath,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		SubText:     rec.SubText,
		RMS:         res.RMS,
		Peak:        res.Peak,
		F0MedianHz:  res.F0MedianHz,
		VoicedPct:   res.VoicedPct,
	})

	e.pub.Publish(display.Event{
		Kind:        display.KindMic,
		CycleID:     rec.ID,
		TriggeredAt: rec.TriggeredAt,
		Text:        rec.SubText,
		DisplayText: display.StripAnnotations(rec.SubText),
		Window:      w,
		Track:       rec.TrackMap,
		RMS:         res.RMS,
		Peak:        res.Peak,
		F0MedianHz:  res.F0MedianHz,
		VoicedPct:   res.VoicedPct,
		F0Hz:        res.F0Hz,
		HopMs:       res.HopMs,
		MicPath:     rec.MicPath,
	})

	logging.WithCycleID(e.logger, rec.ID).Info("mic take analysed",
		"path", rec.MicPath,
		"voiced_pct", res.VoicedPct,
		"f0_median_hz", res.F0MedianHz)

	return &MicResult{CycleID: rec.ID, Path: rec.MicPath, LatestPath: commit.LatestPath, Analysis: res}, nil
}

// saveMic records the take on the cycle row. The row is re-read under rowMu
// since persistence may have finished while the take was being analysed.
func (e *Engine) saveMic(ctx context.Context, rec *catalog.Cycle, path string, res pitch.Result) (*catalog.Cycle, error) {
	e.rowMu.Lock()
	defer e.rowMu.Unlock()

	current, err := e.store.GetCycle(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load cycle: %w", err)
	}
	if current != nil {
		rec = current
	}
	rms, voiced := res.RMS, res.VoicedPct
	rec.MicPath = path
	rec.MicRMS = &rms
	rec.MicF0MedianHz = res.F0MedianHz
	rec.MicVoicedPct = &voiced
	if err := e.store.SaveCycle(ctx, rec); err != nil {
		return nil, fmt.Errorf("save cycle: %w", err)
	}
	return rec, nil
}
