package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// LogFilename is the append-only cycle log inside the output directory.
const LogFilename = "cycles.jsonl"

// LogRecord is one line of the cycle log.
type LogRecord struct {
	Time        time.Time
	Event       string
	CycleID     string
	Status      string
	MediaPath   string
	SourcePath  string
	LatestPath  string
	MicPath     string
	WindowStart float64
	WindowEnd   float64
	SubText     string
	TrackMap    string
	FirstByteMs int64
	RMS         float64
	Peak        float64
	F0MedianHz  *float64
	VoicedPct   float64
	Error       string
}

// CycleLog appends JSON lines. Every record is encoded into one buffer and
// handed to the file in a single write on an O_APPEND descriptor.
type CycleLog struct {
	f   *os.File
	log zerolog.Logger
}

// OpenCycleLog opens (or creates) the log file at path for appending.
func OpenCycleLog(path string) (*CycleLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open cycle log: %w", err)
	}
	return &CycleLog{f: f, log: newRecordLogger(f)}, nil
}

func newRecordLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.SyncWriter(w))
}

func (l *CycleLog) Path() string {
	return l.f.Name()
}

// Append writes rec as one line.
func (l *CycleLog) Append(rec LogRecord) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	ev := l.log.Log().
		Str("ts", rec.Time.UTC().Format(time.RFC3339Nano)).
		Str("event", rec.Event).
		Str("cycle_id", rec.CycleID).
		Str("status", rec.Status).
		Str("media_path", rec.MediaPath).
		Float64("window_start", rec.WindowStart).
		Float64("window_end", rec.WindowEnd).
		Str("sub_text", rec.SubText)

	if rec.SourcePath != "" {
		ev = ev.Str("source_path", rec.SourcePath)
	}
	if rec.LatestPath != "" {
		ev = ev.Str("latest_path", rec.LatestPath)
	}
	if rec.MicPath != "" {
		ev = ev.Str("mic_path", rec.MicPath)
	}
	if rec.TrackMap != "" {
		ev = ev.Str("track", rec.TrackMap)
	}

	ev = ev.Int64("first_byte_ms", rec.FirstByteMs).
		Float64("rms", rec.RMS).
		Float64("peak", rec.Peak).
		Float64("voiced_pct", rec.VoicedPct)
	if rec.F0MedianHz != nil {
		ev = ev.Float64("f0_median_hz", *rec.F0MedianHz)
	} else {
		ev = ev.Interface("f0_median_hz", nil)
	}
	if rec.Error != "" {
		ev = ev.Str("error", rec.Error)
	}
	ev.Send()
}

func (l *CycleLog) Close() error {
	return l.f.Close()
}
