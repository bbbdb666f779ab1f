package catalog

import (
	"time"
)

// Category groups artifacts for naming and retention.
type Category string

const (
	CategorySource Category = "source"
	CategoryMic    Category = "mic"
)

// Categories lists every artifact category.
var Categories = []Category{CategorySource, CategoryMic}

func (c Category) Valid() bool {
	return c == CategorySource || c == CategoryMic
}

// Artifact is one historical audio file in the output directory. Seq is the
// insertion order and is what retention evicts by.
type Artifact struct {
	Seq       int64     `json:"seq"`
	Category  Category  `json:"category"`
	Path      string    `json:"path"`
	CycleID   string    `json:"cycle_id,omitempty"`
	StartMs   int64     `json:"start_ms"`
	EndMs     int64     `json:"end_ms"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	CycleStatusRunning     = "running"
	CycleStatusPersisting  = "persisting"
	CycleStatusCompleted   = "completed"
	CycleStatusFailed      = "failed"
	CycleStatusSuperseded  = "superseded"
	CycleStatusInterrupted = "interrupted"
)

// Cycle is the stored record of one cut cycle.
type Cycle struct {
	ID            string    `json:"id"`
	Event         string    `json:"event"`
	Status        string    `json:"status"`
	MediaPath     string    `json:"media_path,omitempty"`
	SubText       string    `json:"sub_text,omitempty"`
	WindowStartMs int64     `json:"window_start_ms"`
	WindowEndMs   int64     `json:"window_end_ms"`
	TrackMap      string    `json:"track_map,omitempty"`
	FirstByteMs   int64     `json:"first_byte_ms"`
	RMS           float64   `json:"rms"`
	Peak          float64   `json:"peak"`
	F0MedianHz    *float64  `json:"f0_median_hz"`
	VoicedPct     float64   `json:"voiced_pct"`
	SourcePath    string    `json:"source_path,omitempty"`
	MicPath       string    `json:"mic_path,omitempty"`
	MicRMS        *float64  `json:"mic_rms,omitempty"`
	MicF0MedianHz *float64  `json:"mic_f0_median_hz,omitempty"`
	MicVoicedPct  *float64  `json:"mic_voiced_pct,omitempty"`
	Error         string    `json:"error,omitempty"`
	TriggeredAt   time.Time `json:"triggered_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ConfigKeyAPIToken holds the bearer token for the local HTTP API.
const ConfigKeyAPIToken = "api_token"
