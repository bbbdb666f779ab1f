package api

import (
	"time"

	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/engine"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State           string          `json:"state"`
	Paused          bool            `json:"paused"`
	Connected       bool            `json:"connected"`
	PersistInFlight int             `json:"persist_in_flight"`
	LastCycleID     string          `json:"last_cycle_id,omitempty"`
	LastTriggerAt   string          `json:"last_trigger_at,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	OutputDir       string          `json:"output_dir,omitempty"`
	RetentionCap    int             `json:"retention_cap,omitempty"`
	FFmpeg          *FFmpegResponse `json:"ffmpeg,omitempty"`
}

type FFmpegResponse struct {
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Error       string `json:"error,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type TriggerResponse struct {
	CycleID string `json:"cycle_id"`
}

type CycleResponse struct {
	ID            string   `json:"id"`
	Event         string   `json:"event"`
	Status        string   `json:"status"`
	MediaPath     string   `json:"media_path,omitempty"`
	SubText       string   `json:"sub_text,omitempty"`
	WindowStartMs int64    `json:"window_start_ms"`
	WindowEndMs   int64    `json:"window_end_ms"`
	Track         string   `json:"track,omitempty"`
	FirstByteMs   int64    `json:"first_byte_ms"`
	RMS           float64  `json:"rms"`
	Peak          float64  `json:"peak"`
	F0MedianHz    *float64 `json:"f0_median_hz"`
	VoicedPct     float64  `json:"voiced_pct"`
	SourcePath    string   `json:"source_path,omitempty"`
	Mic           *MicInfo `json:"mic,omitempty"`
	Error         string   `json:"error,omitempty"`
	TriggeredAt   string   `json:"triggered_at"`
	UpdatedAt     string   `json:"updated_at"`
}

type MicInfo struct {
	Path       string   `json:"path"`
	RMS        *float64 `json:"rms"`
	F0MedianHz *float64 `json:"f0_median_hz"`
	VoicedPct  *float64 `json:"voiced_pct"`
}

type CyclesResponse struct {
	Cycles []CycleResponse `json:"cycles"`
}

// MicResponse puts the take's metrics next to the source clip's.
type MicResponse struct {
	CycleID    string        `json:"cycle_id"`
	Path       string        `json:"path"`
	LatestPath string        `json:"latest_path,omitempty"`
	Mic        MetricsBlock  `json:"mic"`
	Source     *MetricsBlock `json:"source,omitempty"`
}

type MetricsBlock struct {
	RMS        float64  `json:"rms"`
	Peak       float64  `json:"peak,omitempty"`
	F0MedianHz *float64 `json:"f0_median_hz"`
	VoicedPct  float64  `json:"voiced_pct"`
}

type ArtifactResponse struct {
	Seq       int64  `json:"seq"`
	Category  string `json:"category"`
	Path      string `json:"path"`
	CycleID   string `json:"cycle_id,omitempty"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	CreatedAt string `json:"created_at"`
}

type ArtifactsResponse struct {
	Artifacts []ArtifactResponse `json:"artifacts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func StatusToResponse(st engine.Status) StatusResponse {
	resp := StatusResponse{
		State:           st.State.String(),
		Paused:          st.Paused,
		PersistInFlight: st.PersistInFlight,
		LastCycleID:     st.LastCycleID,
		LastError:       st.LastError,
	}
	if !st.LastTriggerAt.IsZero() {
		resp.LastTriggerAt = st.LastTriggerAt.Format(time.RFC3339Nano)
	}
	return resp
}

func CycleToResponse(c *catalog.Cycle) CycleResponse {
	resp := CycleResponse{
		ID:            c.ID,
		Event:         c.Event,
		Status:        c.Status,
		MediaPath:     c.MediaPath,
		SubText:       c.SubText,
		WindowStartMs: c.WindowStartMs,
		WindowEndMs:   c.WindowEndMs,
		Track:         c.TrackMap,
		FirstByteMs:   c.FirstByteMs,
		RMS:           c.RMS,
		Peak:          c.Peak,
		F0MedianHz:    c.F0MedianHz,
		VoicedPct:     c.VoicedPct,
		SourcePath:    c.SourcePath,
		Error:         c.Error,
		TriggeredAt:   c.TriggeredAt.Format(time.RFC3339Nano),
		UpdatedAt:     c.UpdatedAt.Format(time.RFC3339Nano),
	}
	if c.MicPath != "" {
		resp.Mic = &MicInfo{
			Path:       c.MicPath,
			RMS:        c.MicRMS,
			F0MedianHz: c.MicF0MedianHz,
			VoicedPct:  c.MicVoicedPct,
		}
	}
	return resp
}

func ArtifactToResponse(a *catalog.Artifact) ArtifactResponse {
	return ArtifactResponse{
		Seq:       a.Seq,
		Category:  string(a.Category),
		Path:      a.Path,
		CycleID:   a.CycleID,
		StartMs:   a.StartMs,
		EndMs:     a.EndMs,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}
