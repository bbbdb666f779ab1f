// Package pipelines supervises the ffmpeg subprocesses that decode a cut
// window: a raw float stream for analysis and a WAV file for persistence.
package pipelines

import (
	"fmt"
	"strings"
	"time"

	"github.com/shadowkit/shadow-agent/internal/media"
)

// Stream identifies which of the two per-cycle decoders a result belongs to.
type Stream string

const (
	StreamAnalysis Stream = "analysis"
	StreamPersist  Stream = "persist"
)

// Request describes one cut: the same source, window and track go to both decoders.
type Request struct {
	Source string
	Window media.CutWindow
	Track  media.TrackSelection
}

// Capabilities describes the installed ffmpeg, as reported by `ffmpeg -version`.
type Capabilities struct {
	Available bool      `json:"available"`
	Version   string    `json:"version,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	ProbedAt  time.Time `json:"probed_at"`
}

// RunResult is the structured outcome of executing a decoder subprocess.
type RunResult struct {
	Stream     Stream        `json:"stream"`
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"` // final file for persistence runs
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
	FirstByte  time.Duration `json:"first_byte,omitempty"` // spawn to first decoded sample
	Samples    int64         `json:"samples,omitempty"`    // interleaved samples delivered
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// DecodeProcessError reports a decoder that failed, timed out or was cancelled.
// It only ever concerns the one stream named in Stream.
type DecodeProcessError struct {
	Stream     Stream
	ExitCode   int
	TimedOut   bool
	StderrTail string
	Err        error
}

func (e *DecodeProcessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s decoder", e.Stream)
	switch {
	case e.TimedOut:
		b.WriteString(" timed out")
	case e.ExitCode != 0:
		fmt.Fprintf(&b, " exited %d", e.ExitCode)
	default:
		b.WriteString(" failed")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if tail := strings.TrimSpace(e.StderrTail); tail != "" {
		fmt.Fprintf(&b, " (%s)", truncate(tail, 200))
	}
	return b.String()
}

func (e *DecodeProcessError) Unwrap() error {
	return e.Err
}
