package pipelines

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	// waitDelay bounds how long a terminated decoder may keep its pipes open.
	waitDelay = 500 * time.Millisecond

	// partSuffix marks a persisted file that is still being written.
	partSuffix = ".part"
)

// SampleSink receives interleaved float32 samples as they are decoded.
// The slice is reused between calls and must not be retained.
type SampleSink func(samples []float32)

// Runner launches the per-cycle decoders.
type Runner interface {
	// Probe runs `ffmpeg -version` and reports availability.
	Probe(ctx context.Context) (*Capabilities, error)

	// RunAnalysis decodes the window to raw f32le on a pipe and streams the
	// samples to sink until the decoder exits.
	RunAnalysis(ctx context.Context, req Request, sink SampleSink) (RunResult, error)

	// RunPersist decodes the window to a 16-bit PCM WAV at outPath. The file
	// is written under a temporary name and renamed into place on success.
	RunPersist(ctx context.Context, req Request, outPath string) (RunResult, error)
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath         string        // path or name of the ffmpeg binary
	AnalysisSampleRate int           // Hz of the raw analysis stream
	AnalysisChannels   int           // channels of the raw analysis stream
	PersistSampleRate  int           // Hz of the persisted WAV
	PersistChannels    int           // channels of the persisted WAV
	AnalysisTimeout    time.Duration // upper bound for the analysis decoder
	PersistTimeout     time.Duration // upper bound for the persistence decoder
	ProbeTimeout       time.Duration // timeout for ffmpeg -version
	Logger             *slog.Logger
	DebugPaths         bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:         "ffmpeg",
		AnalysisSampleRate: 48000,
		AnalysisChannels:   2,
		PersistSampleRate:  48000,
		PersistChannels:    2,
		AnalysisTimeout:    5 * time.Second,
		PersistTimeout:     10 * time.Second,
		ProbeTimeout:       10 * time.Second,
		Logger:             logger,
		DebugPaths:         false,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg    Config
	ffmpeg string // resolved ffmpeg path
}

// NewRunner creates a SubprocessRunner. A missing ffmpeg is not fatal here:
// the probe reports it and every decode fails with a DecodeProcessError.
func NewRunner(cfg Config) *SubprocessRunner {
	ffmpeg, err := resolveFFmpeg(cfg.FFmpegPath)
	if err != nil {
		cfg.Logger.Warn("ffmpeg not found on PATH", "ffmpeg", cfg.FFmpegPath, "error", err)
		ffmpeg = cfg.FFmpegPath
	}

	cfg.Logger.Info("decoder runner initialised",
		"ffmpeg", ffmpeg,
		"analysis_rate", cfg.AnalysisSampleRate,
		"persist_rate", cfg.PersistSampleRate,
	)

	return &SubprocessRunner{cfg: cfg, ffmpeg: ffmpeg}
}

// Probe reports the installed ffmpeg version.
func (r *SubprocessRunner) Probe(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.ffmpeg, "-hide_banner", "-version")
	cmd.Stdout = &limitedWriter{w: &out, limit: maxStderrBytes}
	if err := cmd.Run(); err != nil {
		return &Capabilities{Available: false, Path: r.ffmpeg, Error: err.Error(), ProbedAt: time.Now()},
			fmt.Errorf("ffmpeg probe: %w", err)
	}

	caps := &Capabilities{
		Available: true,
		Path:      r.ffmpeg,
		Version:   parseVersion(out.String()),
		ProbedAt:  time.Now(),
	}
	r.cfg.Logger.Info("ffmpeg probe complete", "version", caps.Version)
	return caps, nil
}

// RunAnalysis runs the low-latency decoder and streams its samples to sink.
func (r *SubprocessRunner) RunAnalysis(ctx context.Context, req Request, sink SampleSink) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AnalysisTimeout)
	defer cancel()

	sw := &sampleWriter{sink: sink}
	args := BuildAnalysisArgs(req, r.cfg.AnalysisSampleRate, r.cfg.AnalysisChannels)
	result, err := r.exec(ctx, StreamAnalysis, sw, func(start time.Time) { sw.start = start }, args...)
	result.FirstByte = sw.firstByte
	result.Samples = sw.samples
	if err == nil && sw.samples == 0 {
		err = &DecodeProcessError{Stream: StreamAnalysis, StderrTail: result.StderrTail, Err: errors.New("decoder produced no samples")}
	}
	return result, err
}

// RunPersist runs the persistence decoder to outPath.
func (r *SubprocessRunner) RunPersist(ctx context.Context, req Request, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return RunResult{Stream: StreamPersist, ExitCode: -1},
			&DecodeProcessError{Stream: StreamPersist, ExitCode: -1, Err: fmt.Errorf("create output dir: %w", err)}
	}

	// Each run stages into its own file so two cycles over the same window
	// never share a partial write.
	f, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".*"+partSuffix)
	if err != nil {
		return RunResult{Stream: StreamPersist, ExitCode: -1},
			&DecodeProcessError{Stream: StreamPersist, ExitCode: -1, Err: fmt.Errorf("create staging file: %w", err)}
	}
	tmp := f.Name()
	f.Close()

	args := BuildPersistArgs(req, r.cfg.PersistSampleRate, r.cfg.PersistChannels, tmp)
	result, err := r.exec(ctx, StreamPersist, io.Discard, nil, args...)
	if err != nil {
		os.Remove(tmp)
		return result, err
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return result, &DecodeProcessError{Stream: StreamPersist, Err: fmt.Errorf("rename into place: %w", err)}
	}
	result.OutputPath = outPath
	return result, nil
}

// BuildAnalysisArgs returns the ffmpeg arguments for the raw analysis stream.
func BuildAnalysisArgs(req Request, sampleRate, channels int) []string {
	args := baseArgs(req)
	return append(args,
		"-f", "f32le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"pipe:1",
	)
}

// BuildPersistArgs returns the ffmpeg arguments for the persisted WAV.
func BuildPersistArgs(req Request, sampleRate, channels int, outPath string) []string {
	args := append([]string{"-y"}, baseArgs(req)...)
	return append(args,
		"-c:a", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-f", "wav",
		outPath,
	)
}

func baseArgs(req Request) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-ss", formatSeconds(req.Window.Start),
		"-t", formatSeconds(req.Window.Duration()),
		"-i", req.Source,
		"-map", req.Track.Map,
		"-vn",
		"-sn",
	}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// exec is the core subprocess execution helper. A non-nil error is always a
// *DecodeProcessError for the given stream.
func (r *SubprocessRunner) exec(ctx context.Context, stream Stream, stdout io.Writer, onStart func(time.Time), args ...string) (RunResult, error) {
	cmd := exec.CommandContext(ctx, r.ffmpeg, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = waitDelay

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = stdout

	r.cfg.Logger.Debug("executing decoder",
		"stream", stream,
		"args", r.safeArgs(args),
	)

	start := time.Now()
	if onStart != nil {
		onStart(start)
	}
	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := RunResult{
		Stream:     stream,
		ExitCode:   exitCode,
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
	}

	// A context ending wins over whatever exit status the signal produced.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if result.ExitCode == 0 {
			result.ExitCode = -1
		}
		timedOut := errors.Is(ctxErr, context.DeadlineExceeded)
		r.cfg.Logger.Warn("decoder stopped",
			"stream", stream,
			"timed_out", timedOut,
			"duration_ms", elapsed.Milliseconds(),
		)
		return result, &DecodeProcessError{Stream: stream, ExitCode: result.ExitCode, TimedOut: timedOut, StderrTail: result.StderrTail, Err: ctxErr}
	}

	if err != nil {
		r.cfg.Logger.Warn("decoder failed",
			"stream", stream,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
		return result, &DecodeProcessError{Stream: stream, ExitCode: exitCode, StderrTail: result.StderrTail, Err: err}
	}

	r.cfg.Logger.Debug("decoder succeeded",
		"stream", stream,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// safeArgs masks the input path unless debug paths are enabled.
func (r *SubprocessRunner) safeArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i+1 < len(out); i++ {
		if out[i] == "-i" {
			out[i+1] = r.safePath(out[i+1])
		}
	}
	return out
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolveFFmpeg finds a usable ffmpeg binary.
func resolveFFmpeg(preferred string) (string, error) {
	if preferred == "" {
		preferred = "ffmpeg"
	}
	p, err := exec.LookPath(preferred)
	if err != nil {
		return "", fmt.Errorf("ffmpeg %q not found: %w", preferred, err)
	}
	return p, nil
}

// parseVersion extracts "N.N" from "ffmpeg version N.N ...".
func parseVersion(out string) string {
	sc := bufio.NewScanner(strings.NewReader(out))
	if !sc.Scan() {
		return ""
	}
	fields := strings.Fields(sc.Text())
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(sc.Text())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}

// sampleWriter turns little-endian f32 bytes into samples for a sink.
// Partial samples split across writes are carried over.
type sampleWriter struct {
	sink      SampleSink
	start     time.Time
	firstByte time.Duration
	samples   int64

	carry  [4]byte
	ncarry int
	buf    []float32
}

func (sw *sampleWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	if sw.firstByte == 0 {
		sw.firstByte = time.Since(sw.start)
	}

	sw.buf = sw.buf[:0]
	if sw.ncarry > 0 {
		need := 4 - sw.ncarry
		if len(p) < need {
			copy(sw.carry[sw.ncarry:], p)
			sw.ncarry += len(p)
			return n, nil
		}
		copy(sw.carry[sw.ncarry:], p[:need])
		sw.buf = append(sw.buf, math.Float32frombits(binary.LittleEndian.Uint32(sw.carry[:])))
		p = p[need:]
		sw.ncarry = 0
	}
	for len(p) >= 4 {
		sw.buf = append(sw.buf, math.Float32frombits(binary.LittleEndian.Uint32(p)))
		p = p[4:]
	}
	if len(p) > 0 {
		sw.ncarry = copy(sw.carry[:], p)
	}

	if len(sw.buf) > 0 {
		sw.samples += int64(len(sw.buf))
		if sw.sink != nil {
			sw.sink(sw.buf)
		}
	}
	return n, nil
}
