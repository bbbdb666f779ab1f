package pipelines

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shadowkit/shadow-agent/internal/logging"
	"github.com/shadowkit/shadow-agent/internal/media"
)

func testRequest() Request {
	return Request{
		Source: "/videos/ep01.mkv",
		Window: media.CutWindow{Start: 9.9, End: 12.1},
		Track:  media.TrackSelection{TrackID: 1, Index: 1, Map: "0:1"},
	}
}

// fakeFFmpeg writes an executable shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script decoders need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func testRunner(ffmpeg string) *SubprocessRunner {
	cfg := DefaultConfig(logging.Discard())
	cfg.FFmpegPath = ffmpeg
	cfg.AnalysisTimeout = 2 * time.Second
	cfg.PersistTimeout = 2 * time.Second
	return NewRunner(cfg)
}

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestBuildAnalysisArgs(t *testing.T) {
	got := strings.Join(BuildAnalysisArgs(testRequest(), 48000, 2), " ")
	want := "-hide_banner -nostdin -loglevel error -ss 9.900 -t 2.200 -i /videos/ep01.mkv -map 0:1 -vn -sn -f f32le -ar 48000 -ac 2 pipe:1"
	if got != want {
		t.Errorf("args =\n  %s\nwant\n  %s", got, want)
	}
}

func TestBuildPersistArgs(t *testing.T) {
	got := strings.Join(BuildPersistArgs(testRequest(), 48000, 2, "/out/ep01_9900_12100.wav.part"), " ")
	want := "-y -hide_banner -nostdin -loglevel error -ss 9.900 -t 2.200 -i /videos/ep01.mkv -map 0:1 -vn -sn -c:a pcm_s16le -ar 48000 -ac 2 -f wav /out/ep01_9900_12100.wav.part"
	if got != want {
		t.Errorf("args =\n  %s\nwant\n  %s", got, want)
	}
}

func TestBuildArgs_SameTrackForBothStreams(t *testing.T) {
	req := testRequest()
	req.Track = media.TrackSelection{TrackID: 2, Index: -1, Map: "0:a:0", Fallback: true}

	mapOf := func(args []string) string {
		for i, a := range args {
			if a == "-map" && i+1 < len(args) {
				return args[i+1]
			}
		}
		return ""
	}
	a := mapOf(BuildAnalysisArgs(req, 48000, 2))
	p := mapOf(BuildPersistArgs(req, 48000, 2, "x.wav"))
	if a != "0:a:0" || a != p {
		t.Errorf("analysis map %q, persist map %q; want both 0:a:0", a, p)
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	got := buf.String()
	if len(got) > 10 {
		t.Errorf("buffer length %d exceeds limit 10", len(got))
	}

	want := " test data"
	if got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		got := truncate(tt.input, tt.maxLen)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestSampleWriter_SplitSamples(t *testing.T) {
	var got []float32
	sw := &sampleWriter{sink: func(s []float32) { got = append(got, s...) }, start: time.Now()}

	// 1.0 and -1.0 as little-endian float32, split mid-sample.
	data := []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x80, 0xbf}
	sw.Write(data[:3])
	sw.Write(data[3:6])
	sw.Write(data[6:])

	if len(got) != 2 || got[0] != 1 || got[1] != -1 {
		t.Errorf("samples = %v, want [1 -1]", got)
	}
	if sw.samples != 2 {
		t.Errorf("sample count = %d, want 2", sw.samples)
	}
	if sw.firstByte <= 0 {
		t.Error("first byte latency was not recorded")
	}
}

func TestParseVersion(t *testing.T) {
	out := "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc\n"
	if got := parseVersion(out); got != "6.1.1-3ubuntu5" {
		t.Errorf("parseVersion() = %q", got)
	}
	if got := parseVersion(""); got != "" {
		t.Errorf("parseVersion(empty) = %q", got)
	}
}

func TestRunAnalysis_StreamsSamples(t *testing.T) {
	// Emits four samples (1, -1, 1, -1) when asked for a pipe.
	ffmpeg := fakeFFmpeg(t, `for last; do :; done
if [ "$last" = "pipe:1" ]; then
  printf '\000\000\200\077\000\000\200\277\000\000\200\077\000\000\200\277'
fi`)
	r := testRunner(ffmpeg)

	var mu sync.Mutex
	var samples []float32
	result, err := r.RunAnalysis(context.Background(), testRequest(), func(s []float32) {
		mu.Lock()
		samples = append(samples, s...)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("RunAnalysis: %v", err)
	}
	if !result.IsSuccess() {
		t.Errorf("exit code = %d", result.ExitCode)
	}
	if result.Samples != 4 || len(samples) != 4 {
		t.Errorf("samples = %v (count %d), want 4", samples, result.Samples)
	}
	if result.FirstByte <= 0 || result.FirstByte > result.Duration {
		t.Errorf("first byte = %v, duration = %v", result.FirstByte, result.Duration)
	}
}

func TestRunAnalysis_NonZeroExit(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `echo "Stream map '0:1' matches no streams." >&2
exit 3`)
	r := testRunner(ffmpeg)

	_, err := r.RunAnalysis(context.Background(), testRequest(), nil)
	var dpe *DecodeProcessError
	if !errors.As(err, &dpe) {
		t.Fatalf("err = %v, want *DecodeProcessError", err)
	}
	if dpe.Stream != StreamAnalysis || dpe.ExitCode != 3 || dpe.TimedOut {
		t.Errorf("error = %+v", dpe)
	}
	if !strings.Contains(dpe.StderrTail, "matches no streams") {
		t.Errorf("stderr tail = %q", dpe.StderrTail)
	}
}

func TestRunAnalysis_Timeout(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `exec sleep 5`)
	r := testRunner(ffmpeg)
	r.cfg.AnalysisTimeout = 100 * time.Millisecond

	start := time.Now()
	_, err := r.RunAnalysis(context.Background(), testRequest(), nil)
	var dpe *DecodeProcessError
	if !errors.As(err, &dpe) {
		t.Fatalf("err = %v, want *DecodeProcessError", err)
	}
	if !dpe.TimedOut {
		t.Errorf("TimedOut = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("decoder was not killed promptly: %v", elapsed)
	}
}

func TestRunAnalysis_Cancelled(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `exec sleep 5`)
	r := testRunner(ffmpeg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := r.RunAnalysis(ctx, testRequest(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var dpe *DecodeProcessError
	if errors.As(err, &dpe) && dpe.TimedOut {
		t.Error("cancellation must not be reported as a timeout")
	}
}

func TestRunAnalysis_NoSamples(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `exit 0`)
	r := testRunner(ffmpeg)

	_, err := r.RunAnalysis(context.Background(), testRequest(), nil)
	var dpe *DecodeProcessError
	if !errors.As(err, &dpe) {
		t.Fatalf("err = %v, want *DecodeProcessError for empty output", err)
	}
}

func TestRunPersist_RenamesIntoPlace(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `for last; do :; done
printf 'RIFF' > "$last"`)
	r := testRunner(ffmpeg)

	out := filepath.Join(t.TempDir(), "out", "ep01_9900_12100.wav")
	result, err := r.RunPersist(context.Background(), testRequest(), out)
	if err != nil {
		t.Fatalf("RunPersist: %v", err)
	}
	if result.OutputPath != out {
		t.Errorf("OutputPath = %q, want %q", result.OutputPath, out)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "RIFF" {
		t.Errorf("output = %q", data)
	}
	assertNoStagingFiles(t, filepath.Dir(out))
}

func TestRunPersist_ConcurrentSameWindow(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `for last; do :; done
printf 'head' > "$last"
sleep 0.2
printf 'tail' >> "$last"`)
	r := testRunner(ffmpeg)

	out := filepath.Join(t.TempDir(), "ep01_9900_12100.wav")
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.RunPersist(context.Background(), testRequest(), out)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("run %d: %v", i, err)
		}
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "headtail" {
		t.Errorf("output = %q, want one complete write", data)
	}
	assertNoStagingFiles(t, filepath.Dir(out))
}

func assertNoStagingFiles(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"+partSuffix))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) > 0 {
		t.Errorf("staging files left behind: %v", matches)
	}
}

func TestRunPersist_FailureLeavesNoFile(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `for last; do :; done
printf 'partial' > "$last"
exit 1`)
	r := testRunner(ffmpeg)

	out := filepath.Join(t.TempDir(), "ep01_9900_12100.wav")
	_, err := r.RunPersist(context.Background(), testRequest(), out)
	var dpe *DecodeProcessError
	if !errors.As(err, &dpe) || dpe.Stream != StreamPersist {
		t.Fatalf("err = %v, want persist *DecodeProcessError", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("final file must not exist after a failed decode")
	}
	assertNoStagingFiles(t, filepath.Dir(out))
}

func TestProbe(t *testing.T) {
	ffmpeg := fakeFFmpeg(t, `echo "ffmpeg version 7.0 Copyright (c) the FFmpeg developers"`)
	r := testRunner(ffmpeg)

	caps, err := r.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if !caps.Available || caps.Version != "7.0" {
		t.Errorf("caps = %+v", caps)
	}
}

func TestProbe_Missing(t *testing.T) {
	r := testRunner("/nonexistent/ffmpeg999")
	caps, err := r.Probe(context.Background())
	if err == nil {
		t.Fatal("expected error for missing ffmpeg")
	}
	if caps == nil || caps.Available {
		t.Errorf("caps = %+v, want unavailable", caps)
	}
}

func TestSafePath_DebugMode(t *testing.T) {
	r := &SubprocessRunner{
		cfg: Config{DebugPaths: true},
	}
	path := "/Users/test/secret/file.mkv"
	if got := r.safePath(path); got != path {
		t.Errorf("debug mode: safePath(%q) = %q, want full path", path, got)
	}
}

func TestSafePath_ProductionMode(t *testing.T) {
	r := &SubprocessRunner{
		cfg: Config{DebugPaths: false},
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	path := filepath.Join(home, "videos", "ep01.mkv")
	if got := r.safePath(path); got != "~/videos/ep01.mkv" {
		t.Errorf("safePath() = %q, want %q", got, "~/videos/ep01.mkv")
	}
}
