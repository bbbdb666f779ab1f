// Package config provides configuration management for the shadow agent.
// Configuration is loaded from environment variables with sensible defaults;
// command-line flags may override a subset of values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort           = 8797
	DefaultLogLevel       = "info"
	DefaultDataDir        = ".shadow"
	DefaultSocketPath     = "/tmp/mpvsocket"
	DefaultTriggerMessage = "cut_current_sub"
	DefaultFFmpegPath     = "ffmpeg"

	// Environment variable names
	EnvPort           = "SHADOW_PORT"
	EnvLogLevel       = "SHADOW_LOG_LEVEL"
	EnvDataDir        = "SHADOW_DATA_DIR"
	EnvOutputDir      = "SHADOW_OUTPUT_DIR"
	EnvSocketPath     = "SHADOW_MPV_SOCKET"
	EnvTriggerMessage = "SHADOW_TRIGGER_MESSAGE"
	EnvFFmpegPath     = "SHADOW_FFMPEG"

	// Cut window and decoding
	EnvPadding              = "SHADOW_PADDING_SECONDS"
	EnvAnalysisSampleRate   = "SHADOW_ANALYSIS_SAMPLE_RATE"
	EnvAnalysisChannels     = "SHADOW_ANALYSIS_CHANNELS"
	EnvPersistSampleRate    = "SHADOW_PERSIST_SAMPLE_RATE"
	EnvPersistChannels      = "SHADOW_PERSIST_CHANNELS"
	EnvAnalysisTimeout      = "SHADOW_ANALYSIS_TIMEOUT"
	EnvPersistTimeout       = "SHADOW_PERSIST_TIMEOUT"
	EnvTrackFallback        = "SHADOW_TRACK_FALLBACK"
	EnvTrackFallbackIndex   = "SHADOW_TRACK_FALLBACK_INDEX"
	EnvPitchSampleRate      = "SHADOW_PITCH_SAMPLE_RATE"
	EnvPitchFrameMs         = "SHADOW_PITCH_FRAME_MS"
	EnvPitchHopMs           = "SHADOW_PITCH_HOP_MS"
	EnvPitchMinHz           = "SHADOW_PITCH_MIN_HZ"
	EnvPitchMaxHz           = "SHADOW_PITCH_MAX_HZ"
	EnvPitchThreshold       = "SHADOW_PITCH_NSDF_THRESHOLD"
	EnvPitchGateMultiplier  = "SHADOW_PITCH_GATE_MULTIPLIER"
	EnvPitchMaxBridgeFrames = "SHADOW_PITCH_MAX_BRIDGE_FRAMES"
	EnvRetentionCap         = "SHADOW_RETENTION_CAP"

	// Kafka fan-out of display events
	EnvKafkaBrokers = "SHADOW_KAFKA_BROKERS"
	EnvKafkaTopic   = "SHADOW_KAFKA_TOPIC"

	// Database filename
	DBFilename = "shadow.db"

	// Cut window defaults
	DefaultPadding = 0.10 // seconds

	// Decoder defaults
	DefaultAnalysisSampleRate = 48000
	DefaultAnalysisChannels   = 2
	DefaultPersistSampleRate  = 48000
	DefaultPersistChannels    = 2
	DefaultAnalysisTimeout    = 5 * time.Second
	DefaultPersistTimeout     = 10 * time.Second
	DefaultTrackFallback      = "index"
	DefaultTrackFallbackIndex = 1

	// Pitch tracker defaults
	DefaultPitchSampleRate      = 24000
	DefaultPitchFrameMs         = 40
	DefaultPitchHopMs           = 10
	DefaultPitchMinHz           = 70.0
	DefaultPitchMaxHz           = 350.0
	DefaultPitchThreshold       = 0.40
	DefaultPitchGateMultiplier  = 1.6
	DefaultPitchMaxBridgeFrames = 2

	// Output defaults
	DefaultRetentionCap = 5
	DefaultKafkaTopic   = "shadow.cycles"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	OutputDir() string
	SocketPath() string
	TriggerMessage() string
	FFmpegPath() string

	Padding() float64
	AnalysisSampleRate() int
	AnalysisChannels() int
	PersistSampleRate() int
	PersistChannels() int
	AnalysisTimeout() time.Duration
	PersistTimeout() time.Duration
	TrackFallback() string
	TrackFallbackIndex() int

	PitchSampleRate() int
	PitchFrameMs() int
	PitchHopMs() int
	PitchMinHz() float64
	PitchMaxHz() float64
	PitchThreshold() float64
	PitchGateMultiplier() float64
	PitchMaxBridgeFrames() int

	RetentionCap() int
	KafkaBrokers() []string
	KafkaTopic() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port           int
	logLevel       string
	dataDir        string
	outputDir      string
	socketPath     string
	triggerMessage string
	ffmpegPath     string

	padding            float64
	analysisSampleRate int
	analysisChannels   int
	persistSampleRate  int
	persistChannels    int
	analysisTimeout    time.Duration
	persistTimeout     time.Duration
	trackFallback      string
	trackFallbackIndex int

	pitchSampleRate      int
	pitchFrameMs         int
	pitchHopMs           int
	pitchMinHz           float64
	pitchMaxHz           float64
	pitchThreshold       float64
	pitchGateMultiplier  float64
	pitchMaxBridgeFrames int

	retentionCap int
	kafkaBrokers []string
	kafkaTopic   string
}

// Overrides carries values set on the command line. Zero values are ignored.
type Overrides struct {
	Port       int
	LogLevel   string
	SocketPath string
	OutputDir  string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:           DefaultPort,
		logLevel:       DefaultLogLevel,
		dataDir:        defaultDataDir(),
		socketPath:     DefaultSocketPath,
		triggerMessage: DefaultTriggerMessage,
		ffmpegPath:     DefaultFFmpegPath,

		padding:            DefaultPadding,
		analysisSampleRate: DefaultAnalysisSampleRate,
		analysisChannels:   DefaultAnalysisChannels,
		persistSampleRate:  DefaultPersistSampleRate,
		persistChannels:    DefaultPersistChannels,
		analysisTimeout:    DefaultAnalysisTimeout,
		persistTimeout:     DefaultPersistTimeout,
		trackFallback:      DefaultTrackFallback,
		trackFallbackIndex: DefaultTrackFallbackIndex,

		pitchSampleRate:      DefaultPitchSampleRate,
		pitchFrameMs:         DefaultPitchFrameMs,
		pitchHopMs:           DefaultPitchHopMs,
		pitchMinHz:           DefaultPitchMinHz,
		pitchMaxHz:           DefaultPitchMaxHz,
		pitchThreshold:       DefaultPitchThreshold,
		pitchGateMultiplier:  DefaultPitchGateMultiplier,
		pitchMaxBridgeFrames: DefaultPitchMaxBridgeFrames,

		retentionCap: DefaultRetentionCap,
		kafkaTopic:   DefaultKafkaTopic,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}
	if od := os.Getenv(EnvOutputDir); od != "" {
		cfg.outputDir = od
	}
	if sp := os.Getenv(EnvSocketPath); sp != "" {
		cfg.socketPath = sp
	}
	if tm := os.Getenv(EnvTriggerMessage); tm != "" {
		cfg.triggerMessage = tm
	}
	if fp := os.Getenv(EnvFFmpegPath); fp != "" {
		cfg.ffmpegPath = fp
	}
	if fb := os.Getenv(EnvTrackFallback); fb != "" {
		switch fb {
		case "index", "first", "fail":
			cfg.trackFallback = fb
		default:
			return nil, fmt.Errorf("invalid %s: must be one of index, first, fail", EnvTrackFallback)
		}
	}
	if kb := os.Getenv(EnvKafkaBrokers); kb != "" {
		for _, b := range strings.Split(kb, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.kafkaBrokers = append(cfg.kafkaBrokers, b)
			}
		}
	}
	if kt := os.Getenv(EnvKafkaTopic); kt != "" {
		cfg.kafkaTopic = kt
	}

	ints := []struct {
		env string
		dst *int
		min int
	}{
		{EnvAnalysisSampleRate, &cfg.analysisSampleRate, 8000},
		{EnvAnalysisChannels, &cfg.analysisChannels, 1},
		{EnvPersistSampleRate, &cfg.persistSampleRate, 8000},
		{EnvPersistChannels, &cfg.persistChannels, 1},
		{EnvTrackFallbackIndex, &cfg.trackFallbackIndex, 0},
		{EnvPitchSampleRate, &cfg.pitchSampleRate, 8000},
		{EnvPitchFrameMs, &cfg.pitchFrameMs, 5},
		{EnvPitchHopMs, &cfg.pitchHopMs, 1},
		{EnvPitchMaxBridgeFrames, &cfg.pitchMaxBridgeFrames, 0},
		{EnvRetentionCap, &cfg.retentionCap, 1},
	}
	for _, f := range ints {
		if err := envInt(f.env, f.dst, f.min); err != nil {
			return nil, err
		}
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{EnvPadding, &cfg.padding},
		{EnvPitchMinHz, &cfg.pitchMinHz},
		{EnvPitchMaxHz, &cfg.pitchMaxHz},
		{EnvPitchThreshold, &cfg.pitchThreshold},
		{EnvPitchGateMultiplier, &cfg.pitchGateMultiplier},
	}
	for _, f := range floats {
		if err := envFloat(f.env, f.dst); err != nil {
			return nil, err
		}
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvAnalysisTimeout, &cfg.analysisTimeout},
		{EnvPersistTimeout, &cfg.persistTimeout},
	}
	for _, f := range durations {
		if err := envDuration(f.env, f.dst); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *EnvConfig) validate() error {
	if c.pitchMinHz <= 0 || c.pitchMaxHz <= c.pitchMinHz {
		return fmt.Errorf("invalid pitch range: %s must be positive and below %s", EnvPitchMinHz, EnvPitchMaxHz)
	}
	if c.pitchThreshold <= 0 || c.pitchThreshold >= 1 {
		return fmt.Errorf("invalid %s: must be in (0, 1)", EnvPitchThreshold)
	}
	if c.pitchHopMs > c.pitchFrameMs {
		return fmt.Errorf("invalid %s: hop must not exceed frame size", EnvPitchHopMs)
	}
	if c.analysisSampleRate%c.pitchSampleRate != 0 {
		return fmt.Errorf("invalid %s: must divide %s", EnvPitchSampleRate, EnvAnalysisSampleRate)
	}
	if c.padding < 0 {
		return fmt.Errorf("invalid %s: must not be negative", EnvPadding)
	}
	return nil
}

// ApplyOverrides applies command-line values on top of the environment.
func (c *EnvConfig) ApplyOverrides(o Overrides) error {
	if o.Port != 0 {
		if o.Port < 1 || o.Port > 65535 {
			return fmt.Errorf("invalid port %d: must be between 1 and 65535", o.Port)
		}
		c.port = o.Port
	}
	if o.LogLevel != "" {
		c.logLevel = o.LogLevel
	}
	if o.SocketPath != "" {
		c.socketPath = o.SocketPath
	}
	if o.OutputDir != "" {
		c.outputDir = o.OutputDir
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// OutputDir returns the directory holding audio artifacts and the cycle log.
// Defaults to <data dir>/out.
func (c *EnvConfig) OutputDir() string {
	if c.outputDir != "" {
		return c.outputDir
	}
	return filepath.Join(c.dataDir, "out")
}

// SocketPath returns the mpv JSON IPC socket path
func (c *EnvConfig) SocketPath() string {
	return c.socketPath
}

// TriggerMessage returns the client-message name that starts a cut cycle
func (c *EnvConfig) TriggerMessage() string {
	return c.triggerMessage
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) Padding() float64 {
	return c.padding
}

func (c *EnvConfig) AnalysisSampleRate() int {
	return c.analysisSampleRate
}

func (c *EnvConfig) AnalysisChannels() int {
	return c.analysisChannels
}

func (c *EnvConfig) PersistSampleRate() int {
	return c.persistSampleRate
}

func (c *EnvConfig) PersistChannels() int {
	return c.persistChannels
}

func (c *EnvConfig) AnalysisTimeout() time.Duration {
	return c.analysisTimeout
}

func (c *EnvConfig) PersistTimeout() time.Duration {
	return c.persistTimeout
}

// TrackFallback returns the policy used when the selected audio track has no
// absolute demuxer index: index, first or fail.
func (c *EnvConfig) TrackFallback() string {
	return c.trackFallback
}

func (c *EnvConfig) TrackFallbackIndex() int {
	return c.trackFallbackIndex
}

func (c *EnvConfig) PitchSampleRate() int {
	return c.pitchSampleRate
}

func (c *EnvConfig) PitchFrameMs() int {
	return c.pitchFrameMs
}

func (c *EnvConfig) PitchHopMs() int {
	return c.pitchHopMs
}

func (c *EnvConfig) PitchMinHz() float64 {
	return c.pitchMinHz
}

func (c *EnvConfig) PitchMaxHz() float64 {
	return c.pitchMaxHz
}

func (c *EnvConfig) PitchThreshold() float64 {
	return c.pitchThreshold
}

func (c *EnvConfig) PitchGateMultiplier() float64 {
	return c.pitchGateMultiplier
}

func (c *EnvConfig) PitchMaxBridgeFrames() int {
	return c.pitchMaxBridgeFrames
}

// RetentionCap returns how many historical artifacts are kept per category
func (c *EnvConfig) RetentionCap() int {
	return c.retentionCap
}

// KafkaBrokers returns the broker list; empty disables the Kafka sink
func (c *EnvConfig) KafkaBrokers() []string {
	return c.kafkaBrokers
}

func (c *EnvConfig) KafkaTopic() string {
	return c.kafkaTopic
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func envInt(name string, dst *int, min int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < min {
		return fmt.Errorf("invalid %s: must be at least %d", name, min)
	}
	*dst = n
	return nil
}

func envFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = f
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("invalid %s: must be positive", name)
	}
	*dst = d
	return nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
