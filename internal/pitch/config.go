// Package pitch computes loudness and a fundamental-frequency contour from
// decoded audio using a normalised square difference function (NSDF) tracker.
//
// Samples are fed incrementally with Write as the decoder produces them;
// Finish applies the energy gate, bridges short gaps and summarises.
package pitch

import (
	"errors"
	"fmt"
	"math"
)

// Config parameterises the estimator.
type Config struct {
	InputRate     int // Hz of the interleaved input
	InputChannels int // channels of the interleaved input

	TargetRate      int     // desired tracker rate; input is decimated by InputRate/TargetRate
	FrameMs         int     // analysis frame length
	HopMs           int     // frame advance
	MinHz           float64 // lowest detectable F0
	MaxHz           float64 // highest detectable F0
	Threshold       float64 // minimum NSDF peak for a voiced candidate
	GateMultiplier  float64 // frame RMS must exceed noise floor times this
	MaxBridgeFrames int     // longest unvoiced run filled by interpolation
}

const (
	// dominance selects the first local NSDF maximum within this fraction of
	// the highest one, which avoids octave-down errors on strong harmonics.
	dominance = 0.9

	// noiseQuantile is the share of quietest frames averaged into the noise floor.
	noiseQuantile = 0.10

	// noiseCapRatio caps the noise floor relative to the loudest frame so a
	// steady signal is not gated against itself.
	noiseCapRatio = 0.10

	// minNoiseFloor keeps digital silence below the gate.
	minNoiseFloor = 1e-4

	// steadyClarity is the NSDF peak a frame needs to count as voiced when
	// the noise floor cap applied.
	steadyClarity = 0.85

	// continuationRatio scales Threshold for frames that extend a voiced run
	// already under way.
	continuationRatio = 0.75
)

// DefaultConfig returns the tracker defaults for a 48 kHz stereo stream.
func DefaultConfig() Config {
	return Config{
		InputRate:       48000,
		InputChannels:   2,
		TargetRate:      24000,
		FrameMs:         40,
		HopMs:           10,
		MinHz:           70,
		MaxHz:           350,
		Threshold:       0.40,
		GateMultiplier:  1.6,
		MaxBridgeFrames: 2,
	}
}

// WithInput returns a copy of c for a different input format. Used when the
// same tracker settings analyse an uploaded recording.
func (c Config) WithInput(rate, channels int) Config {
	c.InputRate = rate
	c.InputChannels = channels
	return c
}

func (c Config) continuationThreshold() float64 {
	return c.Threshold * continuationRatio
}

// decimation is the integer factor between input and tracker rate.
func (c Config) decimation() int {
	if c.TargetRate <= 0 || c.InputRate <= c.TargetRate {
		return 1
	}
	return c.InputRate / c.TargetRate
}

// SampleRate is the tracker rate after decimation.
func (c Config) SampleRate() float64 {
	return float64(c.InputRate) / float64(c.decimation())
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.InputRate <= 0 || c.InputChannels <= 0:
		return errors.New("input rate and channels must be positive")
	case c.FrameMs <= 0 || c.HopMs <= 0:
		return errors.New("frame and hop must be positive")
	case c.HopMs > c.FrameMs:
		return errors.New("hop must not exceed frame")
	case c.MinHz <= 0 || c.MaxHz <= c.MinHz:
		return fmt.Errorf("invalid frequency range %.1f-%.1f Hz", c.MinHz, c.MaxHz)
	case c.Threshold <= 0 || c.Threshold >= 1:
		return fmt.Errorf("threshold %.2f outside (0, 1)", c.Threshold)
	case c.MaxBridgeFrames < 0:
		return errors.New("bridge limit must not be negative")
	}

	sr := c.SampleRate()
	frame := c.frameSize()
	tauMax := int(math.Ceil(sr / c.MinHz))
	if tauMax+2 >= frame {
		return fmt.Errorf("frame of %d ms too short for %.1f Hz", c.FrameMs, c.MinHz)
	}
	return nil
}

func (c Config) frameSize() int {
	return int(c.SampleRate() * float64(c.FrameMs) / 1000)
}

func (c Config) hopSize() int {
	h := int(c.SampleRate() * float64(c.HopMs) / 1000)
	if h < 1 {
		return 1
	}
	return h
}
