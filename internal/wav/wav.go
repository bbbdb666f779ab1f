// Package wav decodes recorded clips into interleaved float samples for
// the pitch estimator.
package wav

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

// formatPCM is the WAVE format tag for integer PCM. Float (3) and
// extensible (0xFFFE) files are refused since the decoder reads every
// sample as an integer.
const formatPCM = 1

var (
	// ErrInvalidFile is returned for input that is not a RIFF/WAVE file.
	ErrInvalidFile = errors.New("not a valid WAV file")

	// ErrUnsupportedFormat is returned for WAV files that are not integer PCM.
	ErrUnsupportedFormat = errors.New("unsupported WAV encoding")
)

// Clip is a decoded recording.
type Clip struct {
	Samples    []float32 // interleaved, normalised to [-1, 1)
	SampleRate int
	Channels   int
	BitDepth   int
}

// Duration returns the playing time of the clip.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(float64(frames) / float64(c.SampleRate) * float64(time.Second))
}

// Decode reads an integer PCM WAV file (16, 24 or 32 bit).
func Decode(r io.ReadSeeker) (*Clip, error) {
	d := gowav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrInvalidFile
	}
	if d.WavAudioFormat != formatPCM {
		return nil, fmt.Errorf("%w: format tag %#x", ErrUnsupportedFormat, d.WavAudioFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 || buf.Format.SampleRate == 0 {
		return nil, fmt.Errorf("%w: missing format chunk", ErrInvalidFile)
	}

	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}
	if depth != 16 && depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", depth)
	}

	return &Clip{
		Samples:    normalise(buf.Data, depth),
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   depth,
	}, nil
}

func normalise(data []int, depth int) []float32 {
	out := make([]float32, len(data))
	scale := float32(int64(1) << (depth - 1))
	for i, v := range data {
		out[i] = float32(v) / scale
	}
	return out
}

// Encode writes interleaved float samples as 16-bit PCM WAV.
func Encode(w io.WriteSeeker, samples []float32, sampleRate, channels int) error {
	enc := gowav.NewEncoder(w, sampleRate, 16, channels, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode pcm: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalise wav: %w", err)
	}
	return nil
}
