package wav

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	const rate = 16000
	samples := make([]float32, rate) // 1 s mono
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	if err := Encode(f, samples, rate, 1); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f.Close()

	r, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	clip, err := Decode(r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.SampleRate != rate || clip.Channels != 1 || clip.BitDepth != 16 {
		t.Errorf("format = %d Hz, %d ch, %d bit", clip.SampleRate, clip.Channels, clip.BitDepth)
	}
	if len(clip.Samples) != len(samples) {
		t.Fatalf("samples = %d, want %d", len(clip.Samples), len(samples))
	}
	for i := range samples {
		if math.Abs(float64(clip.Samples[i]-samples[i])) > 1.0/16384 {
			t.Fatalf("sample %d = %v, want %v", i, clip.Samples[i], samples[i])
		}
	}
	if clip.Duration() != time.Second {
		t.Errorf("Duration() = %v, want 1s", clip.Duration())
	}
}

func TestEncode_ClipsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loud.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Encode(f, []float32{2, -2, 0, 0}, 8000, 2); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f.Close()

	r, _ := os.Open(path)
	defer r.Close()
	clip, err := Decode(r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if clip.Samples[0] < 0.99 || clip.Samples[1] > -0.99 {
		t.Errorf("samples = %v, want clipped to full scale", clip.Samples)
	}
	if clip.Channels != 2 {
		t.Errorf("channels = %d, want 2", clip.Channels)
	}
}

func TestDecode_NotWAV(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not a riff file at all")))
	if !errors.Is(err, ErrInvalidFile) {
		t.Errorf("err = %v, want ErrInvalidFile", err)
	}
}

func TestDecode_RejectsNonPCM(t *testing.T) {
	tests := []struct {
		name   string
		format int
	}{
		{"ieee float", 3},
		{"extensible", 0xFFFE},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "take.wav")
			f, err := os.Create(path)
			if err != nil {
				t.Fatal(err)
			}
			enc := gowav.NewEncoder(f, 16000, 32, 1, tt.format)
			buf := &audio.IntBuffer{
				Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
				Data:           make([]int, 1600),
				SourceBitDepth: 32,
			}
			for i := range buf.Data {
				buf.Data[i] = int(math.Float32bits(float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/16000))))
			}
			if err := enc.Write(buf); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := enc.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			f.Close()

			r, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			if _, err := Decode(r); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("err = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
}
