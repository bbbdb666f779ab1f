package pitch

import (
	"math"
	"sort"
)

// Result is the summary of one analysed clip.
type Result struct {
	RMS        float64   `json:"rms"`
	Peak       float64   `json:"peak"`
	F0Hz       []float64 `json:"f0_hz"` // one entry per hop, Unvoiced for unvoiced frames
	F0MedianHz *float64  `json:"f0_median_hz"`
	VoicedPct  float64   `json:"voiced_pct"`
	HopMs      int       `json:"hop_ms"`
	NoiseFloor float64   `json:"noise_floor"`
	Samples    int64     `json:"samples"`
}

// Edges are the padding margins, in seconds, at both ends of the clip.
// Frames centred inside them do not count towards the voiced percentage.
type Edges struct {
	Lead  float64
	Trail float64
}

type frameStat struct {
	rms       float64
	candidate float64 // Hz from the NSDF peak, Unvoiced if none qualified
	weak      bool    // candidate only cleared the continuation threshold
	clarity   float64 // highest local NSDF maximum
}

// Estimator consumes interleaved float32 samples incrementally. It keeps
// only the current frame of decimated audio plus per-frame statistics.
// An Estimator is not safe for concurrent use.
type Estimator struct {
	cfg    Config
	sr     float64
	frame  int
	hop    int
	tauMin int
	tauMax int
	group  int // input samples averaged into one decimated sample

	sumSq   float64
	peak    float64
	samples int64

	acc  float64
	accN int

	buf       []float64
	pos       int
	decimated int64
	scratch   []float64
	frames    []frameStat
}

// NewEstimator creates an estimator for cfg.
func NewEstimator(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sr := cfg.SampleRate()
	tauMin := int(math.Floor(sr / cfg.MaxHz))
	if tauMin < 2 {
		tauMin = 2
	}
	tauMax := int(math.Ceil(sr / cfg.MinHz))
	if tauMax <= tauMin {
		tauMax = tauMin + 1
	}
	frame := cfg.frameSize()

	return &Estimator{
		cfg:     cfg,
		sr:      sr,
		frame:   frame,
		hop:     cfg.hopSize(),
		tauMin:  tauMin,
		tauMax:  tauMax,
		group:   cfg.decimation() * cfg.InputChannels,
		buf:     make([]float64, 0, frame*2),
		scratch: make([]float64, tauMax+1),
	}, nil
}

// Write feeds interleaved samples. Loudness is accumulated over every
// sample; pitch frames are analysed as soon as they are complete.
func (e *Estimator) Write(samples []float32) {
	for _, s := range samples {
		v := float64(s)
		e.sumSq += v * v
		if a := math.Abs(v); a > e.peak {
			e.peak = a
		}
		e.samples++

		e.acc += v
		e.accN++
		if e.accN == e.group {
			e.buf = append(e.buf, e.acc/float64(e.group))
			e.decimated++
			e.acc, e.accN = 0, 0
			e.drain()
		}
	}
}

// drain analyses every complete frame in the buffer.
func (e *Estimator) drain() {
	for len(e.buf)-e.pos >= e.frame {
		e.frames = append(e.frames, e.analyseFrame(e.buf[e.pos:e.pos+e.frame]))
		e.pos += e.hop
	}
	if e.pos >= e.frame {
		n := copy(e.buf, e.buf[e.pos:])
		e.buf = e.buf[:n]
		e.pos = 0
	}
}

func (e *Estimator) analyseFrame(frame []float64) frameStat {
	var sq float64
	for _, v := range frame {
		sq += v * v
	}
	st := frameStat{rms: math.Sqrt(sq / float64(len(frame)))}
	if sq == 0 {
		return st
	}

	nsdf(frame, e.tauMin, e.tauMax, e.scratch)
	st.clarity = highestPeak(e.scratch, e.tauMin, e.tauMax)
	lag, ok := pickPeak(e.scratch, e.tauMin, e.tauMax, e.cfg.Threshold)
	if !ok {
		lag, ok = pickPeak(e.scratch, e.tauMin, e.tauMax, e.cfg.continuationThreshold())
		st.weak = true
	}
	if ok && lag > 0 {
		if f := e.sr / lag; !math.IsInf(f, 0) && !math.IsNaN(f) && f > 0 {
			st.candidate = f
		}
	}
	return st
}

// Finish gates, bridges and summarises the frames seen so far.
func (e *Estimator) Finish(edges Edges) Result {
	res := Result{
		Peak:    e.peak,
		HopMs:   e.cfg.HopMs,
		Samples: e.samples,
		F0Hz:    []float64{},
	}
	if e.samples > 0 {
		res.RMS = math.Sqrt(e.sumSq / float64(e.samples))
	}
	if len(e.frames) == 0 {
		return res
	}

	floor, steady := noiseFloor(e.frames)
	gate := floor * e.cfg.GateMultiplier
	res.NoiseFloor = floor

	// A clip without quiet frames gives the energy gate nothing to work
	// with, so voicing there needs a clearly periodic frame.
	minClarity := 0.0
	if steady {
		minClarity = steadyClarity
	}
	res.F0Hz = BridgeGaps(voice(e.frames, gate, minClarity), e.cfg.MaxBridgeFrames)

	if m, ok := Median(res.F0Hz); ok {
		res.F0MedianHz = &m
	}
	res.VoicedPct = e.voicedPct(res.F0Hz, edges)
	return res
}

// voice turns frame candidates into a raw contour with hysteresis: a voiced
// run starts only on a frame that clears the full threshold and may continue
// through frames that clear the lower continuation threshold. Frames at or
// below the gate, or less periodic than minClarity, are unvoiced.
func voice(frames []frameStat, gate, minClarity float64) []float64 {
	raw := make([]float64, len(frames))
	voiced := false
	for i, f := range frames {
		voiced = f.candidate > 0 && f.rms > gate && f.clarity >= minClarity && (voiced || !f.weak)
		if voiced {
			raw[i] = f.candidate
		}
	}
	return raw
}

// voicedPct is the share of voiced frames among those centred outside the margins.
func (e *Estimator) voicedPct(series []float64, edges Edges) float64 {
	length := float64(e.decimated) / e.sr
	lo, hi := edges.Lead, length-edges.Trail

	counted, voiced := 0, 0
	for i, v := range series {
		center := (float64(i*e.hop) + float64(e.frame)/2) / e.sr
		if center < lo || center > hi {
			continue
		}
		counted++
		if v > Unvoiced {
			voiced++
		}
	}
	if counted == 0 {
		return 0
	}
	return 100 * float64(voiced) / float64(counted)
}

// noiseFloor estimates the background level as the mean RMS of the quietest
// frames, capped relative to the loudest frame and floored above zero.
// steady reports that the cap applied, meaning the clip has no frames quiet
// enough to stand for background.
func noiseFloor(frames []frameStat) (floor float64, steady bool) {
	levels := make([]float64, len(frames))
	for i, f := range frames {
		levels[i] = f.rms
	}
	sort.Float64s(levels)

	k := int(math.Ceil(noiseQuantile * float64(len(levels))))
	if k < 1 {
		k = 1
	}
	var sum float64
	for _, v := range levels[:k] {
		sum += v
	}
	floor = sum / float64(k)

	if limit := noiseCapRatio * levels[len(levels)-1]; floor > limit {
		floor = limit
		steady = true
	}
	if floor < minNoiseFloor {
		floor = minNoiseFloor
	}
	return floor, steady
}

// Analyze runs a complete estimation over an in-memory clip.
func Analyze(samples []float32, cfg Config, edges Edges) (Result, error) {
	e, err := NewEstimator(cfg)
	if err != nil {
		return Result{}, err
	}
	e.Write(samples)
	return e.Finish(edges), nil
}
