package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shadowkit/shadow-agent/internal/display"
	"github.com/shadowkit/shadow-agent/internal/media"
	"github.com/shadowkit/shadow-agent/internal/pitch"
)

// Trigger is one observed trigger event. It is consumed by exactly one cycle.
type Trigger struct {
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
	Event string    `json:"event"`
}

// FastResult is the one-shot outcome of a cycle's fast path.
type FastResult struct {
	Event      display.Event
	Err        error
	Superseded bool
}

// PersistResult is the one-shot outcome of a cycle's persistence stream.
type PersistResult struct {
	Path       string
	LatestPath string
	Err        error
}

// Cycle is the handle for one cut cycle. Both result channels deliver at
// most one value and are then closed; Persisted closes without a value when
// the cycle ended before persistence started.
type Cycle struct {
	Trigger Trigger

	ctx    context.Context
	cancel context.CancelFunc

	fast      chan FastResult
	persisted chan PersistResult
	fastDone  chan struct{}

	mu         sync.Mutex
	superseded bool
	snap       *media.Snapshot
	window     media.CutWindow
	track      media.TrackSelection
	analysis   *pitch.Result
	firstByte  time.Duration
	fastErr    error
}

func newCycle(parent context.Context, tr Trigger) *Cycle {
	ctx, cancel := context.WithCancel(parent)
	return &Cycle{
		Trigger:   tr,
		ctx:       ctx,
		cancel:    cancel,
		fast:      make(chan FastResult, 1),
		persisted: make(chan PersistResult, 1),
		fastDone:  make(chan struct{}),
	}
}

func (c *Cycle) ID() string { return c.Trigger.ID }

// FastPath delivers the analysis outcome.
func (c *Cycle) FastPath() <-chan FastResult { return c.fast }

// Persisted delivers the persistence outcome.
func (c *Cycle) Persisted() <-chan PersistResult { return c.persisted }

// supersede cancels the fast path. Persistence is not affected.
func (c *Cycle) supersede() {
	c.mu.Lock()
	c.superseded = true
	c.mu.Unlock()
	c.cancel()
}

func (c *Cycle) isSuperseded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.superseded
}

func (c *Cycle) setResolved(snap *media.Snapshot, w media.CutWindow, track media.TrackSelection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap, c.window, c.track = snap, w, track
}

func (c *Cycle) setAnalysis(analysis *pitch.Result, firstByte time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analysis, c.firstByte = analysis, firstByte
}

// finishFast records the analysis outcome and releases the persistence
// goroutine waiting on it.
func (c *Cycle) finishFast(res FastResult, analysis *pitch.Result, firstByte time.Duration) {
	c.mu.Lock()
	c.analysis = analysis
	c.firstByte = firstByte
	c.fastErr = res.Err
	c.mu.Unlock()

	c.fast <- res
	close(c.fast)
	close(c.fastDone)
	c.cancel()
}

// view is a consistent copy of the cycle's fields.
type view struct {
	snap       *media.Snapshot
	window     media.CutWindow
	track      media.TrackSelection
	analysis   *pitch.Result
	firstByte  time.Duration
	fastErr    error
	superseded bool
}

func (c *Cycle) view() view {
	c.mu.Lock()
	defer c.mu.Unlock()
	return view{
		snap:       c.snap,
		window:     c.window,
		track:      c.track,
		analysis:   c.analysis,
		firstByte:  c.firstByte,
		fastErr:    c.fastErr,
		superseded: c.superseded,
	}
}
