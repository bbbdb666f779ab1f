// Package engine turns trigger events from the player into cut cycles:
// resolve what is on screen, decode and analyse the line, publish the
// result, and persist the clip in the background.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shadowkit/shadow-agent/internal/catalog"
	"github.com/shadowkit/shadow-agent/internal/display"
	"github.com/shadowkit/shadow-agent/internal/logging"
	"github.com/shadowkit/shadow-agent/internal/media"
	"github.com/shadowkit/shadow-agent/internal/metrics"
	"github.com/shadowkit/shadow-agent/internal/mpv"
	"github.com/shadowkit/shadow-agent/internal/output"
	"github.com/shadowkit/shadow-agent/internal/pipelines"
	"github.com/shadowkit/shadow-agent/internal/pitch"
)

// DefaultNoticeDuration is how long on-screen notices stay up.
const DefaultNoticeDuration = 1200 * time.Millisecond

// Player is the control-channel surface the engine needs.
type Player interface {
	media.PropertyGetter
	ShowText(ctx context.Context, msg string, d time.Duration) error
	Events(ctx context.Context) iter.Seq[mpv.Event]
}

// Output stores artifacts and the cycle log. Implemented by *output.Manager.
type Output interface {
	PathFor(base string, w media.CutWindow, category catalog.Category) string
	Commit(ctx context.Context, category catalog.Category, cycleID, path string, w media.CutWindow) (*output.CommitResult, error)
	Store(ctx context.Context, category catalog.Category, cycleID, base string, w media.CutWindow, r io.Reader) (*output.CommitResult, error)
	AppendLog(rec output.LogRecord)
}

// CycleStore keeps cycle records. Implemented by *catalog.SQLiteRepository.
type CycleStore interface {
	SaveCycle(ctx context.Context, c *catalog.Cycle) error
	GetCycle(ctx context.Context, id string) (*catalog.Cycle, error)
}

// Publisher receives display events. Implemented by *display.Hub.
type Publisher interface {
	Publish(ev display.Event) bool
}

type Config struct {
	TriggerMessage string
	Padding        float64
	TrackPolicy    media.TrackPolicy
	Pitch          pitch.Config // input format must match the analysis stream
	NoticeDuration time.Duration
}

type Options struct {
	Config    Config
	Player    Player
	Runner    pipelines.Runner
	Output    Output
	Store     CycleStore // optional
	Publisher Publisher
	Metrics   *metrics.Metrics // optional
	Logger    *slog.Logger
}

// Status is a point-in-time view of the engine.
type Status struct {
	State           State     `json:"state"`
	Paused          bool      `json:"paused"`
	PersistInFlight int       `json:"persist_in_flight"`
	LastCycleID     string    `json:"last_cycle_id,omitempty"`
	LastTriggerAt   time.Time `json:"last_trigger_at,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
}

type Engine struct {
	cfg      Config
	player   Player
	runner   pipelines.Runner
	out      Output
	store    CycleStore
	pub      Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	resolver *media.Resolver
	now      func() time.Time

	mu          sync.Mutex
	state       State
	current     *Cycle
	lastCycleID string
	lastTrigger time.Time
	lastErr     string

	paused   atomic.Bool
	inFlight atomic.Int32

	// rowMu serialises read-modify-write of cycle rows between the
	// persistence path and mic uploads.
	rowMu sync.Mutex

	persistWG     sync.WaitGroup
	persistCtx    context.Context
	persistCancel context.CancelFunc
}

func New(opts Options) (*Engine, error) {
	if opts.Player == nil || opts.Runner == nil || opts.Output == nil || opts.Publisher == nil {
		return nil, errors.New("engine: player, runner, output and publisher are required")
	}
	if err := opts.Config.Pitch.Validate(); err != nil {
		return nil, fmt.Errorf("engine: pitch config: %w", err)
	}
	if opts.Config.Padding < 0 {
		return nil, errors.New("engine: padding must not be negative")
	}
	if opts.Config.TriggerMessage == "" {
		return nil, errors.New("engine: trigger message is required")
	}
	if opts.Config.NoticeDuration <= 0 {
		opts.Config.NoticeDuration = DefaultNoticeDuration
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	pctx, pcancel := context.WithCancel(context.Background())
	logger := logging.WithComponent(opts.Logger, "engine")
	return &Engine{
		cfg:           opts.Config,
		player:        opts.Player,
		runner:        opts.Runner,
		out:           opts.Output,
		store:         opts.Store,
		pub:           opts.Publisher,
		metrics:       opts.Metrics,
		logger:        logger,
		resolver:      media.NewResolver(opts.Player, opts.Config.TrackPolicy, logger),
		now:           time.Now,
		persistCtx:    pctx,
		persistCancel: pcancel,
	}, nil
}

// Run consumes player events until ctx is cancelled, starting a cycle for
// every trigger message. The player is re-queried on each trigger; nothing
// in the message beyond its name is trusted.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started", "trigger", e.cfg.TriggerMessage)
	for ev := range e.player.Events(ctx) {
		if ev.Name != mpv.EventClientMessage || ev.Message() != e.cfg.TriggerMessage {
			continue
		}
		e.Trigger(ctx, ev.Name)
	}
	e.logger.Info("engine stopped")
	return ctx.Err()
}

// Trigger starts a new cycle, superseding the one in flight. While paused the
// trigger is acknowledged on screen and nil is returned.
func (e *Engine) Trigger(ctx context.Context, source string) *Cycle {
	if e.paused.Load() {
		if e.metrics != nil {
			e.metrics.TriggersIgnored.Inc()
		}
		e.notice("paused")
		return nil
	}

	tr := Trigger{ID: uuid.NewString(), At: e.now(), Event: source}
	if e.metrics != nil {
		e.metrics.TriggersTotal.Inc()
	}

	c := newCycle(ctx, tr)

	e.mu.Lock()
	// Only a fast path still in flight is superseded. A cycle whose result
	// is already published keeps persisting and completes normally.
	if prev := e.current; prev != nil && (e.state == StateResolving || e.state == StateFastPathRunning) {
		prev.supersede()
		if e.metrics != nil {
			e.metrics.CyclesSuperseded.Inc()
		}
		e.logger.Info("cycle superseded", "cycle_id", prev.ID(), "by", tr.ID)
	}
	e.current = c
	e.state = StateResolving
	e.lastCycleID = tr.ID
	e.lastTrigger = tr.At
	e.mu.Unlock()

	go e.runCycle(c)
	return c
}

func (e *Engine) runCycle(c *Cycle) {
	log := logging.WithCycleID(e.logger, c.ID())
	started := e.now()

	snap, w, track, err := e.resolve(c.ctx)
	if err != nil {
		close(c.persisted)
		if c.isSuperseded() {
			c.finishFast(FastResult{Superseded: true, Err: context.Canceled}, nil, 0)
			return
		}
		reason, msg := preconditionReason(err)
		log.Info("cycle aborted", "reason", reason, "error", err)
		if e.metrics != nil {
			e.metrics.RecordPrecondition(reason)
		}
		e.notice(msg)
		e.endFast(c, err)
		c.finishFast(FastResult{Err: err}, nil, 0)
		return
	}
	c.setResolved(snap, w, track)

	if c.isSuperseded() {
		close(c.persisted)
		c.finishFast(FastResult{Superseded: true, Err: context.Canceled}, nil, 0)
		return
	}

	req := pipelines.Request{Source: snap.Path, Window: w, Track: track}
	outPath := e.out.PathFor(snap.BaseName(), w, catalog.CategorySource)

	e.persistWG.Add(1)
	e.inFlight.Add(1)
	go e.runPersist(c, req, outPath)

	e.setState(c, StateFastPathRunning)
	log.Info("cycle started", "window", w.String(), "track", track.Map, "path", logging.SanitizePath(snap.Path))

	est, err := pitch.NewEstimator(e.cfg.Pitch)
	if err != nil {
		// Validated in New; only reachable if the config is mutated.
		e.endFast(c, err)
		c.finishFast(FastResult{Err: err}, nil, 0)
		return
	}

	result, err := e.runner.RunAnalysis(c.ctx, req, est.Write)
	if err != nil {
		if c.isSuperseded() {
			log.Debug("analysis cancelled by newer trigger")
			c.finishFast(FastResult{Superseded: true, Err: err}, nil, 0)
			return
		}
		log.Warn("analysis failed", "error", err)
		if e.metrics != nil {
			e.metrics.RecordDecodeError(string(pipelines.StreamAnalysis))
		}
		e.notice("analysis failed")
		e.endFast(c, err)
		c.finishFast(FastResult{Err: err}, nil, result.FirstByte)
		return
	}

	lead, trail := w.Margins(snap.SubStart, snap.SubEnd)
	res := est.Finish(pitch.Edges{Lead: lead, Trail: trail})
	ev := analysisEvent(c.Trigger, snap, w, track, &res, result.FirstByte)

	// Publishing and the state change happen under the lock so a newer
	// trigger either supersedes this cycle first or sees it as done.
	e.mu.Lock()
	if c.isSuperseded() || e.current != c {
		e.mu.Unlock()
		c.finishFast(FastResult{Superseded: true, Err: context.Canceled}, &res, result.FirstByte)
		return
	}
	e.pub.Publish(ev)
	e.state = StateFastPathDone
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.FirstByteLatency.Observe(result.FirstByte.Seconds())
		e.metrics.FastPathDuration.Observe(e.now().Sub(started).Seconds())
	}
	log.Info("fast path done",
		"first_byte_ms", result.FirstByte.Milliseconds(),
		"rms", res.RMS,
		"voiced_pct", res.VoicedPct,
		"f0_median_hz", res.F0MedianHz)

	e.notice(fmt.Sprintf("cut %s (%s)%s", w.String(), track.Map, f0Suffix(res.F0MedianHz)))
	// Saved before the fast path is released so the persistence stream's
	// final status always lands last.
	c.setAnalysis(&res, result.FirstByte)
	e.saveCycle(c, catalog.CycleStatusPersisting, "", "")
	c.finishFast(FastResult{Event: ev}, &res, result.FirstByte)
}

// resolve captures the snapshot, selects the track and computes the window.
func (e *Engine) resolve(ctx context.Context) (*media.Snapshot, media.CutWindow, media.TrackSelection, error) {
	snap, err := e.resolver.Resolve(ctx)
	if err != nil {
		return nil, media.CutWindow{}, media.TrackSelection{}, err
	}
	track, err := e.resolver.SelectTrack(snap.Tracks)
	if err != nil {
		return nil, media.CutWindow{}, media.TrackSelection{}, err
	}
	w, err := media.ComputeWindow(snap.SubStart, snap.SubEnd, snap.Duration, e.cfg.Padding)
	if err != nil {
		return nil, media.CutWindow{}, media.TrackSelection{}, err
	}
	return snap, w, track, nil
}

// runPersist writes the source clip. It runs on the engine's persistence
// context so superseding the cycle never aborts it.
func (e *Engine) runPersist(c *Cycle, req pipelines.Request, outPath string) {
	defer e.persistWG.Done()
	defer e.inFlight.Add(-1)

	log := logging.WithCycleID(e.logger, c.ID())
	if e.metrics != nil {
		e.metrics.RecordPersistStart()
	}
	result, err := e.runner.RunPersist(e.persistCtx, req, outPath)
	if e.metrics != nil {
		e.metrics.RecordPersistEnd(result.Duration.Seconds())
	}

	var pr PersistResult
	if err != nil {
		log.Warn("persistence failed", "error", err)
		if e.metrics != nil {
			e.metrics.RecordDecodeError(string(pipelines.StreamPersist))
		}
		e.notice("saving clip failed")
		pr.Err = err
	} else {
		commit, cerr := e.out.Commit(e.persistCtx, catalog.CategorySource, c.ID(), result.OutputPath, req.Window)
		pr.Path = result.OutputPath
		if cerr != nil {
			log.Warn("failed to record artifact", "error", cerr)
			pr.Err = cerr
		} else {
			pr.LatestPath = commit.LatestPath
		}
	}

	// The log record and the cycle row carry the analysis metrics, so wait
	// for the fast path of this cycle to settle first.
	select {
	case <-c.fastDone:
	case <-e.persistCtx.Done():
	}

	v := c.view()
	status := catalog.CycleStatusCompleted
	switch {
	case pr.Err != nil:
		status = catalog.CycleStatusFailed
	case v.superseded:
		status = catalog.CycleStatusSuperseded
	case v.fastErr != nil:
		status = catalog.CycleStatusFailed
	}
	errMsg := errorString(pr.Err)
	if errMsg == "" && !v.superseded {
		errMsg = errorString(v.fastErr)
	}

	e.out.AppendLog(logRecord(c.Trigger, v, status, pr, errMsg))
	e.saveCycle(c, status, pr.Path, errMsg)

	ev := baseEvent(display.KindPersisted, c.Trigger, v.snap, v.window, v.track)
	ev.SourcePath = pr.Path
	ev.LatestPath = pr.LatestPath
	ev.Error = errorString(pr.Err)
	e.pub.Publish(ev)

	e.mu.Lock()
	if e.current == c && e.state == StateFastPathDone {
		e.state = StateIdle
	}
	e.mu.Unlock()

	c.persisted <- pr
	close(c.persisted)
}

// endFast returns the engine to Idle after a failed fast path, unless a
// newer cycle has taken over.
func (e *Engine) endFast(c *Cycle, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.lastErr = err.Error()
	}
	if e.current == c {
		e.state = StateIdle
	}
}

func (e *Engine) setState(c *Cycle, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == c {
		e.state = s
	}
}

func (e *Engine) saveCycle(c *Cycle, status, sourcePath, errMsg string) {
	if e.store == nil {
		return
	}
	v := c.view()
	rec := cycleRecord(c.Trigger, v, status, sourcePath, errMsg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.rowMu.Lock()
	defer e.rowMu.Unlock()
	if existing, err := e.store.GetCycle(ctx, rec.ID); err == nil && existing != nil {
		rec.MicPath = existing.MicPath
		rec.MicRMS = existing.MicRMS
		rec.MicF0MedianHz = existing.MicF0MedianHz
		rec.MicVoicedPct = existing.MicVoicedPct
		if rec.SourcePath == "" {
			rec.SourcePath = existing.SourcePath
		}
	}
	if err := e.store.SaveCycle(ctx, rec); err != nil {
		e.logger.Warn("failed to save cycle", "cycle_id", c.ID(), "error", err)
	}
}

// notice shows a short message on the player's screen. It outlives the
// cycle's own context so aborts are still acknowledged.
func (e *Engine) notice(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.player.ShowText(ctx, "shadow: "+msg, e.cfg.NoticeDuration); err != nil {
		e.logger.Debug("show-text failed", "error", err)
	}
}

// Pause stops new triggers from starting cycles.
func (e *Engine) Pause() {
	e.paused.Store(true)
	e.logger.Info("trigger handling paused")
}

func (e *Engine) Resume() {
	e.paused.Store(false)
	e.logger.Info("trigger handling resumed")
}

func (e *Engine) IsPaused() bool {
	return e.paused.Load()
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:           e.state,
		Paused:          e.paused.Load(),
		PersistInFlight: int(e.inFlight.Load()),
		LastCycleID:     e.lastCycleID,
		LastTriggerAt:   e.lastTrigger,
		LastError:       e.lastErr,
	}
}

// Shutdown cancels the fast path in flight and waits for persistence until
// ctx ends, after which running persistence decoders are killed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.current != nil {
		e.current.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.persistWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.persistCancel()
		return nil
	case <-ctx.Done():
		e.logger.Warn("shutdown deadline reached, killing persistence", "in_flight", e.inFlight.Load())
		e.persistCancel()
		<-done
		return ctx.Err()
	}
}

func preconditionReason(err error) (reason, msg string) {
	switch {
	case errors.Is(err, media.ErrNoSubtitle):
		return "no_subtitle", "no active subtitle"
	case errors.Is(err, media.ErrNoAudioTrack):
		return "no_audio_track", "no audio track selected"
	case errors.Is(err, media.ErrNoMedia):
		return "no_media", "no media loaded"
	case errors.Is(err, media.ErrDegenerateWindow):
		return "degenerate_window", "subtitle too short to cut"
	default:
		return "player", "player not responding"
	}
}

func f0Suffix(f0 *float64) string {
	if f0 == nil {
		return ""
	}
	return fmt.Sprintf(" F0 %.0f Hz", *f0)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
