package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shadowkit/shadow-agent/internal/mpv"
)

// Precondition failures. A cycle that hits one of these spawns nothing.
var (
	ErrNoSubtitle   = errors.New("no subtitle visible")
	ErrNoAudioTrack = errors.New("no audio track selected")
	ErrNoMedia      = errors.New("no media loaded")
)

// Fallback policies for a selected audio track that lacks an ff-index.
const (
	FallbackIndex = "index" // use TrackPolicy.DefaultIndex as the absolute stream index
	FallbackFirst = "first" // use the first audio stream of the input
	FallbackFail  = "fail"  // treat the track as unusable
)

// PropertyGetter reads player properties. Implemented by *mpv.Session and *mpv.Client.
type PropertyGetter interface {
	GetProperty(ctx context.Context, name string, dst any) error
}

// TrackPolicy configures track selection when ff-index is missing.
type TrackPolicy struct {
	Fallback     string
	DefaultIndex int
}

// TrackSelection is the audio stream both decoders are pointed at.
type TrackSelection struct {
	TrackID  int    `json:"track_id"`
	Index    int    `json:"index"` // absolute demuxer index, -1 when relative
	Map      string `json:"map"`   // decoder stream specifier, e.g. "0:1" or "0:a:0"
	Fallback bool   `json:"fallback"`
}

func absolute(trackID, index int, fallback bool) TrackSelection {
	return TrackSelection{TrackID: trackID, Index: index, Map: "0:" + strconv.Itoa(index), Fallback: fallback}
}

// Resolver captures a Snapshot from the player.
type Resolver struct {
	props  PropertyGetter
	policy TrackPolicy
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver reading from props.
func NewResolver(props PropertyGetter, policy TrackPolicy, logger *slog.Logger) *Resolver {
	return &Resolver{props: props, policy: policy, logger: logger, now: time.Now}
}

// Resolve queries the fixed property batch concurrently and assembles a
// Snapshot. Missing subtitle text or timing yields ErrNoSubtitle; a missing
// path yields ErrNoMedia.
func (r *Resolver) Resolve(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CapturedAt: r.now()}

	g, gctx := errgroup.WithContext(ctx)
	required := func(name string, dst any, missing error) {
		g.Go(func() error {
			err := r.props.GetProperty(gctx, name, dst)
			if errors.Is(err, mpv.ErrPropertyUnavailable) {
				return fmt.Errorf("%w: %s unavailable", missing, name)
			}
			return err
		})
	}
	optional := func(name string, dst any) {
		g.Go(func() error {
			err := r.props.GetProperty(gctx, name, dst)
			if errors.Is(err, mpv.ErrPropertyUnavailable) {
				return nil
			}
			return err
		})
	}

	required(mpv.PropSubText, &snap.SubText, ErrNoSubtitle)
	required(mpv.PropSubStart, &snap.SubStart, ErrNoSubtitle)
	required(mpv.PropSubEnd, &snap.SubEnd, ErrNoSubtitle)
	required(mpv.PropPath, &snap.Path, ErrNoMedia)
	required(mpv.PropTrackList, &snap.Tracks, ErrNoAudioTrack)
	optional(mpv.PropSubDelay, &snap.SubDelay)
	optional(mpv.PropTimePos, &snap.TimePos)
	optional(mpv.PropDuration, &snap.Duration)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(snap.SubText) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrNoSubtitle)
	}
	return snap, nil
}

// SelectTrack picks the audio track to decode. The first track in list order
// with type audio and selected=true is authoritative; further selected audio
// tracks are reported and ignored.
func (r *Resolver) SelectTrack(tracks []Track) (TrackSelection, error) {
	return SelectTrack(tracks, r.policy, r.logger)
}

// SelectTrack applies the selection rule with an explicit policy.
func SelectTrack(tracks []Track, policy TrackPolicy, logger *slog.Logger) (TrackSelection, error) {
	var chosen *Track
	selected := 0
	for i := range tracks {
		t := &tracks[i]
		if t.Type != TrackAudio || !t.Selected {
			continue
		}
		selected++
		if chosen == nil {
			chosen = t
		}
	}
	if chosen == nil {
		return TrackSelection{}, ErrNoAudioTrack
	}
	if selected > 1 {
		logger.Warn("multiple audio tracks selected, using the first", "track_id", chosen.ID, "selected", selected)
	}

	if chosen.FFIndex != nil {
		return absolute(chosen.ID, *chosen.FFIndex, false), nil
	}

	switch policy.Fallback {
	case FallbackFirst:
		logger.Warn("selected audio track has no ff-index, using first audio stream", "track_id", chosen.ID)
		return TrackSelection{TrackID: chosen.ID, Index: -1, Map: "0:a:0", Fallback: true}, nil
	case FallbackFail:
		return TrackSelection{}, fmt.Errorf("%w: track %d has no ff-index", ErrNoAudioTrack, chosen.ID)
	default:
		logger.Warn("selected audio track has no ff-index, using default index",
			"track_id", chosen.ID, "index", policy.DefaultIndex)
		return absolute(chosen.ID, policy.DefaultIndex, true), nil
	}
}
