package display

import (
	"io"
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the channel capacity used by Subscribe.
const DefaultSubscriberBuffer = 16

// Hub fans events out to subscribers and keeps the newest cycle's view.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	latest *Event
	closed bool
	logger *slog.Logger

	dropped int
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = discardLogger()
	}
	return &Hub{subs: make(map[int]chan Event), logger: logger}
}

// Publish delivers ev. An analysis event older than the newest cycle already
// shown is stale and dropped; persistence and mic updates always reach
// subscribers but only merge into Latest when they belong to its cycle.
// Publish reports whether the event was delivered.
func (h *Hub) Publish(ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	switch {
	case h.latest == nil:
		if ev.Kind == KindAnalysis {
			h.setLatest(ev)
		}
	case ev.CycleID == h.latest.CycleID:
		h.mergeLatest(ev)
	case ev.Kind == KindAnalysis:
		if ev.TriggeredAt.Before(h.latest.TriggeredAt) {
			h.logger.Debug("dropping stale analysis event", "cycle_id", ev.CycleID, "latest", h.latest.CycleID)
			return false
		}
		h.setLatest(ev)
	}

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
			h.logger.Warn("display subscriber too slow, event dropped", "subscriber", id, "kind", ev.Kind)
		}
	}
	return true
}

func (h *Hub) setLatest(ev Event) {
	cp := ev
	cp.F0Hz = append([]float64(nil), ev.F0Hz...)
	h.latest = &cp
}

// mergeLatest folds a same-cycle update into the latest view.
func (h *Hub) mergeLatest(ev Event) {
	switch ev.Kind {
	case KindAnalysis:
		h.setLatest(ev)
	case KindPersisted:
		if ev.SourcePath != "" {
			h.latest.SourcePath = ev.SourcePath
		}
		if ev.LatestPath != "" {
			h.latest.LatestPath = ev.LatestPath
		}
		if ev.Error != "" {
			h.latest.Error = ev.Error
		}
	case KindMic:
		h.latest.MicPath = ev.MicPath
	}
}

// Latest returns the newest cycle's merged view.
func (h *Hub) Latest() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return Event{}, false
	}
	cp := *h.latest
	cp.F0Hz = append([]float64(nil), h.latest.F0Hz...)
	return cp, true
}

// Subscribe registers a listener. The returned cancel function unregisters
// it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
