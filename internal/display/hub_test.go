package display

import (
	"sync"
	"testing"
	"time"
)

func analysis(id string, at time.Time, text string, f0 ...float64) Event {
	return Event{Kind: KindAnalysis, CycleID: id, TriggeredAt: at, Text: text, F0Hz: f0}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub(nil)
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelA()
	defer cancelB()

	h.Publish(analysis("c1", time.Now(), "hello", 200))

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.CycleID != "c1" {
				t.Errorf("cycle = %s, want c1", ev.CycleID)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	_, cancel := h.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		base := time.Now()
		for i := 0; i < 10; i++ {
			h.Publish(analysis("c", base.Add(time.Duration(i)), "x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if h.Dropped() != 9 {
		t.Errorf("dropped = %d, want 9", h.Dropped())
	}
}

func TestHub_StaleAnalysisDropped(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe(4)
	defer cancel()

	t0 := time.Now()
	newer := analysis("b", t0.Add(50*time.Millisecond), "line B", 300, 310)
	older := analysis("a", t0, "line A", 100, 110)

	if !h.Publish(newer) {
		t.Fatal("newer event rejected")
	}
	if h.Publish(older) {
		t.Error("stale analysis event delivered")
	}

	latest, ok := h.Latest()
	if !ok || latest.CycleID != "b" || latest.Text != "line B" || latest.F0Hz[0] != 300 {
		t.Errorf("latest = %+v, want cycle b", latest)
	}
	if got := <-ch; got.CycleID != "b" {
		t.Errorf("first delivered = %s", got.CycleID)
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected delivery of %s", ev.CycleID)
	default:
	}
}

func TestHub_PersistedMergesIntoSameCycleOnly(t *testing.T) {
	h := NewHub(nil)
	t0 := time.Now()

	h.Publish(analysis("a", t0, "line A", 100))
	h.Publish(analysis("b", t0.Add(time.Millisecond), "line B", 300))

	// Persistence of the superseded cycle completes late.
	if !h.Publish(Event{Kind: KindPersisted, CycleID: "a", TriggeredAt: t0, SourcePath: "/out/a.wav"}) {
		t.Error("persisted update for older cycle should still be delivered")
	}
	latest, _ := h.Latest()
	if latest.SourcePath != "" {
		t.Errorf("latest took source path %q from another cycle", latest.SourcePath)
	}

	h.Publish(Event{Kind: KindPersisted, CycleID: "b", SourcePath: "/out/b.wav", LatestPath: "/out/latest.wav"})
	latest, _ = h.Latest()
	if latest.SourcePath != "/out/b.wav" || latest.LatestPath != "/out/latest.wav" {
		t.Errorf("latest paths = %q %q", latest.SourcePath, latest.LatestPath)
	}
	if latest.Text != "line B" || latest.F0Hz[0] != 300 {
		t.Errorf("fast-path fields changed by merge: %+v", latest)
	}

	h.Publish(Event{Kind: KindMic, CycleID: "b", MicPath: "/out/b_mic.wav"})
	latest, _ = h.Latest()
	if latest.MicPath != "/out/b_mic.wav" {
		t.Errorf("mic path = %q", latest.MicPath)
	}
}

func TestHub_LatestIsACopy(t *testing.T) {
	h := NewHub(nil)
	h.Publish(analysis("a", time.Now(), "x", 100, 200))
	got, _ := h.Latest()
	got.F0Hz[0] = 999
	again, _ := h.Latest()
	if again.F0Hz[0] != 100 {
		t.Error("Latest exposed internal slice")
	}
}

func TestHub_CancelAndClose(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	ch2, cancel2 := h.Subscribe(1)
	defer cancel2()
	h.Close()
	if _, ok := <-ch2; ok {
		t.Error("channel should be closed after Close")
	}
	if h.Publish(analysis("x", time.Now(), "x")) {
		t.Error("Publish after Close should report false")
	}
	ch3, _ := h.Subscribe(1)
	if _, ok := <-ch3; ok {
		t.Error("Subscribe after Close should return a closed channel")
	}
}

func TestHub_ConcurrentPublishNeverMixesCycles(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe(256)
	defer cancel()

	base := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A' + i%26))
			h.Publish(analysis(id+"-cycle", base.Add(time.Duration(i)), id+"-text", float64(100+i)))
		}(i)
	}
	wg.Wait()
	cancel()

	for ev := range ch {
		if ev.Text[:1] != ev.CycleID[:1] {
			t.Errorf("event mixes cycle %s with text %s", ev.CycleID, ev.Text)
		}
	}
	latest, _ := h.Latest()
	if latest.Text[:1] != latest.CycleID[:1] {
		t.Errorf("latest mixes cycle %s with text %s", latest.CycleID, latest.Text)
	}
}

func TestStripAnnotations(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"(laughs) I told you", "I told you"},
		{"[Music] [Applause] thanks", "thanks"},
		{"（笑）そうですね", "そうですね"},
		{"【速報】ニュース", "ニュース"},
		{"  plain line  ", "plain line"},
		{"(only an annotation)", "(only an annotation)"},
		{"(unclosed annotation", "(unclosed annotation"},
		{"mid (aside) line", "mid (aside) line"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripAnnotations(tt.in); got != tt.want {
			t.Errorf("StripAnnotations(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
