package mpv

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shadowkit/shadow-agent/internal/logging"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 300 * time.Millisecond, Max: 5 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 300 * time.Millisecond},
		{1, 600 * time.Millisecond},
		{2, 1200 * time.Millisecond},
		{3, 2400 * time.Millisecond},
		{4, 4800 * time.Millisecond},
		{5, 5 * time.Second},
		{50, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSessionConnect_AttemptsExhausted(t *testing.T) {
	s := NewSession("/nonexistent/mpv.sock", logging.Discard(),
		WithBackoff(Backoff{Base: time.Millisecond, Max: time.Millisecond}))

	err := s.Connect(context.Background(), 3)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after failed connect")
	}
}

func TestSessionCommand_NotConnected(t *testing.T) {
	s := NewSession("/nonexistent/mpv.sock", logging.Discard())
	var v string
	err := s.GetProperty(context.Background(), PropPath, &v)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("err = %v, want *ConnectionError", err)
	}
}

func TestSessionEvents_ResumeAfterReconnect(t *testing.T) {
	p := newFakePlayer(t, map[string]any{PropPath: "/media/a.mkv"})

	var reconnects atomic.Int32
	s := NewSession(p.path, logging.Discard(),
		WithBackoff(Backoff{Base: 5 * time.Millisecond, Max: 20 * time.Millisecond}),
		WithReconnectHook(func() { reconnects.Add(1) }),
	)
	if err := s.Connect(context.Background(), 1); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()
	p.waitAccepted(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range s.Events(ctx) {
			got <- ev.Message()
		}
	}()

	p.emit(EventClientMessage, "first")
	expectMessage(t, got, "first")

	p.dropAll()
	p.waitAccepted(t)
	// Wait until the session has swapped to the new connection.
	deadline := time.Now().Add(2 * time.Second)
	for reconnects.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reconnects.Load() != 1 {
		t.Fatalf("reconnects = %d, want 1", reconnects.Load())
	}

	p.emit(EventClientMessage, "second")
	expectMessage(t, got, "second")

	var path string
	if err := s.GetProperty(ctx, PropPath, &path); err != nil {
		t.Fatalf("GetProperty after reconnect: %v", err)
	}
	if path != "/media/a.mkv" {
		t.Errorf("path = %q", path)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event iterator did not stop on cancel")
	}
}

func expectMessage(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case msg := <-ch:
		if msg != want {
			t.Errorf("message = %q, want %q", msg, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}
