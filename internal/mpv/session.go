package mpv

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"time"
)

// Backoff computes reconnect delays: Base, doubled per attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff matches the player start-up poll interval.
var DefaultBackoff = Backoff{Base: 300 * time.Millisecond, Max: 5 * time.Second}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	return d
}

// DialFunc opens one control connection.
type DialFunc func(ctx context.Context, path string, logger *slog.Logger) (*Client, error)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithBackoff overrides the reconnect backoff.
func WithBackoff(b Backoff) SessionOption {
	return func(s *Session) { s.backoff = b }
}

// WithDialer overrides how connections are opened.
func WithDialer(dial DialFunc) SessionOption {
	return func(s *Session) { s.dial = dial }
}

// WithReconnectHook registers a callback invoked after every reconnection.
func WithReconnectHook(fn func()) SessionOption {
	return func(s *Session) { s.onReconnect = fn }
}

// Session is a long-lived control channel that survives player restarts.
// Commands go to the current connection; Events restarts transparently on
// reconnect.
type Session struct {
	path        string
	logger      *slog.Logger
	backoff     Backoff
	dial        DialFunc
	onReconnect func()

	mu     sync.Mutex
	client *Client
	closed bool
}

// NewSession creates a session for the socket at path. Call Connect before use.
func NewSession(path string, logger *slog.Logger, opts ...SessionOption) *Session {
	s := &Session{
		path:    path,
		logger:  logger,
		backoff: DefaultBackoff,
		dial:    Dial,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the control socket path.
func (s *Session) Path() string {
	return s.path
}

// Connect establishes the first connection, retrying up to attempts times.
// The last ConnectionError is returned when every attempt fails.
func (s *Session) Connect(ctx context.Context, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := sleepCtx(ctx, s.backoff.Delay(i-1)); err != nil {
				return err
			}
		}
		c, err := s.open(ctx)
		if err == nil {
			s.setClient(c)
			s.logger.Info("connected to player", "socket", s.path)
			return nil
		}
		lastErr = err
		s.logger.Debug("player not reachable", "socket", s.path, "attempt", i+1, "error", err)
	}
	return lastErr
}

// Connected reports whether a live connection is held.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return false
	}
	select {
	case <-s.client.Done():
		return false
	default:
		return true
	}
}

// Close releases the current connection and stops reconnecting.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Events yields player events until ctx is cancelled or the consumer stops.
// Dropped connections are re-established with backoff and the stream resumes.
func (s *Session) Events(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			c, err := s.current(ctx)
			if err != nil {
				return
			}
			if !s.drain(ctx, c, yield) {
				return
			}
			s.logger.Warn("player connection lost, reconnecting", "socket", s.path, "error", c.Err())
		}
	}
}

// drain forwards events from c until it closes. It returns false when the
// consumer or ctx asked to stop.
func (s *Session) drain(ctx context.Context, c *Client, yield func(Event) bool) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-c.Events():
			if !ok {
				return true
			}
			if !yield(ev) {
				return false
			}
		}
	}
}

// Command sends a command on the current connection.
func (s *Session) Command(ctx context.Context, args ...any) (Reply, error) {
	c, err := s.live()
	if err != nil {
		return Reply{}, err
	}
	return c.Command(ctx, args...)
}

// GetProperty reads a property on the current connection.
func (s *Session) GetProperty(ctx context.Context, name string, dst any) error {
	c, err := s.live()
	if err != nil {
		return err
	}
	return c.GetProperty(ctx, name, dst)
}

// ShowText shows an on-screen message on the current connection.
func (s *Session) ShowText(ctx context.Context, msg string, d time.Duration) error {
	c, err := s.live()
	if err != nil {
		return err
	}
	return c.ShowText(ctx, msg, d)
}

func (s *Session) live() (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, &ConnectionError{Path: s.path, Err: errors.New("not connected")}
	}
	return s.client, nil
}

// current returns a live client, reconnecting with backoff if the held one
// has terminated. It only fails when ctx ends or the session is closed.
func (s *Session) current(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	c, closed := s.client, s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("session closed")
	}
	if c != nil {
		select {
		case <-c.Done():
		default:
			return c, nil
		}
	}

	for attempt := 0; ; attempt++ {
		if err := sleepCtx(ctx, s.backoff.Delay(attempt)); err != nil {
			return nil, err
		}
		s.mu.Lock()
		closed = s.closed
		s.mu.Unlock()
		if closed {
			return nil, errors.New("session closed")
		}
		nc, err := s.open(ctx)
		if err != nil {
			s.logger.Debug("reconnect failed", "socket", s.path, "attempt", attempt+1, "error", err)
			continue
		}
		s.setClient(nc)
		s.logger.Info("reconnected to player", "socket", s.path, "attempts", attempt+1)
		if s.onReconnect != nil {
			s.onReconnect()
		}
		return nc, nil
	}
}

// open dials and subscribes to client-message events.
func (s *Session) open(ctx context.Context) (*Client, error) {
	c, err := s.dial(ctx, s.path, s.logger)
	if err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.EnableEvent(subCtx, EventClientMessage); err != nil {
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			c.Close()
			return nil, err
		}
		// Older players deliver client-message unconditionally.
		s.logger.Warn("enable_event rejected", "reason", cmdErr.Reason)
	}
	return c, nil
}

func (s *Session) setClient(c *Client) {
	s.mu.Lock()
	old := s.client
	s.client = c
	s.mu.Unlock()
	if old != nil && old != c {
		old.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
