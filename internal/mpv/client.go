package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// eventBuffer is how many unread events are held before new ones are dropped.
	eventBuffer = 64

	// maxLineSize bounds one protocol line; track lists of large files can be long.
	maxLineSize = 1024 * 1024
)

// Client is one connection to the player's control socket.
//
// A single reader goroutine demultiplexes replies (matched by request id)
// and events. Writes are serialized through writeMu so concurrent callers
// never interleave partial lines.
type Client struct {
	path   string
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan Reply
	readErr error

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the control socket at path and starts the reader.
func Dial(ctx context.Context, path string, logger *slog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, &ConnectionError{Path: path, Err: err}
	}
	return newClient(conn, path, logger), nil
}

func newClient(conn net.Conn, path string, logger *slog.Logger) *Client {
	c := &Client{
		path:    path,
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan Reply),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events returns the event channel. It is closed when the connection drops.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed once the connection has terminated.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that terminated the reader, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// Close shuts down the connection. Pending commands fail with a ConnectionError.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// Command sends a command and waits for its correlated reply.
// A reply whose error is not "success" is returned as a *CommandError.
func (c *Client) Command(ctx context.Context, args ...any) (Reply, error) {
	if len(args) == 0 {
		return Reply{}, errors.New("empty command")
	}
	id := c.nextID.Add(1)
	ch := make(chan Reply, 1)

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return Reply{}, &ConnectionError{Path: c.path, Err: err}
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	line, err := encodeRequest(Request{Command: args, RequestID: id})
	if err != nil {
		return Reply{}, err
	}
	if err := c.write(ctx, line); err != nil {
		return Reply{}, err
	}

	name := fmt.Sprint(args[0])
	select {
	case reply := <-ch:
		if !reply.OK() {
			return reply, &CommandError{Command: name, Reason: reply.Error}
		}
		return reply, nil
	case <-c.done:
		return Reply{}, &ConnectionError{Path: c.path, Err: c.Err()}
	case <-ctx.Done():
		return Reply{}, fmt.Errorf("mpv %s: %w", name, ctx.Err())
	}
}

// GetProperty reads a property and decodes its data into dst.
func (c *Client) GetProperty(ctx context.Context, name string, dst any) error {
	reply, err := c.Command(ctx, "get_property", name)
	if err != nil {
		return err
	}
	if len(reply.Data) == 0 || string(reply.Data) == "null" {
		return &CommandError{Command: "get_property " + name, Reason: ReplyPropertyUnavailable}
	}
	if err := json.Unmarshal(reply.Data, dst); err != nil {
		return fmt.Errorf("decode property %s: %w", name, err)
	}
	return nil
}

// ShowText displays an on-screen message for d.
func (c *Client) ShowText(ctx context.Context, msg string, d time.Duration) error {
	_, err := c.Command(ctx, "show-text", msg, d.Milliseconds())
	return err
}

// EnableEvent asks the player to deliver the named event to this client.
func (c *Client) EnableEvent(ctx context.Context, name string) error {
	_, err := c.Command(ctx, "enable_event", name)
	return err
}

func (c *Client) write(ctx context.Context, line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(line); err != nil {
		return &ConnectionError{Path: c.path, Err: fmt.Errorf("write command: %w", err)}
	}
	return nil
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		ev, reply, err := decodeLine(scanner.Bytes())
		if err != nil {
			c.logger.Warn("ignoring malformed line from player", "error", err)
			continue
		}
		if ev != nil {
			select {
			case c.events <- *ev:
			default:
				c.logger.Warn("event buffer full, dropping event", "event", ev.Name)
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[reply.RequestID]
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("reply without pending request", "request_id", reply.RequestID)
			continue
		}
		select {
		case ch <- *reply:
		default:
		}
	}

	err := scanner.Err()
	if err == nil {
		err = errors.New("connection closed")
	}

	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()

	c.Close()
	close(c.done)
	close(c.events)
}
