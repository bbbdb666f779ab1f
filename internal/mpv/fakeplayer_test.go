package mpv

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakePlayer is a Unix-socket server speaking enough of the mpv JSON IPC
// protocol for client tests. Properties named "delayed" reply after 50ms;
// "hang" never replies.
type fakePlayer struct {
	t    *testing.T
	path string
	ln   net.Listener

	mu       sync.Mutex
	writeMu  sync.Mutex
	props    map[string]any
	conns    []net.Conn
	shown    []string
	commands []string

	accepted chan struct{}
}

func newFakePlayer(t *testing.T, props map[string]any) *fakePlayer {
	t.Helper()

	sockPath := filepath.Join(t.TempDir(), "mpv.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &fakePlayer{
		t:        t,
		path:     sockPath,
		ln:       ln,
		props:    props,
		accepted: make(chan struct{}, 16),
	}
	go p.serve()
	t.Cleanup(func() {
		ln.Close()
		p.dropAll()
	})
	return p
}

func (p *fakePlayer) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, conn)
		p.mu.Unlock()
		go p.handle(conn)
		p.accepted <- struct{}{}
	}
}

func (p *fakePlayer) handle(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		name, _ := req.Command[0].(string)

		p.mu.Lock()
		p.commands = append(p.commands, name)
		p.mu.Unlock()

		switch name {
		case "get_property":
			prop, _ := req.Command[1].(string)
			switch prop {
			case "hang":
				continue
			case "delayed":
				go func(id int64) {
					time.Sleep(50 * time.Millisecond)
					p.reply(conn, id, ReplySuccess, "slow")
				}(req.RequestID)
				continue
			}
			p.mu.Lock()
			v, ok := p.props[prop]
			p.mu.Unlock()
			if !ok {
				p.reply(conn, req.RequestID, ReplyPropertyUnavailable, nil)
				continue
			}
			p.reply(conn, req.RequestID, ReplySuccess, v)
		case "show-text":
			msg, _ := req.Command[1].(string)
			p.mu.Lock()
			p.shown = append(p.shown, msg)
			p.mu.Unlock()
			p.reply(conn, req.RequestID, ReplySuccess, nil)
		default:
			p.reply(conn, req.RequestID, ReplySuccess, nil)
		}
	}
}

func (p *fakePlayer) reply(conn net.Conn, id int64, status string, data any) {
	msg := map[string]any{"request_id": id, "error": status}
	if data != nil {
		msg["data"] = data
	}
	p.writeLine(conn, msg)
}

func (p *fakePlayer) writeLine(conn net.Conn, v any) {
	data, _ := json.Marshal(v)
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.Write(append(data, '\n'))
}

// emit sends an event to every connected client.
func (p *fakePlayer) emit(name string, args ...string) {
	p.mu.Lock()
	conns := append([]net.Conn(nil), p.conns...)
	p.mu.Unlock()
	for _, c := range conns {
		p.writeLine(c, map[string]any{"event": name, "args": args})
	}
}

// dropAll closes every client connection, simulating a player restart.
func (p *fakePlayer) dropAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (p *fakePlayer) shownTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.shown...)
}

func (p *fakePlayer) waitAccepted(t *testing.T) {
	t.Helper()
	select {
	case <-p.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client connection")
	}
}
