// Package mpv implements a client for the mpv JSON IPC control channel.
//
// The channel is a line-delimited JSON stream over a Unix socket. Requests
// carry a request_id that mpv echoes on the reply; asynchronous events are
// interleaved with replies and carry an "event" field instead.
package mpv

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Reply error strings returned by mpv.
const (
	ReplySuccess             = "success"
	ReplyPropertyUnavailable = "property unavailable"
)

// Event names used by the agent.
const (
	EventClientMessage = "client-message"
	EventShutdown      = "shutdown"
)

// Property names queried on trigger.
const (
	PropSubText   = "sub-text"
	PropSubStart  = "sub-start"
	PropSubEnd    = "sub-end"
	PropSubDelay  = "sub-delay"
	PropTimePos   = "time-pos"
	PropDuration  = "duration"
	PropPath      = "path"
	PropTrackList = "track-list"
)

// ErrPropertyUnavailable is matched by a CommandError whose reply reported
// the property as unavailable (for example sub-text while no subtitle is shown).
var ErrPropertyUnavailable = errors.New("property unavailable")

// Request is one outbound command.
type Request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// Reply is the response correlated to a Request by RequestID.
type Reply struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// OK reports whether mpv accepted the command.
func (r Reply) OK() bool {
	return r.Error == ReplySuccess
}

// Event is an unsolicited notification from the player.
type Event struct {
	Name string   `json:"event"`
	Args []string `json:"args,omitempty"`
}

// Message returns the client-message name, or "" for other events.
func (e Event) Message() string {
	if e.Name != EventClientMessage || len(e.Args) == 0 {
		return ""
	}
	return e.Args[0]
}

// envelope is the union of every line mpv writes. Lines with a non-empty
// Event are notifications; everything else is a reply.
type envelope struct {
	Event     string          `json:"event"`
	Args      []string        `json:"args"`
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

// decodeLine parses one protocol line into either an event or a reply.
func decodeLine(line []byte) (ev *Event, reply *Reply, err error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil, fmt.Errorf("unmarshal line: %w", err)
	}
	if env.Event != "" {
		return &Event{Name: env.Event, Args: env.Args}, nil, nil
	}
	return nil, &Reply{RequestID: env.RequestID, Error: env.Error, Data: env.Data}, nil
}

// encodeRequest renders a request as one newline-terminated line.
func encodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	return append(data, '\n'), nil
}

// ConnectionError reports that the control channel is unreachable or dropped.
type ConnectionError struct {
	Path string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mpv control channel %s: %v", e.Path, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError reports a reply whose error field was not "success".
type CommandError struct {
	Command string
	Reason  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mpv %s: %s", e.Command, e.Reason)
}

// Is lets errors.Is match ErrPropertyUnavailable.
func (e *CommandError) Is(target error) bool {
	return target == ErrPropertyUnavailable && e.Reason == ReplyPropertyUnavailable
}
