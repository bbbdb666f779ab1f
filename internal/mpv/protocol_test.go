package mpv

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantEvent string
		wantMsg   string
		wantID    int64
		wantErr   bool
	}{
		{
			name:      "client message",
			line:      `{"event":"client-message","args":["cut_current_sub"]}`,
			wantEvent: "client-message",
			wantMsg:   "cut_current_sub",
		},
		{
			name:      "other event",
			line:      `{"event":"playback-restart"}`,
			wantEvent: "playback-restart",
		},
		{
			name:   "reply",
			line:   `{"request_id":7,"error":"success","data":1.25}`,
			wantID: 7,
		},
		{
			name:    "garbage",
			line:    `{"request_id":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, reply, err := decodeLine([]byte(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantEvent != "" {
				if ev == nil {
					t.Fatalf("expected event, got reply %+v", reply)
				}
				if ev.Name != tt.wantEvent {
					t.Errorf("event = %q, want %q", ev.Name, tt.wantEvent)
				}
				if ev.Message() != tt.wantMsg {
					t.Errorf("Message() = %q, want %q", ev.Message(), tt.wantMsg)
				}
				return
			}
			if reply == nil {
				t.Fatalf("expected reply, got event %+v", ev)
			}
			if reply.RequestID != tt.wantID {
				t.Errorf("request_id = %d, want %d", reply.RequestID, tt.wantID)
			}
			if !reply.OK() {
				t.Errorf("OK() = false for %q", reply.Error)
			}
		})
	}
}

func TestEncodeRequest(t *testing.T) {
	line, err := encodeRequest(Request{Command: []any{"show-text", "hi", 1200}, RequestID: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line[len(line)-1] != '\n' {
		t.Error("request line must end with a newline")
	}
	var got map[string]any
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["request_id"].(float64) != 3 {
		t.Errorf("request_id = %v, want 3", got["request_id"])
	}
	cmd := got["command"].([]any)
	if len(cmd) != 3 || cmd[0] != "show-text" {
		t.Errorf("command = %v", cmd)
	}
}

func TestCommandError_IsPropertyUnavailable(t *testing.T) {
	err := error(&CommandError{Command: "get_property sub-text", Reason: ReplyPropertyUnavailable})
	if !errors.Is(err, ErrPropertyUnavailable) {
		t.Error("expected errors.Is to match ErrPropertyUnavailable")
	}
	other := error(&CommandError{Command: "show-text", Reason: "invalid parameter"})
	if errors.Is(other, ErrPropertyUnavailable) {
		t.Error("unrelated command error must not match ErrPropertyUnavailable")
	}
}

func TestEventMessage_NonClientMessage(t *testing.T) {
	ev := Event{Name: "seek", Args: []string{"cut_current_sub"}}
	if ev.Message() != "" {
		t.Errorf("Message() = %q, want empty for non client-message", ev.Message())
	}
}
