// Package ws mirrors the per-session progress stream over a WebSocket for
// terminal clients that cannot hold an SSE response open.
package ws

import (
	"encoding/json"

	"github.com/gardehq/garde/internal/events"
)

// FrameType tags a mirror protocol frame.
type FrameType string

const (
	// FrameTypeProgress carries one progress event, server to client.
	FrameTypeProgress FrameType = "progress"
	// FrameTypeSubscribe narrows the mirror to one session, client to server.
	// An empty session_id widens it back to every session.
	FrameTypeSubscribe FrameType = "subscribe"
	// FrameTypeAck answers a subscribe.
	FrameTypeAck FrameType = "ack"
)

// Frame is the wire envelope. Progress payloads reuse the SSE schema so a
// client can share one decoder across both transports.
type Frame struct {
	Type      FrameType             `json:"type"`
	SessionID string                `json:"session_id,omitempty"`
	Event     *events.ProgressEvent `json:"event,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// ProgressFrame wraps a progress event for the wire.
func ProgressFrame(ev events.ProgressEvent) Frame {
	return Frame{Type: FrameTypeProgress, SessionID: ev.SessionID, Event: &ev}
}

// AckFrame confirms the filter now in effect.
func AckFrame(sessionID string) Frame {
	return Frame{Type: FrameTypeAck, SessionID: sessionID}
}

func MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

func UnmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
