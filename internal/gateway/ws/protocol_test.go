package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gardehq/garde/internal/events"
)

func TestProgressFrame_WireShape(t *testing.T) {
	ev := events.ProgressEvent{
		Type:      events.ProgressTypeProgress,
		SessionID: "sess-1",
		Timestamp: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Message:   "Completed: add milk",
		Progress:  &events.ProgressInfo{TotalTasks: 2, CompletedTasks: 1, ProgressPercentage: 50},
	}

	data, err := MarshalFrame(ProgressFrame(ev))
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}

	// The field names are the contract with the watch client.
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"type", "session_id", "event"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("wire frame missing %q: %s", key, data)
		}
	}

	got, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if got.Type != FrameTypeProgress || got.SessionID != "sess-1" {
		t.Errorf("frame = %+v", got)
	}
	if got.Event == nil || got.Event.Progress.ProgressPercentage != 50 {
		t.Errorf("event payload lost: %+v", got.Event)
	}
}

func TestUnmarshalFrame_Subscribe(t *testing.T) {
	got, err := UnmarshalFrame([]byte(`{"type": "subscribe", "session_id": "sess-9"}`))
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if got.Type != FrameTypeSubscribe || got.SessionID != "sess-9" {
		t.Errorf("frame = %+v", got)
	}
}
