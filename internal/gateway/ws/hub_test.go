package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gardehq/garde/internal/events"
)

func TestHub_MirrorsLifecycleFrames(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	hub := NewHub(bus)
	defer hub.Close()

	conn := dial(t, hub, "")
	defer conn.Close(websocket.StatusNormalClosure, "")

	bus.Publish(events.NewTypedEventWithSession(events.SourceExecutor, events.TurnStartedPayload{
		Message:  "Executing 1 tasks",
		Progress: events.ProgressInfo{TotalTasks: 1},
	}, "sess-1"))

	frame := readFrame(t, conn)
	if frame.Type != FrameTypeProgress || frame.SessionID != "sess-1" {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Event == nil || frame.Event.Type != events.ProgressTypeStart {
		t.Errorf("event = %+v", frame.Event)
	}
}

func TestHub_QueryFilterHidesForeignSessions(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	hub := NewHub(bus)
	defer hub.Close()

	conn := dial(t, hub, "?session_id=sess-mine")
	defer conn.Close(websocket.StatusNormalClosure, "")

	publishStart(bus, "sess-other")
	publishStart(bus, "sess-mine")

	// The first frame that arrives must already be the filtered one.
	frame := readFrame(t, conn)
	if frame.SessionID != "sess-mine" {
		t.Errorf("filter leaked session %q", frame.SessionID)
	}
}

func TestHub_SubscribeFrameRetargetsFilter(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	hub := NewHub(bus)
	defer hub.Close()

	conn := dial(t, hub, "?session_id=sess-a")
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, _ := MarshalFrame(Frame{Type: FrameTypeSubscribe, SessionID: "sess-b"})
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ack := readFrame(t, conn)
	if ack.Type != FrameTypeAck || ack.SessionID != "sess-b" {
		t.Fatalf("ack = %+v", ack)
	}

	publishStart(bus, "sess-a")
	publishStart(bus, "sess-b")
	frame := readFrame(t, conn)
	if frame.SessionID != "sess-b" {
		t.Errorf("retargeted filter leaked session %q", frame.SessionID)
	}
}

// --- helpers ---

func dial(t *testing.T, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	frame, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return frame
}

func publishStart(bus *events.Bus, sessionID string) {
	bus.Publish(events.NewTypedEventWithSession(events.SourceExecutor, events.TurnStartedPayload{
		Message:  "Executing 1 tasks",
		Progress: events.ProgressInfo{TotalTasks: 1},
	}, sessionID))
}
