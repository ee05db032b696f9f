package storage

import (
	"testing"
	"time"

	"github.com/gardehq/garde/internal/events"
)

func TestEventLogger_WritesPerSessionFiles(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	logger := NewEventLogger(t.TempDir(), bus)
	defer logger.Close()

	bus.Publish(events.NewTypedEventWithSession(events.SourceAgent,
		events.TurnStartedPayload{Message: "Executing 2 tasks"}, "sess_a"))
	bus.Publish(events.NewTypedEventWithSession(events.SourceAgent,
		events.TurnCompletedPayload{Message: "done"}, "sess_a"))
	bus.Publish(events.NewEvent(events.EventSessionCreated, events.SourceSessions, nil))

	logged := waitLogged(t, logger, "sess_a", 2)
	if logged[0].Type != events.EventTurnStarted || logged[1].Type != events.EventTurnCompleted {
		t.Errorf("logged types = [%s, %s], want append order kept", logged[0].Type, logged[1].Type)
	}
	if logged[0].SessionID != "sess_a" {
		t.Errorf("logged session = %q, want sess_a", logged[0].SessionID)
	}

	global := waitLogged(t, logger, "", 1)
	if global[0].Type != events.EventSessionCreated {
		t.Errorf("global log type = %s, want the sessionless event", global[0].Type)
	}
}

func TestEventLogger_ReadMissingSession(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	logger := NewEventLogger(t.TempDir(), bus)
	defer logger.Close()

	logged, err := logger.Read("sess_ghost")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if logged != nil {
		t.Errorf("Read = %v, want nil for an unlogged session", logged)
	}
}

// --- helpers ---

func waitLogged(t *testing.T, logger *EventLogger, sessionID string, n int) []events.Event {
	t.Helper()
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		logged, err := logger.Read(sessionID)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(logged) >= n {
			return logged
		}
		time.Sleep(time.Millisecond)
	}
	logged, _ := logger.Read(sessionID)
	t.Fatalf("log for %q never reached %d events, have %d", sessionID, n, len(logged))
	return nil
}
