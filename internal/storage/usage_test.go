package storage

import (
	"testing"
	"time"

	"github.com/gardehq/garde/internal/events"
)

func TestUsageTracker_AccumulatesResponses(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	tracker := NewUsageTracker(bus)
	defer tracker.Close()

	bus.Publish(llmEvent("sess_a", "request", 0, 0))
	bus.Publish(llmEvent("sess_a", "response", 100, 40))
	bus.Publish(llmEvent("sess_a", "response", 50, 10))
	bus.Publish(llmEvent("sess_b", "response", 7, 3))

	waitUsage(t, tracker, "sess_a", 2)

	got := tracker.For("sess_a")
	if got.TokensInput != 150 || got.TokensOutput != 50 {
		t.Errorf("For(sess_a) = %+v, want 150 in / 50 out", got)
	}
	if got := tracker.For("sess_b"); got.Calls != 1 || got.TokensInput != 7 {
		t.Errorf("For(sess_b) = %+v, want the single response", got)
	}
	if total := tracker.Total(); total.Calls != 3 || total.TokensInput != 157 || total.TokensOutput != 53 {
		t.Errorf("Total() = %+v, want all three responses", total)
	}
}

func TestUsageTracker_IgnoresRequestsAndEmptyResponses(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	tracker := NewUsageTracker(bus)
	defer tracker.Close()

	bus.Publish(llmEvent("sess_a", "request", 100, 0))
	bus.Publish(llmEvent("sess_a", "response", 0, 0))
	time.Sleep(50 * time.Millisecond)

	if got := tracker.For("sess_a"); got != (Usage{}) {
		t.Errorf("For(sess_a) = %+v, want nothing recorded", got)
	}
}

func TestUsageTracker_DropsClearedSessions(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	tracker := NewUsageTracker(bus)
	defer tracker.Close()

	bus.Publish(llmEvent("sess_a", "response", 100, 40))
	waitUsage(t, tracker, "sess_a", 1)

	bus.Publish(events.NewTypedEventWithSession(events.SourceSessions,
		events.SessionClearedPayload{UserID: "u1", SessionID: "sess_a"}, "sess_a"))

	deadline := time.Now().Add(200 * time.Millisecond)
	for tracker.For("sess_a").Calls != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := tracker.For("sess_a"); got.Calls != 0 {
		t.Errorf("For(sess_a) after clear = %+v, want the entry dropped", got)
	}
	if total := tracker.Total(); total.Calls != 1 {
		t.Errorf("Total() after clear = %+v, want the process total kept", total)
	}
}

// --- helpers ---

func llmEvent(sessionID, phase string, in, out int) events.Event {
	return events.NewTypedEventWithSession(events.SourceModels, events.LLMCallPayload{
		Phase:        phase,
		Model:        "test-model",
		TokensInput:  in,
		TokensOutput: out,
	}, sessionID)
}

func waitUsage(t *testing.T, tracker *UsageTracker, sessionID string, calls int) {
	t.Helper()
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if tracker.For(sessionID).Calls >= calls {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("usage for %s never reached %d calls, have %+v", sessionID, calls, tracker.For(sessionID))
}
