package storage

import (
	"log/slog"

	"github.com/gardehq/garde/internal/events"
	"github.com/gardehq/garde/internal/storage/dirstore"
)

// globalLog collects events published without a session id.
const globalLog = "_global"

// EventLogger persists every bus event as JSONL, one directory per session,
// so a turn can be reconstructed after the fact. Enabled by events.log_dir
// in config; the gateway runs fine without it.
type EventLogger struct {
	store       *dirstore.Store
	unsubscribe func()
}

// NewEventLogger wires a logger rooted at dir to the bus.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	el := &EventLogger{store: dirstore.New(dir, "event log")}
	el.unsubscribe = bus.Subscribe(el.handle)
	return el
}

// Close detaches the logger from the bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

// Read returns a session's logged events in append order. An empty id reads
// the global log.
func (el *EventLogger) Read(sessionID string) ([]events.Event, error) {
	if sessionID == "" {
		sessionID = globalLog
	}
	el.store.RLock()
	defer el.store.RUnlock()
	return dirstore.ReadJSONL[events.Event](el.store, sessionID, "events.jsonl")
}

func (el *EventLogger) handle(e events.Event) {
	id := e.SessionID
	if id == "" {
		id = globalLog
	}

	el.store.Lock()
	defer el.store.Unlock()
	if err := el.store.AppendJSONL(id, "events.jsonl", e); err != nil {
		slog.Debug("event log append failed", "session_id", id, "error", err)
	}
}
