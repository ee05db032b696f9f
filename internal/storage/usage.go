// Package storage holds the process's accounting and audit side-stores: the
// per-session LLM usage tracker and the JSONL event log, both fed by the
// event bus, plus the dirstore primitives they persist through.
package storage

import (
	"sync"

	"github.com/gardehq/garde/internal/events"
)

// Usage is accumulated token consumption.
type Usage struct {
	Calls        int `json:"calls"`
	TokensInput  int `json:"tokens_input"`
	TokensOutput int `json:"tokens_output"`
}

// UsageTracker subscribes to model-call events and accumulates token usage
// per session for the lifetime of the process. Cleared or expired sessions
// drop their per-session entry; the process total keeps counting.
type UsageTracker struct {
	mu          sync.RWMutex
	bySession   map[string]Usage
	total       Usage
	unsubscribe func()
}

// NewUsageTracker wires a tracker to the bus.
func NewUsageTracker(bus *events.Bus) *UsageTracker {
	t := &UsageTracker{bySession: make(map[string]Usage)}
	t.unsubscribe = bus.Subscribe(t.handle,
		events.EventLLMCall, events.EventSessionCleared, events.EventSessionExpired)
	return t
}

// Close detaches the tracker from the bus.
func (t *UsageTracker) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}

// For returns the usage recorded for one session.
func (t *UsageTracker) For(sessionID string) Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bySession[sessionID]
}

// Total returns process-wide usage across all sessions, live and gone.
func (t *UsageTracker) Total() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

func (t *UsageTracker) handle(e events.Event) {
	switch e.Type {
	case events.EventLLMCall:
		t.record(e)
	case events.EventSessionCleared, events.EventSessionExpired:
		t.forget(e.SessionID)
	}
}

func (t *UsageTracker) record(e events.Event) {
	payload, ok := events.GetLLMCallPayload(e)
	if !ok || payload.Phase != "response" {
		return
	}
	// Providers that report no usage contribute nothing.
	if payload.TokensInput == 0 && payload.TokensOutput == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	u := t.bySession[e.SessionID]
	u.Calls++
	u.TokensInput += payload.TokensInput
	u.TokensOutput += payload.TokensOutput
	t.bySession[e.SessionID] = u

	t.total.Calls++
	t.total.TokensInput += payload.TokensInput
	t.total.TokensOutput += payload.TokensOutput
}

func (t *UsageTracker) forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.bySession, sessionID)
}
