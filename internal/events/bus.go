// Package events carries garde's typed in-process events: turn lifecycle
// frames for the progress stream, confirmation protocol markers, tool and
// model call telemetry, and session lifecycle notices. A single Bus fans
// them out to subscribers and keeps a bounded history.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var ErrBusClosed = errors.New("event bus is closed")

// EventType names one kind of bus event.
type EventType string

const (
	// Turn lifecycle (feeds the per-session progress stream)
	EventTurnStarted   EventType = "turn.started"
	EventTaskProgress  EventType = "task.progress"
	EventTurnError     EventType = "turn.error"
	EventTurnCompleted EventType = "turn.completed"

	// Confirmation protocol
	EventConfirmationRequested EventType = "confirmation.requested"
	EventConfirmationResolved  EventType = "confirmation.resolved"

	// Tool invocations
	EventToolCall EventType = "tool.call"

	// Internal (analytics/tracing)
	EventLLMCall EventType = "internal.llm.call"

	// Session lifecycle
	EventSessionCreated EventType = "session.created"
	EventSessionCleared EventType = "session.cleared"
	EventSessionExpired EventType = "session.expired"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceAgent    EventSource = "agent"
	SourceExecutor EventSource = "executor"
	SourceGateway  EventSource = "gateway"
	SourceSessions EventSource = "sessions"
	SourceTools    EventSource = "tools"
	SourceModels   EventSource = "models"
)

// Event is one bus frame. SessionID is empty for process-wide events.
type Event struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id,omitempty"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    EventSource    `json:"source"`
	Payload   map[string]any `json:"payload"`
}

var eventSeq atomic.Uint64

// generateEventID returns an ID unique within the process that sorts roughly
// by emission time.
func generateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), eventSeq.Add(1))
}

// NewEvent stamps a fresh event.
func NewEvent(eventType EventType, source EventSource, payload map[string]any) Event {
	return Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

// NewEventWithSession stamps a fresh event bound to a session.
func NewEventWithSession(eventType EventType, source EventSource, payload map[string]any, sessionID string) Event {
	e := NewEvent(eventType, source, payload)
	e.SessionID = sessionID
	return e
}

// Subscriber receives events on the dispatch goroutine, which is what keeps
// publication order identical for every subscriber. Handlers must not block;
// anything slow belongs behind SubscribeChan.
type Subscriber func(Event)

type subscription struct {
	types   []EventType // empty = everything
	handler Subscriber
}

// Bus is the process event bus: non-blocking publish into an inbox, one
// dispatch goroutine fanning out to subscribers, and a ring of recent
// events for /events and late diagnostics.
type Bus struct {
	inbox   chan Event
	quit    chan struct{}
	closed  atomic.Bool
	history *RingBuffer

	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
}

// NewBus starts a bus whose inbox and history both hold bufferSize events.
func NewBus(bufferSize int) *Bus {
	b := &Bus{
		inbox:   make(chan Event, bufferSize),
		quit:    make(chan struct{}),
		history: NewRingBuffer(bufferSize),
		subs:    make(map[int]*subscription),
	}
	go b.dispatch()
	return b
}

func (b *Bus) dispatch() {
	for {
		select {
		case e := <-b.inbox:
			b.history.Add(e)
			b.fanOut(e)
		case <-b.quit:
			return
		}
	}
}

func (b *Bus) fanOut(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.wants(e.Type) {
			sub.handler(e)
		}
	}
}

func (s *subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

// Publish enqueues an event without blocking. When the inbox is full the
// event is dropped: bus events are advisory, publishers are never stalled.
func (b *Bus) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.inbox <- event:
	default:
	}
}

// PublishAsync enqueues an event, waiting for inbox room until ctx ends.
func (b *Bus) PublishAsync(ctx context.Context, event Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	select {
	case b.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler, optionally filtered to some event types.
// The returned function unsubscribes.
func (b *Bus) Subscribe(handler Subscriber, eventTypes ...EventType) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{types: eventTypes, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// SubscribeChan adapts Subscribe to a buffered channel. A full channel
// drops events rather than stalling the dispatcher; the cancel function
// unsubscribes and closes the channel.
func (b *Bus) SubscribeChan(bufSize int, eventTypes ...EventType) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	unsubscribe := b.Subscribe(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}, eventTypes...)

	return ch, func() {
		unsubscribe()
		close(ch)
	}
}

// History returns up to limit recent events, oldest first.
func (b *Bus) History(limit int) []Event {
	return b.history.Get(limit)
}

// Close stops the dispatcher. Publishes after Close are no-ops; the inbox
// channel itself is never closed so racing publishers cannot panic.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.quit)
	}
}

// RingBuffer keeps the last size events.
type RingBuffer struct {
	mu     sync.RWMutex
	events []Event
	size   int
	pos    int
	count  int
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{events: make([]Event, size), size: size}
}

func (r *RingBuffer) Add(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.pos] = event
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// Get returns the n most recent events in insertion order.
func (r *RingBuffer) Get(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	start := (r.pos - n + r.size) % r.size
	for i := range out {
		out[i] = r.events[(start+i)%r.size]
	}
	return out
}

func (r *RingBuffer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
	r.count = 0
}
