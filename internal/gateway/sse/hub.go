// Package sse fans the per-session progress stream out to server-sent-event
// subscribers. The hub subscribes to the bus once; handlers subscribe to the
// hub per session.
package sse

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gardehq/garde/internal/events"
)

// SubscriberBuffer is each subscriber's channel capacity. Progress events
// are advisory: a subscriber that falls this far behind is dropped rather
// than allowed to stall the publisher.
const SubscriberBuffer = 64

// Hub maps session ids to subscriber channels carrying ready-to-write SSE
// frames.
type Hub struct {
	mu          sync.Mutex
	sessions    map[string]*subscriberSet
	unsubscribe func()
}

type subscriberSet struct {
	subs   map[int]chan []byte
	nextID int
}

// NewHub attaches a hub to the bus's turn lifecycle events.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{sessions: make(map[string]*subscriberSet)}
	h.unsubscribe = bus.Subscribe(h.consume,
		events.EventTurnStarted,
		events.EventTaskProgress,
		events.EventTurnError,
		events.EventTurnCompleted,
	)
	return h
}

// Subscribe registers a listener for one session's stream. The returned
// cancel is idempotent and must be called when the client goes away.
func (h *Hub) Subscribe(sessionID string) (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.sessions[sessionID]
	if set == nil {
		set = &subscriberSet{subs: make(map[int]chan []byte)}
		h.sessions[sessionID] = set
	}
	id := set.nextID
	set.nextID++
	ch := make(chan []byte, SubscriberBuffer)
	set.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		cur := h.sessions[sessionID]
		if cur == nil {
			return
		}
		if sub, ok := cur.subs[id]; ok {
			delete(cur.subs, id)
			close(sub)
		}
		if len(cur.subs) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	return ch, cancel
}

// Sessions reports how many sessions currently hold hub entries.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close detaches from the bus and closes every subscriber.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.sessions {
		for _, ch := range set.subs {
			close(ch)
		}
		delete(h.sessions, id)
	}
}

// consume converts a lifecycle bus event into a wire frame and fans it out.
func (h *Hub) consume(e events.Event) {
	frame, ok := events.ProgressEventFrom(e)
	if !ok || frame.SessionID == "" {
		return
	}
	body, err := json.Marshal(frame)
	if err != nil {
		slog.Error("marshal progress frame", "error", err)
		return
	}
	h.publish(frame.SessionID, Frame(body), frame.Type == events.ProgressTypeComplete)
}

// publish delivers one frame to every subscriber of the session. Subscribers
// with a full channel are dropped silently. A completed session's entry is
// removed once nobody is listening; subscribers attaching later get nothing.
func (h *Hub) publish(sessionID string, frame []byte, completes bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.sessions[sessionID]
	if set == nil {
		if completes {
			return
		}
		// Turn in flight with no listeners yet; keep the entry so a
		// mid-turn subscriber catches subsequent frames.
		set = &subscriberSet{subs: make(map[int]chan []byte)}
		h.sessions[sessionID] = set
	}

	for id, ch := range set.subs {
		select {
		case ch <- frame:
		default:
			delete(set.subs, id)
			close(ch)
			slog.Debug("dropped slow progress subscriber", "session_id", sessionID)
		}
	}

	if completes && len(set.subs) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Frame wraps a JSON body as one SSE data frame.
func Frame(body []byte) []byte {
	buf := make([]byte, 0, len(body)+8)
	buf = append(buf, "data: "...)
	buf = append(buf, body...)
	buf = append(buf, '\n', '\n')
	return buf
}
