package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/gardehq/garde/internal/events"
)

// sendBuffer is each client's outbound queue. Progress frames are advisory;
// a client that cannot keep up misses frames rather than stalling the bus.
const sendBuffer = 64

// Client is one connected mirror consumer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.Mutex
	filter string // session id; empty mirrors every session
}

func (c *Client) matches(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter == "" || c.filter == sessionID
}

func (c *Client) setFilter(sessionID string) {
	c.mu.Lock()
	c.filter = sessionID
	c.mu.Unlock()
}

// Hub bridges the bus's turn lifecycle events to WebSocket clients.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	unsubscribe func()
}

// NewHub creates a hub attached to the bus.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{clients: make(map[*Client]struct{})}
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		ev, ok := events.ProgressEventFrom(e)
		if !ok || ev.SessionID == "" {
			return
		}
		data, err := MarshalFrame(ProgressFrame(ev))
		if err != nil {
			slog.Error("marshal ws frame", "error", err)
			return
		}
		h.broadcast(ev.SessionID, data)
	},
		events.EventTurnStarted,
		events.EventTaskProgress,
		events.EventTurnError,
		events.EventTurnCompleted,
	)
	return h
}

// broadcast queues data for every client whose filter matches the session.
func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(sessionID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow; this frame is lost to it.
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS upgrades the request and pumps frames until either side closes.
// An initial filter may ride in as ?session_id=.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local tooling connects from arbitrary origins
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    h,
		filter: r.URL.Query().Get("session_id"),
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump consumes client frames; subscribe frames retarget the filter.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Debug("ws bad frame", "error", err)
			continue
		}
		if frame.Type != FrameTypeSubscribe {
			slog.Debug("ws unexpected frame type", "type", frame.Type)
			continue
		}

		c.setFilter(frame.SessionID)
		if ack, err := MarshalFrame(AckFrame(frame.SessionID)); err == nil {
			select {
			case c.send <- ack:
			default:
			}
		}
	}
}

// writePump drains the send queue onto the connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close drops every client and detaches from the bus.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
