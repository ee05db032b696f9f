// Package gateway exposes the agent over HTTP: the chat endpoints, the
// session management surface, the per-session SSE progress stream and a
// WebSocket mirror of the same frames.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gardehq/garde/internal/agent"
	"github.com/gardehq/garde/internal/events"
	"github.com/gardehq/garde/internal/gateway/auth"
	"github.com/gardehq/garde/internal/gateway/sse"
	"github.com/gardehq/garde/internal/gateway/ws"
	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/storage"
	"github.com/gardehq/garde/internal/tools"
)

// heartbeatInterval spaces SSE comment pings so idle streams survive
// proxies that reap quiet connections.
const heartbeatInterval = 15 * time.Second

// ChatHandler runs conversational turns. *agent.Agent satisfies it.
type ChatHandler interface {
	HandleMessage(ctx context.Context, userID, sessionID, authToken, message string) (*agent.TurnResult, error)
	HandleConfirmation(ctx context.Context, userID, message string) (*agent.TurnResult, error)
}

// ToolCatalog is the registry slice behind /tools. *tools.Registry
// satisfies it.
type ToolCatalog interface {
	ListTools() []tools.ToolInfo
}

// Config carries the gateway's collaborators.
type Config struct {
	Host     string
	Port     int
	Chat     ChatHandler
	Store    *sessions.Store
	Bus      *events.Bus
	Verifier auth.Verifier
	// Tools, when set, is served on /tools.
	Tools ToolCatalog
	// Usage, when set, is reported on /session/status.
	Usage *storage.UsageTracker
}

// Server is the garde gateway HTTP server.
type Server struct {
	httpServer *http.Server
	sseHub     *sse.Hub
	wsHub      *ws.Hub
	bus        *events.Bus
	store      *sessions.Store
	chat       ChatHandler
	verifier   auth.Verifier
	tools      ToolCatalog
	usage      *storage.UsageTracker
}

// NewServer wires the router. Everything except /healthz requires a bearer
// token; the stream endpoints additionally accept ?token= because
// EventSource and terminal WS clients cannot set headers.
func NewServer(cfg Config) *Server {
	s := &Server{
		sseHub:   sse.NewHub(cfg.Bus),
		wsHub:    ws.NewHub(cfg.Bus),
		bus:      cfg.Bus,
		store:    cfg.Store,
		chat:     cfg.Chat,
		verifier: cfg.Verifier,
		tools:    cfg.Tools,
		usage:    cfg.Usage,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth(false))
		r.Post("/chat", s.handleChat)
		r.Post("/chat/confirm", s.handleConfirm)
		r.Get("/session/status", s.handleSessionStatus)
		r.Post("/session/clear", s.handleSessionClear)
		r.Post("/session/clear-history", s.handleClearHistory)
		r.Get("/session/all", s.handleSessionAll)
		r.Post("/session/clear-all", s.handleClearAll)
		r.Get("/tools", s.handleTools)
		r.Get("/events", s.handleEvents)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth(true))
		r.Get("/chat/stream/{sessionID}", s.handleStream)
		r.Get("/ws", s.wsHub.ServeWS)
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("garde gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server and both stream hubs.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sseHub.Close()
	s.wsHub.Close()
	return s.httpServer.Shutdown(ctx)
}

// identity is the authenticated caller, stored in the request context.
type identity struct {
	userID string
	token  string
}

type ctxKey int

const identityKey ctxKey = iota

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey).(identity)
	return id
}

func (s *Server) requireAuth(allowQueryToken bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" && allowQueryToken {
				token = r.URL.Query().Get("token")
			}
			userID, err := s.verifier.Verify(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
				} else {
					slog.Warn("auth verification unavailable", "error", err)
					writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
				}
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, identity{userID: userID, token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
		)
	})
}

type chatRequest struct {
	Message string `json:"message"`
	// SessionID seeds a new session's id; an existing live session wins.
	SessionID string `json:"session_id,omitempty"`
	// SSESessionID is set by clients that subscribed to the progress
	// stream before sending the message, so both sides agree on the id.
	SSESessionID string `json:"sse_session_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if req.SSESessionID != "" {
		sessionID = req.SSESessionID
	}

	id := identityFrom(r.Context())
	result, err := s.chat.HandleMessage(r.Context(), id.userID, sessionID, id.token, req.Message)
	if err != nil {
		slog.Error("chat turn failed", "user_id", id.userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	id := identityFrom(r.Context())
	result, err := s.chat.HandleConfirmation(r.Context(), id.userID, req.Message)
	if err != nil {
		slog.Error("confirmation turn failed", "user_id", id.userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleStream serves one session's progress frames as SSE. The connection
// stays open across turns; the client disconnects when it is done watching.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	frames, cancel := s.sseHub.Subscribe(sessionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			w.Write(frame)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	sess, ok := s.store.Get(id.userID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	resp := map[string]any{
		"active":  true,
		"session": sess.Snapshot(),
	}
	if s.usage != nil {
		resp["usage"] = s.usage.For(sess.ID())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	cleared := s.store.Clear(id.userID, "user request")
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	cleared := s.store.ClearHistory(id.userID)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

func (s *Server) handleSessionAll(w http.ResponseWriter, r *http.Request) {
	all := s.store.All()
	views := make([]sessions.View, len(all))
	for i, sess := range all {
		views[i] = sess.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
		"count":    len(views),
	})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	n := s.store.ClearAll()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

// handleTools lists the discovered tool catalog for `garde tools`.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	catalog := []tools.ToolInfo{}
	if s.tools != nil {
		catalog = s.tools.ListTools()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": catalog,
		"count": len(catalog),
	})
}

// handleEvents dumps the bus's recent history, a debugging aid for
// `garde status` and curl.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	history := s.bus.History(limit)

	type eventJSON struct {
		ID        string             `json:"id"`
		SessionID string             `json:"session_id,omitempty"`
		Type      string             `json:"type"`
		Timestamp string             `json:"timestamp"`
		Source    events.EventSource `json:"source"`
		Payload   map[string]any     `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:        e.ID,
			SessionID: e.SessionID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp.Format(time.RFC3339Nano),
			Source:    e.Source,
			Payload:   e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
