package sessions

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gardehq/garde/internal/events"
)

// DefaultTimeout is the inactivity window after which a session expires.
const DefaultTimeout = 30 * time.Minute

// DefaultConfirmTTL is how long a pending confirmation stays answerable.
const DefaultConfirmTTL = 5 * time.Minute

// StoreConfig carries the store's lifecycle settings.
type StoreConfig struct {
	Timeout    time.Duration // inactivity expiry; 0 means DefaultTimeout
	ConfirmTTL time.Duration // pending confirmation expiry; 0 means DefaultConfirmTTL
	Bus        *events.Bus
	Archive    *Archive // optional; terminal snapshots written here
}

// Store keeps sessions in memory, one per user. The byID index exists only
// for lookups; byUser owns the lifecycle. Expired sessions are reaped
// opportunistically on access and periodically by the sweeper.
type Store struct {
	mu         sync.RWMutex
	byUser     map[string]*Session
	byID       map[string]*Session
	timeout    time.Duration
	confirmTTL time.Duration
	bus        *events.Bus
	archive    *Archive
}

// NewStore creates an empty session store.
func NewStore(cfg StoreConfig) *Store {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	confirmTTL := cfg.ConfirmTTL
	if confirmTTL <= 0 {
		confirmTTL = DefaultConfirmTTL
	}
	return &Store{
		byUser:     make(map[string]*Session),
		byID:       make(map[string]*Session),
		timeout:    timeout,
		confirmTTL: confirmTTL,
		bus:        cfg.Bus,
		archive:    cfg.Archive,
	}
}

// ConfirmTTL returns the configured pending-confirmation lifetime.
func (st *Store) ConfirmTTL() time.Duration { return st.confirmTTL }

func generateSessionID() string {
	u := uuid.New().String()
	return "sess_" + strings.ReplaceAll(u[:8], "-", "")
}

// GetOrCreate returns the live session for userID, or creates one. A
// non-empty sessionID is kept for new sessions so clients can mint their
// own; when the user already has a live session it wins over the requested
// id. The returned bool reports creation.
func (st *Store) GetOrCreate(userID, sessionID, authToken string) (*Session, bool) {
	st.SweepExpired()

	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.byUser[userID]; ok {
		s.Touch()
		s.SetAuthToken(authToken)
		return s, false
	}

	if sessionID == "" {
		sessionID = generateSessionID()
	}
	s := newSession(sessionID, userID, authToken)
	st.byUser[userID] = s
	st.byID[sessionID] = s
	st.publish(events.SessionCreatedPayload{UserID: userID, SessionID: sessionID}, sessionID)
	slog.Debug("session created", "session_id", sessionID, "user_id", userID)
	return s, true
}

// Get returns the live session for userID. Expired sessions are treated as
// missing and removed.
func (st *Store) Get(userID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.byUser[userID]
	if !ok {
		return nil, false
	}
	if st.expired(s) {
		st.remove(s, "expired")
		st.publish(events.SessionExpiredPayload{UserID: userID, SessionID: s.ID()}, s.ID())
		return nil, false
	}
	return s, true
}

// ByID returns the live session with the given session id.
func (st *Store) ByID(sessionID string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.byID[sessionID]
	if !ok {
		return nil, false
	}
	if st.expired(s) {
		st.remove(s, "expired")
		st.publish(events.SessionExpiredPayload{UserID: s.UserID(), SessionID: sessionID}, sessionID)
		return nil, false
	}
	return s, true
}

// Clear removes a user's session entirely.
func (st *Store) Clear(userID, reason string) bool {
	st.mu.Lock()
	s, ok := st.byUser[userID]
	if ok {
		st.remove(s, reason)
	}
	st.mu.Unlock()

	if ok {
		st.publish(events.SessionClearedPayload{UserID: userID, SessionID: s.ID(), Reason: reason}, s.ID())
		slog.Debug("session cleared", "session_id", s.ID(), "user_id", userID, "reason", reason)
	}
	return ok
}

// ClearHistory drops a user's operation history, keeping the session.
func (st *Store) ClearHistory(userID string) bool {
	s, ok := st.Get(userID)
	if !ok {
		return false
	}
	s.ClearHistory()
	return true
}

// ClearAll removes every session and reports how many were dropped.
func (st *Store) ClearAll() int {
	st.mu.Lock()
	dropped := make([]*Session, 0, len(st.byUser))
	for _, s := range st.byUser {
		dropped = append(dropped, s)
	}
	for _, s := range dropped {
		st.remove(s, "clear-all")
	}
	st.mu.Unlock()

	for _, s := range dropped {
		st.publish(events.SessionClearedPayload{UserID: s.UserID(), SessionID: s.ID(), Reason: "clear-all"}, s.ID())
	}
	return len(dropped)
}

// All returns every live session, most recently active first.
func (st *Store) All() []*Session {
	st.SweepExpired()

	st.mu.RLock()
	out := make([]*Session, 0, len(st.byUser))
	for _, s := range st.byUser {
		out = append(out, s)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byUser)
}

// SweepExpired removes expired sessions and drops stale pending
// confirmations from live ones. Returns the number of sessions removed.
func (st *Store) SweepExpired() int {
	st.mu.Lock()
	var removed []*Session
	for _, s := range st.byUser {
		if st.expired(s) {
			st.remove(s, "expired")
			removed = append(removed, s)
			continue
		}
		if s.Pending().Expired(st.confirmTTL) {
			s.SetPending(nil)
			slog.Debug("stale confirmation dropped", "session_id", s.ID())
		}
	}
	st.mu.Unlock()

	for _, s := range removed {
		st.publish(events.SessionExpiredPayload{UserID: s.UserID(), SessionID: s.ID()}, s.ID())
		slog.Debug("session expired", "session_id", s.ID())
	}
	return len(removed)
}

// remove deletes a session from both indexes and archives its final
// snapshot. Caller holds st.mu.
func (st *Store) remove(s *Session, reason string) {
	delete(st.byUser, s.UserID())
	delete(st.byID, s.ID())
	if st.archive != nil {
		if err := st.archive.Write(s.Snapshot(), reason); err != nil {
			slog.Warn("session archive failed", "session_id", s.ID(), "error", err)
		}
	}
}

func (st *Store) expired(s *Session) bool {
	return time.Since(s.LastActivity()) > st.timeout
}

func (st *Store) publish(payload events.EventPayload, sessionID string) {
	if st.bus == nil {
		return
	}
	st.bus.Publish(events.NewTypedEventWithSession(events.SourceSessions, payload, sessionID))
}
