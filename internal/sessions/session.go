// Package sessions holds per-user conversation state for the pantry agent.
package sessions

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gardehq/garde/internal/tasks"
)

// HistoryCap bounds the operation history kept per session. Older entries
// fall off the front.
const HistoryCap = 10

// InventoryItem is one pantry item as the session last saw it. IDs are
// stable across the item's lifetime; CreatedAt orders same-name duplicates.
type InventoryItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  float64   `json:"quantity"`
	Unit      string    `json:"unit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry records one completed inventory operation. Before is the
// snapshot taken when the turn started; After is patched in when the turn
// completes and the refreshed snapshot is known.
type HistoryEntry struct {
	Kind    string          `json:"kind"`
	Details string          `json:"details,omitempty"`
	Before  []InventoryItem `json:"before,omitempty"`
	After   []InventoryItem `json:"after,omitempty"`
	At      time.Time       `json:"at"`
}

// PendingConfirmation parks a suspended turn while the user decides. The
// original task keeps its planned arguments; the remaining chain carries
// every task that was still queued behind it, edges to the original intact
// so they can be remapped onto the rewritten head once the user answers.
// Executed holds the tasks that reached a terminal state before the
// suspension so the resumed plan keeps their results and the progress
// counters stay monotone.
type PendingConfirmation struct {
	ID             string          `json:"id"`
	Utterance      string          `json:"utterance"`
	Generation     int             `json:"generation"`
	OriginalTask   *tasks.Task     `json:"original_task"`
	ItemName       string          `json:"item_name"`
	Candidates     []InventoryItem `json:"candidates,omitempty"`
	Executed       []*tasks.Task   `json:"executed,omitempty"`
	RemainingChain []*tasks.Task   `json:"remaining_chain,omitempty"`
	Options        []string        `json:"options"`
	Prompt         string          `json:"prompt"`
	IssuedAt       time.Time       `json:"issued_at"`
}

// Expired reports whether the confirmation is older than ttl.
func (p *PendingConfirmation) Expired(ttl time.Duration) bool {
	if p == nil {
		return false
	}
	return time.Since(p.IssuedAt) > ttl
}

// Session is one user's conversation state. Field access goes through
// methods; turns are serialized with BeginTurn/EndTurn so concurrent /chat
// requests for the same session queue up instead of interleaving.
type Session struct {
	mu     sync.RWMutex
	turnMu sync.Mutex

	sessionID    string
	userID       string
	createdAt    time.Time
	lastActivity time.Time
	authToken    string
	inventory    []InventoryItem
	history      []HistoryEntry
	pending      *PendingConfirmation
}

func newSession(id, userID, authToken string) *Session {
	now := time.Now()
	return &Session{
		sessionID:    id,
		userID:       userID,
		createdAt:    now,
		lastActivity: now,
		authToken:    authToken,
	}
}

// BeginTurn blocks until any in-flight turn on this session finishes.
func (s *Session) BeginTurn() { s.turnMu.Lock() }

// EndTurn releases the turn lock.
func (s *Session) EndTurn() { s.turnMu.Unlock() }

func (s *Session) ID() string { return s.sessionID }

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Touch marks the session active now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// AuthToken returns the bearer token from the most recent request.
func (s *Session) AuthToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authToken
}

// SetAuthToken refreshes the stored token. Empty tokens are ignored so a
// confirm request without credentials keeps the original.
func (s *Session) SetAuthToken(token string) {
	if token == "" {
		return
	}
	s.mu.Lock()
	s.authToken = token
	s.mu.Unlock()
}

// Inventory returns a copy of the inventory snapshot.
func (s *Session) Inventory() []InventoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InventoryItem, len(s.inventory))
	copy(out, s.inventory)
	return out
}

// SetInventory replaces the inventory snapshot.
func (s *Session) SetInventory(items []InventoryItem) {
	copied := make([]InventoryItem, len(items))
	copy(copied, items)
	s.mu.Lock()
	s.inventory = copied
	s.mu.Unlock()
}

// ItemsNamed returns the snapshot items whose name matches (case-insensitive),
// oldest first.
func (s *Session) ItemsNamed(name string) []InventoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []InventoryItem
	for _, item := range s.inventory {
		if strings.EqualFold(item.Name, name) {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// History returns a copy of the operation history, oldest first.
func (s *Session) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// AppendHistory records an operation, evicting the oldest entry beyond
// HistoryCap.
func (s *Session) AppendHistory(entry HistoryEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	s.mu.Lock()
	s.history = append(s.history, entry)
	if len(s.history) > HistoryCap {
		s.history = s.history[len(s.history)-HistoryCap:]
	}
	s.mu.Unlock()
}

// PatchHistoryAfter fills the after-state on every entry still missing one.
// Called once per turn, after the post-execution inventory refresh.
func (s *Session) PatchHistoryAfter(after []InventoryItem) {
	copied := make([]InventoryItem, len(after))
	copy(copied, after)
	s.mu.Lock()
	for i := range s.history {
		if s.history[i].After == nil {
			s.history[i].After = copied
		}
	}
	s.mu.Unlock()
}

// ClearHistory drops the operation history but keeps the rest of the state.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// Pending returns the parked confirmation, if any.
func (s *Session) Pending() *PendingConfirmation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

// SetPending parks a confirmation on the session.
func (s *Session) SetPending(p *PendingConfirmation) {
	s.mu.Lock()
	s.pending = p
	s.mu.Unlock()
}

// TakePending removes and returns the parked confirmation.
func (s *Session) TakePending() *PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// View is the read-only snapshot served by the status endpoints.
type View struct {
	SessionID            string          `json:"session_id"`
	UserID               string          `json:"user_id"`
	CreatedAt            time.Time       `json:"created_at"`
	LastActivity         time.Time       `json:"last_activity"`
	ItemCount            int             `json:"item_count"`
	Inventory            []InventoryItem `json:"inventory"`
	History              []HistoryEntry  `json:"operation_history"`
	AwaitingConfirmation bool            `json:"awaiting_confirmation"`
}

// Snapshot captures the session for the status endpoints.
func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv := make([]InventoryItem, len(s.inventory))
	copy(inv, s.inventory)
	hist := make([]HistoryEntry, len(s.history))
	copy(hist, s.history)
	return View{
		SessionID:            s.sessionID,
		UserID:               s.userID,
		CreatedAt:            s.createdAt,
		LastActivity:         s.lastActivity,
		ItemCount:            len(inv),
		Inventory:            inv,
		History:              hist,
		AwaitingConfirmation: s.pending != nil,
	}
}
