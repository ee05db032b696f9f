package sessions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gardehq/garde/internal/storage/dirstore"
)

// Archive persists terminal session snapshots, one directory per session
// with meta.json + history.jsonl. Live lookups never touch it; the store
// writes a snapshot when a session is cleared or expires so operators can
// inspect what a user did after the in-memory state is gone.
type Archive struct {
	store *dirstore.Store
}

// NewArchive creates an Archive rooted at baseDir.
func NewArchive(baseDir string) *Archive {
	return &Archive{store: dirstore.New(baseDir, "session")}
}

// ArchivedSession is the on-disk session summary. History lives in its own
// JSONL file so a long session doesn't bloat the meta document; Operations
// records how many entries that file holds.
type ArchivedSession struct {
	View
	Reason     string `json:"reason,omitempty"`
	Operations int    `json:"operations"`
}

// Write stores a session snapshot. Re-archiving the same session id
// overwrites the previous snapshot.
func (a *Archive) Write(v View, reason string) error {
	a.store.Lock()
	defer a.store.Unlock()

	if err := a.store.Ensure(v.SessionID); err != nil {
		return err
	}

	history := v.History
	v.History = nil
	meta := ArchivedSession{View: v, Reason: reason, Operations: len(history)}
	if err := a.store.WriteMeta(v.SessionID, meta); err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, entry := range history {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal history entry: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return a.store.WriteFile(v.SessionID, "history.jsonl", buf.Bytes())
}

// List returns all archived snapshots sorted by LastActivity descending.
func (a *Archive) List() ([]ArchivedSession, error) {
	a.store.RLock()
	defer a.store.RUnlock()

	ids, err := a.store.List()
	if err != nil {
		return nil, err
	}

	var snaps []ArchivedSession
	for _, id := range ids {
		var m ArchivedSession
		if err := a.store.ReadMeta(id, &m); err != nil {
			continue // skip corrupted snapshots
		}
		snaps = append(snaps, m)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].LastActivity.After(snaps[j].LastActivity)
	})
	return snaps, nil
}

// History reads back an archived session's operation history.
func (a *Archive) History(sessionID string) ([]HistoryEntry, error) {
	a.store.RLock()
	defer a.store.RUnlock()
	return dirstore.ReadJSONL[HistoryEntry](a.store, sessionID, "history.jsonl")
}
