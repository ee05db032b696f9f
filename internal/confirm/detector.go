// Package confirm implements the ambiguity detection and confirmation
// protocol for name-scoped pantry mutations.
package confirm

import (
	"strings"

	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tasks"
)

// Kind classifies how a tool selects its targets.
type Kind int

const (
	// KindNone: id-scoped or read-only; never needs confirmation.
	KindNone Kind = iota
	// KindMultiTarget: name-scoped, touches every record with the name.
	KindMultiTarget
	// KindFIFOOldest: name-scoped, touches the oldest matching record.
	KindFIFOOldest
	// KindFIFOLatest: name-scoped, touches the newest matching record.
	KindFIFOLatest
)

// Classify derives the kind from the tool name. Name-scoped mutations
// follow the *_by_name / *_by_name_oldest / *_by_name_latest convention.
func Classify(tool string) Kind {
	if !strings.Contains(tool, "_by_name") {
		return KindNone
	}
	if !isMutation(tool) {
		return KindNone
	}
	switch {
	case strings.HasSuffix(tool, "_oldest"):
		return KindFIFOOldest
	case strings.HasSuffix(tool, "_latest"):
		return KindFIFOLatest
	default:
		return KindMultiTarget
	}
}

func isMutation(tool string) bool {
	return strings.Contains(tool, "update") || strings.Contains(tool, "delete")
}

// Ambiguity describes a task that must not run without the user's say-so.
type Ambiguity struct {
	Task       *tasks.Task
	Kind       Kind
	ItemName   string
	Candidates []sessions.InventoryItem
}

// InventoryView is the slice of session state the detector needs.
type InventoryView interface {
	ItemsNamed(name string) []sessions.InventoryItem
}

// Detect reports whether the task needs confirmation before dispatch.
// Name-scoped mutations always do; even a single match gets confirmed,
// because the name may not mean what the planner assumed. Tasks already
// approved through the confirmation flow pass.
func Detect(t *tasks.Task, inv InventoryView) *Ambiguity {
	if t.Confirmed {
		return nil
	}
	kind := Classify(t.Tool)
	if kind == KindNone {
		return nil
	}

	name, _ := t.Parameters["item_name"].(string)
	var candidates []sessions.InventoryItem
	if name != "" && inv != nil {
		candidates = inv.ItemsNamed(name)
	}

	return &Ambiguity{
		Task:       t,
		Kind:       kind,
		ItemName:   name,
		Candidates: candidates,
	}
}

// verb names the action for prompts: "delete" or "update".
func (a *Ambiguity) verb() string {
	if strings.Contains(a.Task.Tool, "delete") {
		return "delete"
	}
	return "update"
}
