// Package tasks defines the task graph model shared by the planner and the executor.
package tasks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Task is one unit of work bound to a single tool invocation.
// Once scheduled it is immutable except for Status, Result, Error and the
// retry counter.
type Task struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Tool         string          `json:"tool"`
	Parameters   map[string]any  `json:"parameters,omitempty"`
	DependsOn    []string        `json:"dependencies,omitempty"`
	Priority     int             `json:"priority"`
	Status       Status          `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	MaxRetries   int             `json:"max_retries,omitempty"`
	FallbackTool string          `json:"fallback_tool,omitempty"`
	RetryCount   int             `json:"retry_count,omitempty"`
	// Confirmed marks a task the user already approved through the
	// confirmation flow; the ambiguity detector skips it on resume.
	Confirmed   bool       `json:"confirmed,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DependsOnTask reports whether id is among the task's dependencies.
func (t *Task) DependsOnTask(id string) bool {
	for _, d := range t.DependsOn {
		if d == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Confirmation rewrites operate on copies so the
// parked original stays intact.
func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	if t.Parameters != nil {
		c.Parameters = cloneValue(t.Parameters).(map[string]any)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	return &c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, e := range val {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
