package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Plan is the ordered task list produced for one user utterance. Its lifetime
// is a single user turn, which may span multiple HTTP requests when the turn
// suspends for confirmation.
type Plan struct {
	ID         string    `json:"id"`
	Utterance  string    `json:"utterance"`
	Tasks      []*Task   `json:"tasks"`
	Generation int       `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewPlan wraps tasks into a plan. Task declaration order is preserved; it is
// the tie-breaker for ready-set scheduling.
func NewPlan(utterance string, tasks []*Task) *Plan {
	return &Plan{
		ID:        GeneratePlanID(),
		Utterance: utterance,
		Tasks:     tasks,
		CreatedAt: time.Now(),
	}
}

// Task returns the task with the given id, or nil.
func (p *Plan) Task(id string) *Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Empty reports whether the plan carries no tasks (pure conversation).
func (p *Plan) Empty() bool {
	return p == nil || len(p.Tasks) == 0
}

// Terminal reports whether every task has reached a terminal status.
func (p *Plan) Terminal() bool {
	for _, t := range p.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// CountByStatus returns how many tasks currently hold the given status.
func (p *Plan) CountByStatus(s Status) int {
	n := 0
	for _, t := range p.Tasks {
		if t.Status == s {
			n++
		}
	}
	return n
}

// Finished returns the number of tasks in terminal status.
func (p *Plan) Finished() int {
	n := 0
	for _, t := range p.Tasks {
		if t.Status.Terminal() {
			n++
		}
	}
	return n
}

// GeneratePlanID creates a unique plan identifier.
func GeneratePlanID() string {
	u := uuid.New().String()
	return "plan_" + strings.ReplaceAll(u[:8], "-", "")
}
