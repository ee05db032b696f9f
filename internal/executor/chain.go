// Package executor runs task plans: a ready-set scheduler over the task DAG
// with bounded parallel dispatch, result injection, per-task retry policy and
// suspension on ambiguity.
package executor

import (
	"fmt"
	"sync"

	"github.com/gardehq/garde/internal/events"
	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tasks"
)

// SystemTaskID is the pseudo task id used for failures that belong to no
// task: stuck plans, panics in the dispatch loop.
const SystemTaskID = "system"

// Chain is the bookkeeping facade over one plan execution. It tracks the
// processed/total counters, the paused flag, and publishes the progress
// frames the per-session stream is built from. Counters only ever move
// forward; a resumed plan starts from the counts its executed tasks imply.
type Chain struct {
	mu        sync.Mutex
	bus       *events.Bus
	sessionID string

	plan      *tasks.Plan
	total     int
	processed int
	counted   map[string]bool // task ids already in processed
	current   string          // description of the latest dispatched task

	paused       bool
	completeSent bool
}

// NewChain creates a chain publishing to bus under the given session id.
func NewChain(bus *events.Bus, sessionID string) *Chain {
	return &Chain{bus: bus, sessionID: sessionID, counted: make(map[string]bool)}
}

// SetTaskChain binds the chain to a plan and emits the start frame. Tasks
// already terminal (a plan resumed after confirmation) seed the processed
// counter so the stream stays monotone across the suspension.
func (c *Chain) SetTaskChain(plan *tasks.Plan) {
	c.mu.Lock()
	c.plan = plan
	c.total = len(plan.Tasks)
	c.processed = 0
	c.counted = make(map[string]bool, c.total)
	for _, t := range plan.Tasks {
		if t.Status.Terminal() {
			c.processed++
			c.counted[t.ID] = true
		}
	}
	c.paused = false
	message := fmt.Sprintf("Executing %d tasks", c.total)
	if c.processed > 0 {
		message = fmt.Sprintf("Resuming: %d of %d tasks done", c.processed, c.total)
	}
	payload := events.TurnStartedPayload{Message: message, Progress: c.progressLocked()}
	c.mu.Unlock()

	c.publish(payload)
}

// UpdateTaskProgress records a task transition. Terminal transitions emit a
// frame: completed and skipped emit progress, failed emits error. The pseudo
// id "system" emits an error frame for failures that belong to no task.
func (c *Chain) UpdateTaskProgress(taskID string, status tasks.Status) {
	if taskID == SystemTaskID {
		c.SystemError("system_error", "Something went wrong while executing your request.", "")
		return
	}

	c.mu.Lock()
	task := c.taskLocked(taskID)

	if status == tasks.StatusInProgress && task != nil {
		c.current = task.Description
	}
	if !status.Terminal() {
		c.mu.Unlock()
		return
	}

	if !c.counted[taskID] {
		c.counted[taskID] = true
		c.processed++
	}
	if task != nil && c.current == task.Description {
		c.current = ""
	}

	message := transitionMessage(task, taskID, status)
	progress := c.progressLocked()
	c.mu.Unlock()

	if status == tasks.StatusFailed {
		detail := ""
		if task != nil {
			detail = task.Error
		}
		c.publish(events.TurnErrorPayload{
			Message:  message,
			Progress: progress,
			Error:    &events.ErrorInfo{Code: "task_failed", Message: message, Details: detail},
		})
		return
	}
	c.publish(events.TaskProgressPayload{
		TaskID:   taskID,
		Status:   string(status),
		Message:  message,
		Progress: progress,
	})
}

// ProgressInfo returns the current progress snapshot.
func (c *Chain) ProgressInfo() events.ProgressInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressLocked()
}

// PauseForConfirmation flips the paused flag and announces the pending
// confirmation on the bus.
func (c *Chain) PauseForConfirmation(pending *sessions.PendingConfirmation) {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()

	c.publish(events.ConfirmationRequestedPayload{
		ItemName: pending.ItemName,
		Options:  pending.Options,
		Prompt:   pending.Prompt,
	})
}

// ResumeAfterConfirmation clears the paused flag.
func (c *Chain) ResumeAfterConfirmation() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// Paused reports whether the chain is waiting on the user.
func (c *Chain) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// MarkComplete emits the complete frame once. An empty message gets a
// generated summary.
func (c *Chain) MarkComplete(message string) {
	c.mu.Lock()
	if c.completeSent {
		c.mu.Unlock()
		return
	}
	c.completeSent = true
	if message == "" {
		message = fmt.Sprintf("%d of %d tasks completed", c.processed, c.total)
	}
	progress := c.progressLocked()
	progress.IsComplete = true
	c.mu.Unlock()

	c.publish(events.TurnCompletedPayload{Message: message, Progress: progress})
}

// SystemError emits an error frame for a failure outside any task.
func (c *Chain) SystemError(code, message, details string) {
	c.mu.Lock()
	progress := c.progressLocked()
	c.mu.Unlock()

	c.publish(events.TurnErrorPayload{
		Message:  message,
		Progress: progress,
		Error:    &events.ErrorInfo{Code: code, Message: message, Details: details},
	})
}

func (c *Chain) progressLocked() events.ProgressInfo {
	info := events.ProgressInfo{
		TotalTasks:     c.total,
		CompletedTasks: c.processed,
		CurrentTask:    c.current,
		RemainingTasks: c.total - c.processed,
	}
	if c.total > 0 {
		info.ProgressPercentage = 100 * c.processed / c.total
	}
	return info
}

func (c *Chain) taskLocked(id string) *tasks.Task {
	if c.plan == nil {
		return nil
	}
	return c.plan.Task(id)
}

func (c *Chain) publish(payload events.EventPayload) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.NewTypedEventWithSession(events.SourceExecutor, payload, c.sessionID))
}

func transitionMessage(task *tasks.Task, taskID string, status tasks.Status) string {
	label := taskID
	if task != nil && task.Description != "" {
		label = task.Description
	}
	switch status {
	case tasks.StatusCompleted:
		return fmt.Sprintf("Completed: %s", label)
	case tasks.StatusFailed:
		return fmt.Sprintf("Failed: %s", label)
	case tasks.StatusSkipped:
		return fmt.Sprintf("Skipped: %s", label)
	default:
		return label
	}
}
