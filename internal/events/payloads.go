package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TURN LIFECYCLE EVENTS
// =============================================================================

// ProgressInfo is the progress snapshot carried by turn lifecycle events.
type ProgressInfo struct {
	TotalTasks         int    `json:"total_tasks"`
	CompletedTasks     int    `json:"completed_tasks"`
	ProgressPercentage int    `json:"progress_percentage"`
	CurrentTask        string `json:"current_task,omitempty"`
	RemainingTasks     int    `json:"remaining_tasks"`
	IsComplete         bool   `json:"is_complete"`
}

// ErrorInfo describes a turn-level failure in user-safe terms.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type TurnStartedPayload struct {
	Message  string       `json:"message,omitempty"`
	Progress ProgressInfo `json:"progress"`
}

func (TurnStartedPayload) EventType() EventType { return EventTurnStarted }

type TaskProgressPayload struct {
	TaskID   string       `json:"task_id"`
	Status   string       `json:"status"`
	Message  string       `json:"message,omitempty"`
	Progress ProgressInfo `json:"progress"`
}

func (TaskProgressPayload) EventType() EventType { return EventTaskProgress }

type TurnErrorPayload struct {
	Message  string       `json:"message,omitempty"`
	Progress ProgressInfo `json:"progress"`
	Error    *ErrorInfo   `json:"error,omitempty"`
}

func (TurnErrorPayload) EventType() EventType { return EventTurnError }

type TurnCompletedPayload struct {
	Message  string       `json:"message,omitempty"`
	Progress ProgressInfo `json:"progress"`
}

func (TurnCompletedPayload) EventType() EventType { return EventTurnCompleted }

// =============================================================================
// CONFIRMATION EVENTS
// =============================================================================

type ConfirmationRequestedPayload struct {
	ItemName string   `json:"item_name"`
	Options  []string `json:"options"`
	Prompt   string   `json:"prompt"`
}

func (ConfirmationRequestedPayload) EventType() EventType { return EventConfirmationRequested }

type ConfirmationResolvedPayload struct {
	Choice    string `json:"choice"`
	Cancelled bool   `json:"cancelled"`
}

func (ConfirmationResolvedPayload) EventType() EventType { return EventConfirmationResolved }

// =============================================================================
// TOOL EVENTS
// =============================================================================

type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
)

type ToolCallPayload struct {
	Status    ToolStatus     `json:"status"`
	Name      string         `json:"name"`
	Transport string         `json:"transport,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

// =============================================================================
// INTERNAL EVENTS
// =============================================================================

type LLMCallPayload struct {
	Phase        string        `json:"phase"` // "request" or "response"
	Model        string        `json:"model"`
	Provider     string        `json:"provider,omitempty"`
	Purpose      string        `json:"purpose,omitempty"` // "plan" or "compose"
	MessageCount int           `json:"message_count,omitempty"`
	TokensInput  int           `json:"tokens_input,omitempty"`
	TokensOutput int           `json:"tokens_output,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

// =============================================================================
// SESSION EVENTS
// =============================================================================

type SessionCreatedPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (SessionCreatedPayload) EventType() EventType { return EventSessionCreated }

type SessionClearedPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func (SessionClearedPayload) EventType() EventType { return EventSessionCleared }

type SessionExpiredPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (SessionExpiredPayload) EventType() EventType { return EventSessionExpired }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetTurnStartedPayload(e Event) (TurnStartedPayload, bool) {
	return ExtractPayload[TurnStartedPayload](e)
}

func GetTaskProgressPayload(e Event) (TaskProgressPayload, bool) {
	return ExtractPayload[TaskProgressPayload](e)
}

func GetTurnErrorPayload(e Event) (TurnErrorPayload, bool) {
	return ExtractPayload[TurnErrorPayload](e)
}

func GetTurnCompletedPayload(e Event) (TurnCompletedPayload, bool) {
	return ExtractPayload[TurnCompletedPayload](e)
}

func GetToolCallPayload(e Event) (ToolCallPayload, bool) {
	return ExtractPayload[ToolCallPayload](e)
}

func GetLLMCallPayload(e Event) (LLMCallPayload, bool) {
	return ExtractPayload[LLMCallPayload](e)
}
