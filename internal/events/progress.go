package events

import "time"

// Progress stream frame types.
const (
	ProgressTypeStart    = "start"
	ProgressTypeProgress = "progress"
	ProgressTypeError    = "error"
	ProgressTypeComplete = "complete"
)

// ProgressEvent is the wire representation of one progress stream frame,
// serialised as the JSON body of a `data:` SSE line.
type ProgressEvent struct {
	Type      string        `json:"type"` // start | progress | error | complete
	SessionID string        `json:"session_id"`
	Timestamp time.Time     `json:"timestamp"`
	Progress  *ProgressInfo `json:"progress,omitempty"`
	Message   string        `json:"message,omitempty"`
	Error     *ErrorInfo    `json:"error,omitempty"`
}

// ProgressEventFrom converts a turn lifecycle bus event into its wire frame.
// Events outside the turn lifecycle return false.
func ProgressEventFrom(e Event) (ProgressEvent, bool) {
	switch e.Type {
	case EventTurnStarted:
		p, ok := GetTurnStartedPayload(e)
		if !ok {
			return ProgressEvent{}, false
		}
		return ProgressEvent{
			Type:      ProgressTypeStart,
			SessionID: e.SessionID,
			Timestamp: e.Timestamp,
			Progress:  &p.Progress,
			Message:   p.Message,
		}, true
	case EventTaskProgress:
		p, ok := GetTaskProgressPayload(e)
		if !ok {
			return ProgressEvent{}, false
		}
		return ProgressEvent{
			Type:      ProgressTypeProgress,
			SessionID: e.SessionID,
			Timestamp: e.Timestamp,
			Progress:  &p.Progress,
			Message:   p.Message,
		}, true
	case EventTurnError:
		p, ok := GetTurnErrorPayload(e)
		if !ok {
			return ProgressEvent{}, false
		}
		return ProgressEvent{
			Type:      ProgressTypeError,
			SessionID: e.SessionID,
			Timestamp: e.Timestamp,
			Progress:  &p.Progress,
			Message:   p.Message,
			Error:     p.Error,
		}, true
	case EventTurnCompleted:
		p, ok := GetTurnCompletedPayload(e)
		if !ok {
			return ProgressEvent{}, false
		}
		return ProgressEvent{
			Type:      ProgressTypeComplete,
			SessionID: e.SessionID,
			Timestamp: e.Timestamp,
			Progress:  &p.Progress,
			Message:   p.Message,
		}, true
	default:
		return ProgressEvent{}, false
	}
}
