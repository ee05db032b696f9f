package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when no transport owns the requested tool.
var ErrUnknownTool = errors.New("unknown tool")

// ToolError is a domain failure reported by the tool itself: the transport
// worked, the backend refused. It follows the same retry policy as delivery
// failures, and the message is surfaced to the user verbatim.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// TransportError wraps a delivery failure: the backend never produced a
// verdict, so the call may be retried.
type TransportError struct {
	Tool      string
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: call %s: %v", e.Transport, e.Tool, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports arguments rejected by the tool's input schema
// before any transport was contacted.
type ValidationError struct {
	Tool   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Detail)
}
