// Package tools presents a uniform view of heterogeneous backend tools and
// routes invocations to their transports.
package tools

import (
	"context"
	"encoding/json"
)

// ToolInfo describes one discovered tool.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Transport   string          `json:"transport,omitempty"` // owning transport, set during discovery
}

// Transport provides discovery and invocation for a family of tools.
// Implementations: MCP client sessions (remote tool services) and the local
// in-process toolset. Call returns an error only when delivery fails; a tool
// refusing the request comes back as a failed envelope.
type Transport interface {
	Name() string
	ListTools(ctx context.Context) ([]ToolInfo, error)
	Call(ctx context.Context, tool string, args map[string]any) (Envelope, error)
}

// Envelope is the uniform tool response shape: either {success:true, data}
// or {success:false, error}.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ParseEnvelope interprets raw tool output. An object carrying a "success"
// key is taken as an envelope, whatever the verdict; anything else is wrapped
// as successful data so that tools returning bare JSON still work.
func ParseEnvelope(raw []byte) Envelope {
	var probe struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Success != nil {
		return Envelope{Success: *probe.Success, Data: probe.Data, Error: probe.Error}
	}
	if !json.Valid(raw) {
		quoted, _ := json.Marshal(string(raw))
		return Envelope{Success: true, Data: quoted}
	}
	return Envelope{Success: true, Data: append(json.RawMessage(nil), raw...)}
}

// Call is one invocation request handed to the registry.
type Call struct {
	Tool      string
	Args      map[string]any
	AuthToken string
	SessionID string // attached to published tool events
}
