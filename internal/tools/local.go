package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// LocalTool couples an in-process Eino tool with the schema it advertises.
// The schema is declared here rather than derived from the Eino ToolInfo so
// local tools describe themselves the same way MCP tools do.
type LocalTool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Invokable   tool.InvokableTool
}

// LocalTransport hosts tools that run inside the agent process.
type LocalTransport struct {
	tools map[string]LocalTool
	order []string
}

// NewLocalTransport creates an empty local transport. The caller registers
// tools before discovery.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{tools: make(map[string]LocalTool)}
}

func (t *LocalTransport) Name() string { return "local" }

// Register adds a tool. Names must be unique within the transport.
func (t *LocalTransport) Register(lt LocalTool) error {
	if lt.Name == "" {
		return fmt.Errorf("local tool needs a name")
	}
	if lt.Invokable == nil {
		return fmt.Errorf("local tool %q has no implementation", lt.Name)
	}
	if _, exists := t.tools[lt.Name]; exists {
		return fmt.Errorf("local tool %q already registered", lt.Name)
	}
	t.tools[lt.Name] = lt
	t.order = append(t.order, lt.Name)
	return nil
}

// ListTools returns the registered tools in registration order.
func (t *LocalTransport) ListTools(_ context.Context) ([]ToolInfo, error) {
	infos := make([]ToolInfo, 0, len(t.order))
	for _, name := range t.order {
		lt := t.tools[name]
		info := ToolInfo{Name: lt.Name, Description: lt.Description}
		if lt.InputSchema != nil {
			raw, err := json.Marshal(lt.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("marshal schema for %s: %w", lt.Name, err)
			}
			info.InputSchema = raw
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Call runs the tool in-process. A tool error becomes a failed envelope;
// only context cancellation is reported as a delivery failure.
func (t *LocalTransport) Call(ctx context.Context, name string, args map[string]any) (Envelope, error) {
	lt, ok := t.tools[name]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal arguments for %s: %w", name, err)
	}
	out, err := lt.Invokable.InvokableRun(ctx, string(raw))
	if err != nil {
		if ctx.Err() != nil {
			return Envelope{}, ctx.Err()
		}
		return Envelope{Success: false, Error: err.Error()}, nil
	}
	return ParseEnvelope([]byte(out)), nil
}

// ---------------------------------------------------------------------------
// respond_to_user: conversational passthrough
// ---------------------------------------------------------------------------

// respondTool carries a message through the task pipeline unchanged. The
// planner emits it when the user's request needs words, not inventory
// operations.
type respondTool struct{}

func (respondTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "respond_to_user",
		Desc: "Respond to the user with a message when no inventory operation is needed",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"message": {
				Type:     schema.String,
				Desc:     "The message to show the user",
				Required: true,
			},
		}),
	}, nil
}

func (respondTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &in); err != nil {
		return "", fmt.Errorf("respond_to_user: %w", err)
	}
	out, err := json.Marshal(map[string]any{
		"success": true,
		"data":    map[string]any{"message": in.Message},
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

var _ tool.InvokableTool = respondTool{}

// RespondToUser returns the built-in respond_to_user local tool.
func RespondToUser() LocalTool {
	return LocalTool{
		Name:        "respond_to_user",
		Description: "Respond to the user with a message when no inventory operation is needed",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "The message to show the user",
				},
			},
			"required": []string{"message"},
		},
		Invokable: respondTool{},
	}
}
