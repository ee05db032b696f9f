package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// MCPTransport exposes the tools of one MCP server over a client session.
// Tool output follows the MCP convention: IsError carries a domain failure
// message in the text content, otherwise the first text content holds the
// tool's JSON envelope.
type MCPTransport struct {
	name    string
	session *mcpsdk.ClientSession
}

// DialStreamableMCP connects to an MCP server over streamable HTTP.
func DialStreamableMCP(ctx context.Context, name, endpoint string) (*MCPTransport, error) {
	return NewMCPTransport(ctx, name, &mcpsdk.StreamableClientTransport{Endpoint: endpoint})
}

// DialCommandMCP starts command and speaks MCP over its stdio.
func DialCommandMCP(ctx context.Context, name, command string, args ...string) (*MCPTransport, error) {
	cmd := exec.Command(command, args...)
	return NewMCPTransport(ctx, name, &mcpsdk.CommandTransport{Command: cmd})
}

// NewMCPTransport connects over an explicit transport. Tests use this with
// in-memory transport pairs.
func NewMCPTransport(ctx context.Context, name string, transport mcpsdk.Transport) (*MCPTransport, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "garde",
		Version: "0.1.0",
	}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp transport %s: %w", name, err)
	}
	slog.Debug("mcp transport connected", "transport", name)
	return &MCPTransport{name: name, session: session}, nil
}

func (t *MCPTransport) Name() string { return t.name }

// Close terminates the underlying session.
func (t *MCPTransport) Close() error {
	if t.session == nil {
		return nil
	}
	return t.session.Close()
}

// ListTools queries the server's catalog.
func (t *MCPTransport) ListTools(ctx context.Context) ([]ToolInfo, error) {
	res, err := t.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools on %s: %w", t.name, err)
	}
	infos := make([]ToolInfo, 0, len(res.Tools))
	for _, mt := range res.Tools {
		info := ToolInfo{
			Name:        mt.Name,
			Description: mt.Description,
		}
		if mt.InputSchema != nil {
			raw, err := json.Marshal(mt.InputSchema)
			if err == nil {
				info.InputSchema = raw
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Call invokes one tool. IsError results map to a failed envelope; everything
// else is parsed as the standard envelope. The returned error covers delivery
// failures only.
func (t *MCPTransport) Call(ctx context.Context, tool string, args map[string]any) (Envelope, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal arguments for %s: %w", tool, err)
	}
	res, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: json.RawMessage(raw),
	})
	if err != nil {
		return Envelope{}, err
	}
	text := textOf(res.Content)
	if res.IsError {
		msg := strings.TrimSpace(text)
		if msg == "" {
			msg = "tool reported an error"
		}
		return Envelope{Success: false, Error: msg}, nil
	}
	return ParseEnvelope([]byte(text)), nil
}

func textOf(content []mcpsdk.Content) string {
	var b strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
