package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/gardehq/garde/internal/config"
	"github.com/gardehq/garde/internal/events"
)

// Setup builds the tool registry from configuration: the local transport
// with its built-in tools, one MCP transport per configured endpoint, then a
// discovery pass over all of them.
func Setup(ctx context.Context, cfg *config.Config, bus *events.Bus) (*Registry, error) {
	local := NewLocalTransport()
	if err := local.Register(RespondToUser()); err != nil {
		return nil, err
	}
	RegisterWebSearch(ctx, cfg.Tools.WebSearch, local)

	transports := []Transport{local}

	// Map order is random; sort for deterministic discovery precedence.
	names := make([]string, 0, len(cfg.Tools.Transports))
	for name := range cfg.Tools.Transports {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tc := cfg.Tools.Transports[name]
		transport, err := dialTransport(ctx, name, tc)
		if err != nil {
			return nil, fmt.Errorf("transport %s: %w", name, err)
		}
		transports = append(transports, transport)
	}

	routes := make([]Route, 0, len(cfg.Tools.Routes))
	for _, rule := range cfg.Tools.Routes {
		routes = append(routes, Route{Pattern: rule.Pattern, Transport: rule.Transport})
	}

	toolTimeouts := make(map[string]time.Duration, len(cfg.Tools.ToolTimeouts))
	for tool, d := range cfg.Tools.ToolTimeouts {
		toolTimeouts[tool] = d.Duration()
	}

	registry := NewRegistry(RegistryConfig{
		Transports:       transports,
		Routes:           routes,
		DefaultTransport: cfg.Tools.Default,
		CallTimeout:      cfg.Tools.CallTimeout.Duration(),
		ToolTimeouts:     toolTimeouts,
		ServiceToken:     cfg.Tools.ServiceToken,
		DummyToken:       cfg.Tools.DummyToken,
		Bus:              bus,
	})
	if err := registry.Discover(ctx); err != nil {
		return nil, err
	}
	return registry, nil
}

func dialTransport(ctx context.Context, name string, tc config.TransportConfig) (Transport, error) {
	switch tc.Kind {
	case "mcp", "":
		if tc.URL == "" {
			return nil, fmt.Errorf("mcp transport needs a url")
		}
		return DialStreamableMCP(ctx, name, tc.URL)
	case "mcp-stdio":
		if tc.Command == "" {
			return nil, fmt.Errorf("mcp-stdio transport needs a command")
		}
		return DialCommandMCP(ctx, name, tc.Command, tc.Args...)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", tc.Kind)
	}
}

// Close shuts down every transport that holds a connection.
func (r *Registry) Close() {
	for _, name := range r.order {
		if closer, ok := r.transports[name].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				slog.Warn("transport close failed", "transport", name, "error", err)
			}
		}
	}
}
