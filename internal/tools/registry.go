package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/gardehq/garde/internal/events"
)

// Route binds a tool-name glob to a transport. Routes are evaluated in
// declaration order and the first match wins.
type Route struct {
	Pattern   string
	Transport string
}

// RegistryConfig carries everything the registry needs at construction time.
type RegistryConfig struct {
	Transports       []Transport
	Routes           []Route
	DefaultTransport string
	CallTimeout      time.Duration
	ToolTimeouts     map[string]time.Duration
	ServiceToken     string
	DummyToken       string
	Bus              *events.Bus
}

// Registry is the unified tool catalog. It discovers tools from every
// configured transport once at startup, validates arguments against the
// discovered schemas and routes invocations to the owning transport.
type Registry struct {
	transports map[string]Transport
	order      []string // transport names in configuration order

	routes           []Route
	defaultTransport string
	callTimeout      time.Duration
	toolTimeouts     map[string]time.Duration
	serviceToken     string
	dummyToken       string
	bus              *events.Bus

	infos      []ToolInfo // discovery order
	byName     map[string]ToolInfo
	validators map[string]*jsonschema.Schema
}

// NewRegistry creates a registry. Discover must be called before the first
// Invoke.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		transports:       make(map[string]Transport, len(cfg.Transports)),
		routes:           cfg.Routes,
		defaultTransport: cfg.DefaultTransport,
		callTimeout:      cfg.CallTimeout,
		toolTimeouts:     cfg.ToolTimeouts,
		serviceToken:     cfg.ServiceToken,
		dummyToken:       cfg.DummyToken,
		bus:              cfg.Bus,
		byName:           make(map[string]ToolInfo),
		validators:       make(map[string]*jsonschema.Schema),
	}
	for _, t := range cfg.Transports {
		if _, dup := r.transports[t.Name()]; dup {
			slog.Warn("duplicate transport name, keeping first", "transport", t.Name())
			continue
		}
		r.transports[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r
}

// Discover queries every transport for its tool list and caches the result.
// The catalog preserves transport configuration order, then each transport's
// own listing order. When two transports expose the same tool name the first
// one wins.
func (r *Registry) Discover(ctx context.Context) error {
	var infos []ToolInfo
	byName := make(map[string]ToolInfo)
	validators := make(map[string]*jsonschema.Schema)

	for _, name := range r.order {
		transport := r.transports[name]
		listed, err := transport.ListTools(ctx)
		if err != nil {
			return fmt.Errorf("discover tools on %s: %w", name, err)
		}
		for _, info := range listed {
			if prev, dup := byName[info.Name]; dup {
				slog.Warn("duplicate tool name, keeping first",
					"tool", info.Name, "kept", prev.Transport, "ignored", name)
				continue
			}
			info.Transport = name
			if len(info.InputSchema) > 0 {
				sch, err := compileSchema(info.InputSchema)
				if err != nil {
					slog.Warn("tool schema does not compile, skipping validation",
						"tool", info.Name, "error", err)
				} else {
					validators[info.Name] = sch
				}
			}
			byName[info.Name] = info
			infos = append(infos, info)
		}
		slog.Debug("transport discovered", "transport", name, "tools", len(listed))
	}

	r.infos = infos
	r.byName = byName
	r.validators = validators
	slog.Info("tool discovery complete", "transports", len(r.order), "tools", len(infos))
	return nil
}

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// ListTools returns the discovered catalog in stable order.
func (r *Registry) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(r.infos))
	copy(out, r.infos)
	return out
}

// Tool returns the descriptor for name.
func (r *Registry) Tool(name string) (ToolInfo, bool) {
	info, ok := r.byName[name]
	return info, ok
}

// Has reports whether name is in the catalog.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// ToolNames returns every discovered tool name, sorted.
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptions returns tool name → description for the whole catalog.
func (r *Registry) Descriptions() map[string]string {
	descs := make(map[string]string, len(r.infos))
	for _, info := range r.infos {
		descs[info.Name] = info.Description
	}
	return descs
}

// resolveTransport picks the transport for a tool: explicit routes first,
// then the transport that listed the tool, then the configured default.
func (r *Registry) resolveTransport(tool string) (Transport, error) {
	for _, route := range r.routes {
		ok, err := doublestar.Match(route.Pattern, tool)
		if err != nil {
			slog.Warn("bad route pattern", "pattern", route.Pattern, "error", err)
			continue
		}
		if ok {
			if t, exists := r.transports[route.Transport]; exists {
				return t, nil
			}
			return nil, fmt.Errorf("route %q targets unknown transport %q", route.Pattern, route.Transport)
		}
	}
	if info, ok := r.byName[tool]; ok {
		if t, exists := r.transports[info.Transport]; exists {
			return t, nil
		}
	}
	if t, exists := r.transports[r.defaultTransport]; exists {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
}

// Invoke validates, routes and executes one tool call. Domain failures come
// back as (*ToolError); delivery failures as (*TransportError); schema
// rejections as (*ValidationError).
func (r *Registry) Invoke(ctx context.Context, call Call) (Envelope, error) {
	if !r.Has(call.Tool) {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Tool)
	}
	transport, err := r.resolveTransport(call.Tool)
	if err != nil {
		return Envelope{}, err
	}

	args := r.prepareArgs(call)
	if err := r.validateArgs(call.Tool, args); err != nil {
		return Envelope{}, err
	}

	timeout := r.callTimeout
	if per, ok := r.toolTimeouts[call.Tool]; ok {
		timeout = per
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.publishToolEvent(call, transport.Name(), events.ToolStatusStarted, nil, "")
	started := time.Now()

	env, err := transport.Call(ctx, call.Tool, args)
	elapsed := time.Since(started)
	if err != nil {
		terr := &TransportError{Tool: call.Tool, Transport: transport.Name(), Err: err}
		r.publishToolEvent(call, transport.Name(), events.ToolStatusFailed, nil, terr.Error())
		slog.Warn("tool call failed in transit", "tool", call.Tool, "transport", transport.Name(), "error", err)
		return Envelope{}, terr
	}

	if !env.Success {
		derr := &ToolError{Tool: call.Tool, Message: env.Error}
		r.publishToolEvent(call, transport.Name(), events.ToolStatusFailed, nil, env.Error)
		slog.Debug("tool rejected call", "tool", call.Tool, "error", env.Error, "duration", elapsed)
		return env, derr
	}

	r.publishToolEvent(call, transport.Name(), events.ToolStatusCompleted, env.Data, "")
	slog.Debug("tool call completed", "tool", call.Tool, "transport", transport.Name(), "duration", elapsed)
	return env, nil
}

// prepareArgs copies the caller's arguments and injects the session auth
// token. The planner's dummy placeholder is swapped for the configured
// service token so downstream services see real credentials.
func (r *Registry) prepareArgs(call Call) map[string]any {
	args := make(map[string]any, len(call.Args)+1)
	for k, v := range call.Args {
		args[k] = v
	}
	token := call.AuthToken
	if existing, ok := args["auth_token"].(string); ok && token == "" {
		token = existing
	}
	if token == "" || token == r.dummyToken {
		if r.serviceToken != "" {
			token = r.serviceToken
		} else if token == "" {
			token = r.dummyToken
		}
	}
	if token != "" {
		args["auth_token"] = token
	}
	return args
}

func (r *Registry) validateArgs(tool string, args map[string]any) error {
	sch, ok := r.validators[tool]
	if sch == nil || !ok {
		return nil
	}
	// Roundtrip so typed values (ints, json.RawMessage) become plain JSON
	// shapes the validator understands.
	raw, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Tool: tool, Detail: err.Error()}
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &ValidationError{Tool: tool, Detail: err.Error()}
	}
	if err := sch.Validate(payload); err != nil {
		return &ValidationError{Tool: tool, Detail: err.Error()}
	}
	return nil
}

func (r *Registry) publishToolEvent(call Call, transport string, status events.ToolStatus, result json.RawMessage, errMsg string) {
	if r.bus == nil {
		return
	}
	var resultStr string
	if len(result) > 0 {
		resultStr = string(result)
	}
	r.bus.Publish(events.NewTypedEventWithSession(
		events.SourceTools,
		events.ToolCallPayload{
			Status:    status,
			Name:      call.Tool,
			Transport: transport,
			Arguments: redactArgs(call.Args),
			Result:    resultStr,
			Error:     errMsg,
		},
		call.SessionID,
	))
}

// redactArgs strips credentials before arguments reach the event stream.
func redactArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == "auth_token" {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}
