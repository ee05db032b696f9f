package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gardehq/garde/internal/events"
)

func TestRegistryDiscoverOrderAndOwnership(t *testing.T) {
	a := newFakeTransport("pantry",
		ToolInfo{Name: "inventory_add", Description: "add an item"},
		ToolInfo{Name: "inventory_list", Description: "list items"},
	)
	b := newFakeTransport("extra",
		ToolInfo{Name: "propose_menu", Description: "menus"},
		ToolInfo{Name: "inventory_add", Description: "shadowed"},
	)

	r := NewRegistry(RegistryConfig{Transports: []Transport{a, b}})
	if err := r.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	names := make([]string, 0)
	for _, info := range r.ListTools() {
		names = append(names, info.Name)
	}
	want := []string{"inventory_add", "inventory_list", "propose_menu"}
	if len(names) != len(want) {
		t.Fatalf("catalog = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("catalog[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	info, ok := r.Tool("inventory_add")
	if !ok {
		t.Fatal("inventory_add not found")
	}
	if info.Transport != "pantry" {
		t.Errorf("inventory_add owner = %q, want pantry (first transport wins)", info.Transport)
	}
	if info.Description != "add an item" {
		t.Errorf("inventory_add description = %q, duplicate should not overwrite", info.Description)
	}
}

func TestRegistryInvokeRoutesToOwner(t *testing.T) {
	a := newFakeTransport("pantry", ToolInfo{Name: "inventory_add"})
	b := newFakeTransport("extra", ToolInfo{Name: "propose_menu"})

	r := NewRegistry(RegistryConfig{Transports: []Transport{a, b}})
	mustDiscover(t, r)

	if _, err := r.Invoke(context.Background(), Call{Tool: "propose_menu", Args: map[string]any{}}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(a.calls) != 0 {
		t.Errorf("pantry transport got %d calls, want 0", len(a.calls))
	}
	if len(b.calls) != 1 {
		t.Fatalf("extra transport got %d calls, want 1", len(b.calls))
	}
	if b.calls[0].tool != "propose_menu" {
		t.Errorf("called tool = %q, want propose_menu", b.calls[0].tool)
	}
}

func TestRegistryRouteGlobOverridesOwner(t *testing.T) {
	a := newFakeTransport("pantry", ToolInfo{Name: "inventory_add"})
	b := newFakeTransport("mirror")

	r := NewRegistry(RegistryConfig{
		Transports: []Transport{a, b},
		Routes:     []Route{{Pattern: "inventory_*", Transport: "mirror"}},
	})
	mustDiscover(t, r)

	if _, err := r.Invoke(context.Background(), Call{Tool: "inventory_add"}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(b.calls) != 1 {
		t.Fatalf("routed transport got %d calls, want 1", len(b.calls))
	}
	if len(a.calls) != 0 {
		t.Errorf("owning transport got %d calls, want 0 when a route matches", len(a.calls))
	}
}

func TestRegistryInvokeUnknownTool(t *testing.T) {
	r := NewRegistry(RegistryConfig{Transports: []Transport{newFakeTransport("pantry")}})
	mustDiscover(t, r)

	_, err := r.Invoke(context.Background(), Call{Tool: "no_such_tool"})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Invoke() error = %v, want ErrUnknownTool", err)
	}
}

func TestRegistryAuthTokenInjection(t *testing.T) {
	tests := []struct {
		name      string
		authToken string
		want      string
	}{
		{"real token passes through", "token-abc", "token-abc"},
		{"dummy replaced by service token", "dummy-token", "svc-secret"},
		{"empty replaced by service token", "", "svc-secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport("pantry", ToolInfo{Name: "inventory_add"})
			r := NewRegistry(RegistryConfig{
				Transports:   []Transport{ft},
				ServiceToken: "svc-secret",
				DummyToken:   "dummy-token",
			})
			mustDiscover(t, r)

			callerArgs := map[string]any{"item_name": "milk"}
			_, err := r.Invoke(context.Background(), Call{
				Tool:      "inventory_add",
				Args:      callerArgs,
				AuthToken: tt.authToken,
			})
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			got := ft.calls[0].args["auth_token"]
			if got != tt.want {
				t.Errorf("auth_token = %v, want %q", got, tt.want)
			}
			if _, leaked := callerArgs["auth_token"]; leaked {
				t.Error("caller's argument map was mutated")
			}
		})
	}
}

func TestRegistrySchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"item_name": {"type": "string"},
			"quantity": {"type": "number"}
		},
		"required": ["item_name"]
	}`)
	ft := newFakeTransport("pantry", ToolInfo{Name: "inventory_add", InputSchema: schema})
	r := NewRegistry(RegistryConfig{Transports: []Transport{ft}})
	mustDiscover(t, r)

	_, err := r.Invoke(context.Background(), Call{
		Tool: "inventory_add",
		Args: map[string]any{"quantity": 2},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Invoke() error = %v, want *ValidationError", err)
	}
	if len(ft.calls) != 0 {
		t.Errorf("transport got %d calls, want 0 for rejected arguments", len(ft.calls))
	}

	_, err = r.Invoke(context.Background(), Call{
		Tool: "inventory_add",
		Args: map[string]any{"item_name": "milk", "quantity": 2},
	})
	if err != nil {
		t.Fatalf("Invoke() with valid args error = %v", err)
	}
	if len(ft.calls) != 1 {
		t.Errorf("transport got %d calls, want 1", len(ft.calls))
	}
}

func TestRegistryDomainError(t *testing.T) {
	ft := newFakeTransport("pantry", ToolInfo{Name: "inventory_delete"})
	ft.env = Envelope{Success: false, Error: "item not found: truffle oil"}

	r := NewRegistry(RegistryConfig{Transports: []Transport{ft}})
	mustDiscover(t, r)

	env, err := r.Invoke(context.Background(), Call{Tool: "inventory_delete"})
	var terr *ToolError
	if !errors.As(err, &terr) {
		t.Fatalf("Invoke() error = %v, want *ToolError", err)
	}
	if terr.Message != "item not found: truffle oil" {
		t.Errorf("ToolError message = %q, want the tool's message verbatim", terr.Message)
	}
	if env.Success {
		t.Error("envelope should carry success=false")
	}
}

func TestRegistryTransportError(t *testing.T) {
	ft := newFakeTransport("pantry", ToolInfo{Name: "inventory_list"})
	ft.err = errors.New("connection reset")

	r := NewRegistry(RegistryConfig{Transports: []Transport{ft}})
	mustDiscover(t, r)

	_, err := r.Invoke(context.Background(), Call{Tool: "inventory_list"})
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Invoke() error = %v, want *TransportError", err)
	}
	if terr.Transport != "pantry" {
		t.Errorf("TransportError transport = %q, want pantry", terr.Transport)
	}
}

func TestRegistryPublishesToolEvents(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var got []events.Event
	unsub := bus.Subscribe(func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, events.EventToolCall)
	defer unsub()

	ft := newFakeTransport("pantry", ToolInfo{Name: "inventory_add"})
	r := NewRegistry(RegistryConfig{Transports: []Transport{ft}, Bus: bus})
	mustDiscover(t, r)

	_, err := r.Invoke(context.Background(), Call{
		Tool:      "inventory_add",
		Args:      map[string]any{"item_name": "milk"},
		AuthToken: "secret-token",
		SessionID: "sess_1",
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, "two tool.call events")

	mu.Lock()
	defer mu.Unlock()
	first, ok := events.GetToolCallPayload(got[0])
	if !ok {
		t.Fatal("first event payload did not decode")
	}
	if first.Status != events.ToolStatusStarted {
		t.Errorf("first event status = %q, want started", first.Status)
	}
	second, ok := events.GetToolCallPayload(got[1])
	if !ok {
		t.Fatal("second event payload did not decode")
	}
	if second.Status != events.ToolStatusCompleted {
		t.Errorf("second event status = %q, want completed", second.Status)
	}
	if got[0].SessionID != "sess_1" {
		t.Errorf("event session = %q, want sess_1", got[0].SessionID)
	}
	if tok, present := first.Arguments["auth_token"]; present && tok != "[redacted]" {
		t.Errorf("auth_token in event = %v, want redacted", tok)
	}
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantSuccess bool
		wantError   string
		wantData    string
	}{
		{"success envelope", `{"success":true,"data":{"id":"item_1"}}`, true, "", `{"id":"item_1"}`},
		{"failure envelope", `{"success":false,"error":"boom"}`, false, "boom", ""},
		{"failure with empty error", `{"success":false,"error":""}`, false, "", ""},
		{"bare failure", `{"success":false}`, false, "", ""},
		{"bare object", `{"items":[]}`, true, "", `{"items":[]}`},
		{"bare array", `[1,2]`, true, "", `[1,2]`},
		{"plain text", `hello`, true, "", `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ParseEnvelope([]byte(tt.raw))
			if env.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", env.Success, tt.wantSuccess)
			}
			if env.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", env.Error, tt.wantError)
			}
			if tt.wantData != "" && string(env.Data) != tt.wantData {
				t.Errorf("Data = %s, want %s", env.Data, tt.wantData)
			}
		})
	}
}

// --- helpers ---

type fakeCall struct {
	tool string
	args map[string]any
}

type fakeTransport struct {
	name  string
	infos []ToolInfo
	calls []fakeCall
	env   Envelope
	err   error
}

func newFakeTransport(name string, infos ...ToolInfo) *fakeTransport {
	return &fakeTransport{
		name:  name,
		infos: infos,
		env:   Envelope{Success: true, Data: json.RawMessage(`{}`)},
	}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) ListTools(_ context.Context) ([]ToolInfo, error) {
	return f.infos, nil
}

func (f *fakeTransport) Call(_ context.Context, tool string, args map[string]any) (Envelope, error) {
	f.calls = append(f.calls, fakeCall{tool: tool, args: args})
	if f.err != nil {
		return Envelope{}, f.err
	}
	return f.env, nil
}

func mustDiscover(t *testing.T, r *Registry) {
	t.Helper()
	if err := r.Discover(context.Background()); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
