package executor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gardehq/garde/internal/events"
	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tasks"
	"github.com/gardehq/garde/internal/tools"
)

func TestExecute_LinearChainInjectsResults(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)

	inv := &fakeInvoker{handler: func(call tools.Call) (tools.Envelope, error) {
		switch call.Tool {
		case "inventory_list_items":
			return env(`{"items":[{"id":"itm-7","name":"milk"}]}`), nil
		case "inventory_delete_item":
			return env(`{"deleted":true}`), nil
		default:
			return tools.Envelope{}, tools.ErrUnknownTool
		}
	}}

	plan := tasks.NewPlan("remove the milk", []*tasks.Task{
		{ID: "t1", Description: "list inventory", Tool: "inventory_list_items", Status: tasks.StatusPending},
		{ID: "t2", Description: "delete the milk", Tool: "inventory_delete_item", Status: tasks.StatusPending,
			DependsOn: []string{"t1"},
			Parameters: map[string]any{
				"item_id": map[string]any{"from_task": "t1", "path": "items.0.id"},
			}},
	})

	out, err := New(Config{Invoker: inv}).Execute(context.Background(), session, plan, NewChain(bus, session.ID()))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.State != OutcomeCompleted {
		t.Fatalf("expected completed outcome, got %v", out.State)
	}
	for _, task := range plan.Tasks {
		if task.Status != tasks.StatusCompleted {
			t.Errorf("task %s: expected completed, got %s", task.ID, task.Status)
		}
	}

	calls := inv.callsFor("inventory_delete_item")
	if len(calls) != 1 {
		t.Fatalf("expected 1 delete call, got %d", len(calls))
	}
	if calls[0].Args["item_id"] != "itm-7" {
		t.Errorf("result reference not injected: %v", calls[0].Args)
	}
	if calls[0].AuthToken != "tok-1" {
		t.Errorf("auth token not propagated: %q", calls[0].AuthToken)
	}
}

func TestExecute_BoundsParallelDispatch(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)

	inv := &fakeInvoker{handler: func(call tools.Call) (tools.Envelope, error) {
		time.Sleep(20 * time.Millisecond)
		return env(`{}`), nil
	}}

	var list []*tasks.Task
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		list = append(list, &tasks.Task{ID: id, Tool: "recipe_search", Status: tasks.StatusPending})
	}
	plan := tasks.NewPlan("find recipes", list)

	exec := New(Config{Invoker: inv, MaxConcurrent: 2})
	if _, err := exec.Execute(context.Background(), session, plan, NewChain(bus, session.ID())); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := inv.maxObserved(); got > 2 {
		t.Errorf("parallelism bound violated: %d in flight", got)
	}
	if got := inv.maxObserved(); got < 2 {
		t.Errorf("independent tasks never overlapped: max %d in flight", got)
	}
	if plan.CountByStatus(tasks.StatusCompleted) != 4 {
		t.Errorf("expected all 4 completed, got %d", plan.CountByStatus(tasks.StatusCompleted))
	}
}

func TestExecute_PriorityOrdersDispatch(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)

	inv := &fakeInvoker{}
	plan := tasks.NewPlan("u", []*tasks.Task{
		{ID: "slow", Tool: "tool_a", Priority: 2, Status: tasks.StatusPending},
		{ID: "first", Tool: "tool_b", Priority: 1, Status: tasks.StatusPending},
		{ID: "last", Tool: "tool_c", Priority: 3, Status: tasks.StatusPending},
	})

	exec := New(Config{Invoker: inv, MaxConcurrent: 1})
	if _, err := exec.Execute(context.Background(), session, plan, NewChain(bus, session.ID())); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var order []string
	for _, c := range inv.allCalls() {
		order = append(order, c.Tool)
	}
	want := []string{"tool_b", "tool_a", "tool_c"}
	if len(order) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", order, want)
		}
	}
}

func TestExecute_RetriesThenFallback(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)
	rec := recordFrames(bus)

	inv := &fakeInvoker{handler: func(call tools.Call) (tools.Envelope, error) {
		switch call.Tool {
		case "menu_generate":
			return tools.Envelope{}, &tools.ToolError{Tool: call.Tool, Message: "llm unavailable"}
		case "menu_from_recipes":
			return env(`{"menu":"pasta night"}`), nil
		default:
			return tools.Envelope{}, tools.ErrUnknownTool
		}
	}}

	task := &tasks.Task{
		ID: "t1", Description: "generate a menu", Tool: "menu_generate",
		MaxRetries: 2, FallbackTool: "menu_from_recipes",
		Parameters: map[string]any{"people": float64(2)},
		Status:     tasks.StatusPending,
	}
	plan := tasks.NewPlan("plan dinner", []*tasks.Task{task})

	exec := New(Config{Invoker: inv, RetryBackoff: time.Millisecond})
	out, err := exec.Execute(context.Background(), session, plan, NewChain(bus, session.ID()))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.State != OutcomeCompleted {
		t.Fatalf("expected completed outcome, got %v", out.State)
	}

	if got := len(inv.callsFor("menu_generate")); got != 3 {
		t.Errorf("expected 3 primary attempts, got %d", got)
	}
	if got := len(inv.callsFor("menu_from_recipes")); got != 1 {
		t.Errorf("expected 1 fallback call, got %d", got)
	}
	// Fallback reuses the already-resolved arguments.
	if fb := inv.callsFor("menu_from_recipes"); fb[0].Args["people"] != float64(2) {
		t.Errorf("fallback did not reuse resolved args: %v", fb[0].Args)
	}

	if task.Status != tasks.StatusCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	if !strings.Contains(string(task.Result), "pasta night") {
		t.Errorf("fallback result not recorded: %s", task.Result)
	}
	if task.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", task.RetryCount)
	}

	evs := rec.settle()
	if n := len(framesOfType(evs, events.EventTurnError)); n != 0 {
		t.Errorf("fallback absorbed the failure but %d error frames were emitted", n)
	}
	progress := framesOfType(evs, events.EventTaskProgress)
	if len(progress) == 0 {
		t.Fatal("no progress frames")
	}
	final, _ := events.GetTaskProgressPayload(progress[len(progress)-1])
	if final.Progress.ProgressPercentage != 100 {
		t.Errorf("expected 100%%, got %d", final.Progress.ProgressPercentage)
	}
}

func TestExecute_UnknownToolFailsWithoutRetry(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)

	inv := &fakeInvoker{handler: func(call tools.Call) (tools.Envelope, error) {
		return tools.Envelope{}, tools.ErrUnknownTool
	}}
	task := &tasks.Task{ID: "t1", Tool: "no_such_tool", MaxRetries: 3, Status: tasks.StatusPending}
	plan := tasks.NewPlan("u", []*tasks.Task{task})

	exec := New(Config{Invoker: inv, RetryBackoff: time.Millisecond})
	if _, err := exec.Execute(context.Background(), session, plan, NewChain(bus, session.ID())); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := len(inv.allCalls()); got != 1 {
		t.Errorf("unknown tool retried: %d calls", got)
	}
	if task.Status != tasks.StatusFailed {
		t.Errorf("expected failed, got %s", task.Status)
	}
}

func TestExecute_FailureCascadeSkipsDependents(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)
	rec := recordFrames(bus)

	inv := &fakeInvoker{handler: func(call tools.Call) (tools.Envelope, error) {
		if call.Tool == "recipe_search" {
			return tools.Envelope{}, &tools.TransportError{Tool: call.Tool, Transport: "mcp", Err: errors.New("connection refused")}
		}
		return env(`{}`), nil
	}}

	plan := tasks.NewPlan("dinner plan", []*tasks.Task{
		{ID: "t1", Description: "find recipes", Tool: "recipe_search", Status: tasks.StatusPending},
		{ID: "t2", Description: "build menu", Tool: "menu_from_recipes", Status: tasks.StatusPending, DependsOn: []string{"t1"}},
		{ID: "t3", Description: "fetch links", Tool: "recipe_urls", Status: tasks.StatusPending, DependsOn: []string{"t2"}},
		{ID: "t4", Description: "list inventory", Tool: "inventory_list_items", Status: tasks.StatusPending},
	})

	exec := New(Config{Invoker: inv, RetryBackoff: time.Millisecond})
	out, err := exec.Execute(context.Background(), session, plan, NewChain(bus, session.ID()))
	if err != nil {
		t.Fatalf("task failures must not abort the plan: %v", err)
	}
	if out.State != OutcomeCompleted {
		t.Fatalf("expected completed outcome, got %v", out.State)
	}

	if got := plan.Task("t1").Status; got != tasks.StatusFailed {
		t.Errorf("t1: expected failed, got %s", got)
	}
	for _, id := range []string{"t2", "t3"} {
		if got := plan.Task(id).Status; got != tasks.StatusSkipped {
			t.Errorf("%s: expected skipped, got %s", id, got)
		}
	}
	if got := plan.Task("t4").Status; got != tasks.StatusCompleted {
		t.Errorf("t4: expected completed, got %s", got)
	}

	evs := rec.settle()
	if n := len(framesOfType(evs, events.EventTurnError)); n != 1 {
		t.Errorf("expected 1 error frame for the failed task, got %d", n)
	}
}

func TestExecute_SuspendsOnAmbiguousMutation(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)
	session.SetInventory([]sessions.InventoryItem{
		{ID: "itm-1", Name: "milk", Quantity: 1, Unit: "l", CreatedAt: time.Now().Add(-48 * time.Hour)},
		{ID: "itm-2", Name: "milk", Quantity: 1, Unit: "l", CreatedAt: time.Now()},
	})
	rec := recordFrames(bus)

	inv := &fakeInvoker{}
	plan := tasks.NewPlan("update the milk", []*tasks.Task{
		{ID: "t1", Description: "list items", Tool: "inventory_list_items", Status: tasks.StatusPending},
		{ID: "t2", Description: "update the milk", Tool: "inventory_update_item_by_name", Status: tasks.StatusPending,
			DependsOn:  []string{"t1"},
			Parameters: map[string]any{"item_name": "milk", "quantity": float64(3)}},
	})

	out, err := New(Config{Invoker: inv}).Execute(context.Background(), session, plan, NewChain(bus, session.ID()))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.State != OutcomeSuspended {
		t.Fatalf("expected suspended outcome, got %v", out.State)
	}
	if out.Suspension == nil {
		t.Fatal("suspended outcome without pending confirmation")
	}
	if session.Pending() != out.Suspension {
		t.Error("pending confirmation not parked on the session")
	}

	pending := out.Suspension
	if pending.OriginalTask.ID != "t2" {
		t.Errorf("expected original task t2, got %s", pending.OriginalTask.ID)
	}
	if pending.ItemName != "milk" || len(pending.Candidates) != 2 {
		t.Errorf("unexpected ambiguity: item=%q candidates=%d", pending.ItemName, len(pending.Candidates))
	}
	wantOpts := []string{"oldest", "latest", "all", "cancel"}
	for i, opt := range wantOpts {
		if pending.Options[i] != opt {
			t.Fatalf("options %v, want %v", pending.Options, wantOpts)
		}
	}
	if len(pending.Executed) != 1 || pending.Executed[0].ID != "t1" {
		t.Errorf("executed partition wrong: %+v", pending.Executed)
	}

	// The ambiguous mutation must not have run, and its status stays pending.
	if got := len(inv.callsFor("inventory_update_item_by_name")); got != 0 {
		t.Errorf("ambiguous mutation dispatched %d times", got)
	}
	if got := plan.Task("t2").Status; got != tasks.StatusPending {
		t.Errorf("suspended task: expected pending, got %s", got)
	}

	evs := rec.settle()
	if n := len(framesOfType(evs, events.EventConfirmationRequested)); n != 1 {
		t.Errorf("expected 1 confirmation frame, got %d", n)
	}
	if n := len(framesOfType(evs, events.EventTurnCompleted)); n != 0 {
		t.Errorf("suspended turn must not emit complete, got %d", n)
	}
}

func TestExecute_ConfirmedTaskBypassesDetection(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)
	session.SetInventory([]sessions.InventoryItem{
		{ID: "itm-1", Name: "milk", CreatedAt: time.Now().Add(-time.Hour)},
		{ID: "itm-2", Name: "milk", CreatedAt: time.Now()},
	})

	inv := &fakeInvoker{}
	task := &tasks.Task{
		ID: "t1", Tool: "inventory_update_item_by_name_oldest", Confirmed: true,
		Parameters: map[string]any{"item_name": "milk", "quantity": float64(2)},
		Status:     tasks.StatusPending,
	}
	plan := tasks.NewPlan("u", []*tasks.Task{task})

	out, err := New(Config{Invoker: inv}).Execute(context.Background(), session, plan, NewChain(bus, session.ID()))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.State != OutcomeCompleted {
		t.Fatalf("confirmed task suspended again: %v", out.State)
	}
	if got := len(inv.callsFor("inventory_update_item_by_name_oldest")); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestExecute_StuckPlanSkipsRemainder(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)
	rec := recordFrames(bus)

	// t1 entered terminal failure before this pass; t2 can never become ready.
	plan := tasks.NewPlan("u", []*tasks.Task{
		{ID: "t1", Tool: "tool_a", Status: tasks.StatusFailed},
		{ID: "t2", Tool: "tool_b", Status: tasks.StatusPending, DependsOn: []string{"t9"}},
	})

	_, err := New(Config{Invoker: &fakeInvoker{}}).Execute(context.Background(), session, plan, NewChain(bus, session.ID()))
	if !errors.Is(err, ErrStuckPlan) {
		t.Fatalf("expected ErrStuckPlan, got %v", err)
	}
	if got := plan.Task("t2").Status; got != tasks.StatusSkipped {
		t.Errorf("expected skipped, got %s", got)
	}

	evs := rec.settle()
	errFrames := framesOfType(evs, events.EventTurnError)
	if len(errFrames) == 0 {
		t.Fatal("stuck plan emitted no error frame")
	}
	payload, _ := events.GetTurnErrorPayload(errFrames[len(errFrames)-1])
	if payload.Error == nil || payload.Error.Code != "stuck_plan" {
		t.Errorf("unexpected error payload: %+v", payload.Error)
	}
}

func TestExecute_DispatchPanicAbortsPlan(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)
	rec := recordFrames(bus)

	inv := &fakeInvoker{handler: func(call tools.Call) (tools.Envelope, error) {
		if call.Tool == "tool_boom" {
			panic("nil map write")
		}
		return env(`{}`), nil
	}}
	plan := tasks.NewPlan("u", []*tasks.Task{
		{ID: "t1", Tool: "tool_boom", Status: tasks.StatusPending},
		{ID: "t2", Tool: "tool_ok", Status: tasks.StatusPending, DependsOn: []string{"t1"}},
	})

	out, err := New(Config{Invoker: inv}).Execute(context.Background(), session, plan, NewChain(bus, session.ID()))
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if out.State != OutcomeCompleted {
		t.Fatalf("aborted plan must report a completed (not suspended) outcome, got %v", out.State)
	}
	if got := plan.Task("t2").Status; got != tasks.StatusSkipped {
		t.Errorf("expected dependent skipped on abort, got %s", got)
	}

	evs := rec.settle()
	var sawSystem bool
	for _, e := range framesOfType(evs, events.EventTurnError) {
		if p, ok := events.GetTurnErrorPayload(e); ok && p.Error != nil && p.Error.Code == "internal_error" {
			sawSystem = true
		}
	}
	if !sawSystem {
		t.Error("no system error frame after dispatch panic")
	}
}

func TestExecute_ContextCancellation(t *testing.T) {
	bus := events.NewBus(256)
	defer bus.Close()
	session := newExecSession(t, bus)

	ctx, cancel := context.WithCancel(context.Background())
	inv := &fakeInvoker{handler: func(call tools.Call) (tools.Envelope, error) {
		cancel()
		return env(`{}`), nil
	}}
	plan := tasks.NewPlan("u", []*tasks.Task{
		{ID: "t1", Tool: "tool_a", Status: tasks.StatusPending},
		{ID: "t2", Tool: "tool_b", Status: tasks.StatusPending, DependsOn: []string{"t1"}},
	})

	_, err := New(Config{Invoker: inv}).Execute(ctx, session, plan, NewChain(bus, session.ID()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := plan.Task("t2").Status; got != tasks.StatusSkipped {
		t.Errorf("expected t2 skipped after cancellation, got %s", got)
	}
}

// --- helpers ---

type fakeInvoker struct {
	mu      sync.Mutex
	calls   []tools.Call
	handler func(call tools.Call) (tools.Envelope, error)

	inflight int32
	maxSeen  int32
}

func (f *fakeInvoker) Invoke(_ context.Context, call tools.Call) (tools.Envelope, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inflight, -1)

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.handler != nil {
		return f.handler(call)
	}
	return env(`{}`), nil
}

func (f *fakeInvoker) allCalls() []tools.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tools.Call(nil), f.calls...)
}

func (f *fakeInvoker) callsFor(tool string) []tools.Call {
	var out []tools.Call
	for _, c := range f.allCalls() {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeInvoker) maxObserved() int {
	return int(atomic.LoadInt32(&f.maxSeen))
}

func env(data string) tools.Envelope {
	return tools.Envelope{Success: true, Data: json.RawMessage(data)}
}

func newExecSession(t *testing.T, bus *events.Bus) *sessions.Session {
	t.Helper()
	store := sessions.NewStore(sessions.StoreConfig{Bus: bus})
	s, _ := store.GetOrCreate("user-1", "", "tok-1")
	return s
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []events.Event
}

// recordFrames captures the turn lifecycle and confirmation frames the
// progress stream is built from.
func recordFrames(bus *events.Bus) *frameRecorder {
	r := &frameRecorder{}
	bus.Subscribe(func(e events.Event) {
		r.mu.Lock()
		r.frames = append(r.frames, e)
		r.mu.Unlock()
	},
		events.EventTurnStarted,
		events.EventTaskProgress,
		events.EventTurnError,
		events.EventTurnCompleted,
		events.EventConfirmationRequested,
	)
	return r
}

// settle waits for the bus dispatch goroutine to drain, then snapshots.
func (r *frameRecorder) settle() []events.Event {
	time.Sleep(50 * time.Millisecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.frames...)
}

func framesOfType(evs []events.Event, t events.EventType) []events.Event {
	var out []events.Event
	for _, e := range evs {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func typesOf(evs []events.Event) []events.EventType {
	out := make([]events.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}
