// Package agent orchestrates a user turn end to end: plan the utterance,
// execute the task graph, compose the reply. Suspension for confirmation is
// part of the normal flow; a turn may span several HTTP requests.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gardehq/garde/internal/compose"
	"github.com/gardehq/garde/internal/confirm"
	"github.com/gardehq/garde/internal/events"
	"github.com/gardehq/garde/internal/executor"
	"github.com/gardehq/garde/internal/planner"
	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tasks"
	"github.com/gardehq/garde/internal/tools"
)

// inventoryListTool is the read used to refresh the session's inventory
// snapshot before planning and after mutations.
const inventoryListTool = "inventory_list_items"

// ToolSource is the slice of the tool registry the agent needs.
type ToolSource interface {
	ListTools() []tools.ToolInfo
	Has(name string) bool
	Invoke(ctx context.Context, call tools.Call) (tools.Envelope, error)
}

// Config wires the agent's collaborators.
type Config struct {
	Planner   *planner.Planner
	Executor  *executor.Executor
	Tools     ToolSource
	Composer  *compose.Composer
	Store     *sessions.Store
	Bus       *events.Bus
	ModelName string // reported back as model_used
}

// Agent handles chat messages and confirmation replies for all sessions.
type Agent struct {
	planner   *planner.Planner
	executor  *executor.Executor
	tools     ToolSource
	composer  *compose.Composer
	store     *sessions.Store
	bus       *events.Bus
	modelName string
}

// New builds the turn orchestrator.
func New(cfg Config) *Agent {
	return &Agent{
		planner:   cfg.Planner,
		executor:  cfg.Executor,
		tools:     cfg.Tools,
		composer:  cfg.Composer,
		store:     cfg.Store,
		bus:       cfg.Bus,
		modelName: cfg.ModelName,
	}
}

// TurnResult is the outcome of one handled request.
type TurnResult struct {
	Response             string                        `json:"response"`
	Success              bool                          `json:"success"`
	ModelUsed            string                        `json:"model_used"`
	UserID               string                        `json:"user_id"`
	SessionID            string                        `json:"session_id"`
	ConfirmationRequired bool                          `json:"confirmation_required,omitempty"`
	Confirmation         *sessions.PendingConfirmation `json:"confirmation_context,omitempty"`
}

// HandleMessage runs one chat turn. sessionID is the client's preferred id
// for a new session; an existing live session always wins. A pending
// confirmation left over from an earlier turn is discarded: a fresh message
// means the user moved on.
func (a *Agent) HandleMessage(ctx context.Context, userID, sessionID, authToken, message string) (*TurnResult, error) {
	session, created := a.store.GetOrCreate(userID, sessionID, authToken)
	if created {
		slog.Info("session started", "session_id", session.ID(), "user_id", userID)
	}

	session.BeginTurn()
	defer session.EndTurn()
	session.Touch()

	// Everything downstream of the turn publishes against this session: the
	// callback bridge and the usage tracker read it back off the context.
	ctx = events.ContextWithSessionID(ctx, session.ID())

	if stale := session.TakePending(); stale != nil {
		slog.Info("pending confirmation superseded by new message",
			"session_id", session.ID(), "confirmation_id", stale.ID)
		a.publishResolved(session.ID(), "superseded", true)
	}

	if items, ok := a.fetchInventory(ctx, session); ok {
		session.SetInventory(items)
	}

	plan, err := a.planner.Plan(ctx, message, a.tools.ListTools(), session.Inventory())
	if err != nil {
		slog.Warn("planning failed", "session_id", session.ID(), "error", err)
		return a.result(session, a.composer.ApologyPlanning(), false, nil), nil
	}

	if plan.Empty() {
		reply := a.composer.Conversation(ctx, message, session.Inventory())
		return a.result(session, reply, true, nil), nil
	}

	chain := executor.NewChain(a.bus, session.ID())
	chain.SetTaskChain(plan)
	return a.runPlan(ctx, session, plan, chain)
}

// HandleConfirmation applies the user's answer to the parked confirmation
// and resumes, cancels, or re-asks.
func (a *Agent) HandleConfirmation(ctx context.Context, userID, message string) (*TurnResult, error) {
	session, ok := a.store.Get(userID)
	if !ok {
		return &TurnResult{
			Response:  "There's no active session; nothing is waiting on a confirmation.",
			Success:   false,
			ModelUsed: a.modelName,
			UserID:    userID,
		}, nil
	}

	session.BeginTurn()
	defer session.EndTurn()
	session.Touch()

	ctx = events.ContextWithSessionID(ctx, session.ID())

	pending := session.TakePending()
	if pending == nil {
		return a.result(session, "There's nothing waiting for a confirmation right now.", false, nil), nil
	}

	if pending.Expired(a.store.ConfirmTTL()) {
		slog.Info("confirmation expired", "session_id", session.ID(),
			"confirmation_id", pending.ID, "error", confirm.ErrExpired)
		a.publishResolved(session.ID(), "expired", true)
		a.closeAbandoned(pending, session, a.composer.ConfirmationTimeout())
		return a.result(session, a.composer.ConfirmationTimeout(), false, nil), nil
	}

	resolution := confirm.Resolve(pending, message)

	if resolution.Clarify {
		// Not an answer; park the confirmation again and re-ask. The
		// original TTL keeps running.
		session.SetPending(pending)
		prompt, _ := resolution.Head.Parameters["prompt"].(string)
		if prompt == "" {
			prompt = pending.Prompt
		}
		return a.confirmResult(session, prompt, pending), nil
	}

	a.publishResolved(session.ID(), resolution.Reply.String(), resolution.Cancel)

	if resolution.Cancel {
		plan := planFromPending(pending, append([]*tasks.Task{pending.OriginalTask}, pending.RemainingChain...))
		chain := executor.NewChain(a.bus, session.ID())
		chain.SetTaskChain(plan)
		skipped := a.executor.SkipRemaining(plan, chain, "cancelled by user")
		reply := a.composer.Cancellation(skipped)
		chain.MarkComplete(reply)
		return a.result(session, reply, true, nil), nil
	}

	plan := planFromPending(pending, resolution.Tasks)
	if err := tasks.Validate(plan); err != nil {
		slog.Error("resumed plan failed validation", "session_id", session.ID(), "error", err)
		chain := executor.NewChain(a.bus, session.ID())
		chain.SetTaskChain(plan)
		a.executor.SkipRemaining(plan, chain, "internal error")
		chain.MarkComplete("The request could not be completed.")
		return a.result(session, a.composer.ApologySystem(), false, nil), nil
	}

	chain := executor.NewChain(a.bus, session.ID())
	chain.SetTaskChain(plan)
	chain.ResumeAfterConfirmation()
	return a.runPlan(ctx, session, plan, chain)
}

// runPlan executes a validated plan and turns the outcome into a reply.
func (a *Agent) runPlan(ctx context.Context, session *sessions.Session, plan *tasks.Plan, chain *executor.Chain) (*TurnResult, error) {
	outcome, err := a.executor.Execute(ctx, session, plan, chain)
	if err != nil {
		// The executor already emitted the system error frame and skipped
		// what it could; close the stream and apologise.
		chain.MarkComplete("The request could not be completed.")
		return a.result(session, a.composer.ApologySystem(), false, nil), nil
	}

	if outcome.State == executor.OutcomeSuspended {
		return a.confirmResult(session, outcome.Suspension.Prompt, outcome.Suspension), nil
	}

	a.recordHistory(ctx, session, plan)
	reply := a.composer.PlanReply(plan)
	chain.MarkComplete("")
	return a.result(session, reply, true, nil), nil
}

// closeAbandoned drains the stream of a suspension that will never resume.
func (a *Agent) closeAbandoned(pending *sessions.PendingConfirmation, session *sessions.Session, notice string) {
	plan := planFromPending(pending, append([]*tasks.Task{pending.OriginalTask}, pending.RemainingChain...))
	chain := executor.NewChain(a.bus, session.ID())
	chain.SetTaskChain(plan)
	a.executor.SkipRemaining(plan, chain, "confirmation expired")
	chain.MarkComplete(notice)
}

// recordHistory appends one entry per completed mutation and refreshes the
// inventory snapshot so the entries gain their After state.
func (a *Agent) recordHistory(ctx context.Context, session *sessions.Session, plan *tasks.Plan) {
	before := session.Inventory()
	mutated := false
	now := time.Now()
	for _, t := range plan.Tasks {
		if t.Status != tasks.StatusCompleted {
			continue
		}
		kind := mutationKind(t.Tool)
		if kind == "" {
			continue
		}
		mutated = true
		session.AppendHistory(sessions.HistoryEntry{
			Kind:    kind,
			Details: mutationDetails(t),
			Before:  before,
			At:      now,
		})
	}
	if !mutated {
		return
	}
	if items, ok := a.fetchInventory(ctx, session); ok {
		session.SetInventory(items)
		session.PatchHistoryAfter(items)
	}
}

// fetchInventory pulls the current pantry through the registry. Failures
// leave the previous snapshot in place; planning still works, just on
// staler data.
func (a *Agent) fetchInventory(ctx context.Context, session *sessions.Session) ([]sessions.InventoryItem, bool) {
	if !a.tools.Has(inventoryListTool) {
		return nil, false
	}
	env, err := a.tools.Invoke(ctx, tools.Call{
		Tool:      inventoryListTool,
		Args:      map[string]any{},
		AuthToken: session.AuthToken(),
		SessionID: session.ID(),
	})
	if err != nil {
		slog.Warn("inventory refresh failed", "session_id", session.ID(), "error", err)
		return nil, false
	}
	var out struct {
		Items []sessions.InventoryItem `json:"items"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		slog.Warn("inventory refresh returned malformed data", "session_id", session.ID(), "error", err)
		return nil, false
	}
	return out.Items, true
}

func (a *Agent) result(session *sessions.Session, response string, success bool, pending *sessions.PendingConfirmation) *TurnResult {
	return &TurnResult{
		Response:             response,
		Success:              success,
		ModelUsed:            a.modelName,
		UserID:               session.UserID(),
		SessionID:            session.ID(),
		ConfirmationRequired: pending != nil,
		Confirmation:         pending,
	}
}

func (a *Agent) confirmResult(session *sessions.Session, prompt string, pending *sessions.PendingConfirmation) *TurnResult {
	return a.result(session, prompt, true, pending)
}

func (a *Agent) publishResolved(sessionID, choice string, cancelled bool) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.NewTypedEventWithSession(events.SourceAgent, events.ConfirmationResolvedPayload{
		Choice:    choice,
		Cancelled: cancelled,
	}, sessionID))
}

// planFromPending rebuilds a runnable plan from a parked confirmation:
// the already-terminal tasks keep their results, fresh is the dispatchable
// tail. Generation advances by one.
func planFromPending(p *sessions.PendingConfirmation, fresh []*tasks.Task) *tasks.Plan {
	all := make([]*tasks.Task, 0, len(p.Executed)+len(fresh))
	all = append(all, p.Executed...)
	all = append(all, fresh...)
	plan := tasks.NewPlan(p.Utterance, all)
	plan.Generation = p.Generation + 1
	return plan
}

// mutationKind classifies a pantry write for the history log; reads return "".
func mutationKind(tool string) string {
	if !strings.HasPrefix(tool, "inventory_") {
		return ""
	}
	switch {
	case strings.Contains(tool, "add"):
		return "add"
	case strings.Contains(tool, "update"):
		return "update"
	case strings.Contains(tool, "delete"):
		return "delete"
	default:
		return ""
	}
}

func mutationDetails(t *tasks.Task) string {
	if t.Description != "" {
		return t.Description
	}
	if name, ok := t.Parameters["item_name"].(string); ok && name != "" {
		return t.Tool + " " + name
	}
	return t.Tool
}
