// Package planner turns user utterances into dependency-ordered task plans.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gardehq/garde/internal/models"
	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tasks"
	"github.com/gardehq/garde/internal/tools"
)

// ErrPlanValidation marks a plan the model produced but the graph checks
// rejected: unknown dependency targets, cycles, or unresolvable references.
var ErrPlanValidation = errors.New("plan validation failed")

// RespondTool is the conversational fallback tool every catalog carries.
const RespondTool = "respond_to_user"

// Options tune planning behaviour.
type Options struct {
	// DisableToolFilter sends the full catalog to the model instead of the
	// keyword-relevant subset. Costs tokens, helps odd phrasings.
	DisableToolFilter bool
}

// Planner builds task plans from utterances via an LLM, with a heuristic
// fallback when the model output is unusable.
type Planner struct {
	llm  models.Client
	opts Options
}

// New creates a Planner backed by the given model client.
func New(llm models.Client, opts Options) *Planner {
	return &Planner{llm: llm, opts: opts}
}

// Plan converts an utterance into a validated task plan. The inventory
// snapshot grounds the prompt and the sanity gates. An empty plan (no tasks)
// means the turn should be answered conversationally.
func (p *Planner) Plan(ctx context.Context, utterance string, catalog []tools.ToolInfo, inventory []sessions.InventoryItem) (*tasks.Plan, error) {
	subset := catalog
	if !p.opts.DisableToolFilter {
		subset = relevantTools(utterance, catalog)
	}

	var planned []plannedTask
	raw, err := p.llm.Plan(ctx, buildSystemPrompt(subset, inventory), utterance)
	if err == nil {
		planned, err = parsePlanOutput(raw)
	}
	if err != nil {
		slog.Warn("plan generation failed, using heuristic fallback", "error", err)
		planned = fallbackTasks(utterance, catalog)
	}

	built, err := buildTasks(planned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanValidation, err)
	}

	plan := tasks.NewPlan(utterance, built)

	if gate := failedGate(plan, utterance, inventory); gate != "" {
		slog.Info("plan discarded by sanity gate", "gate", gate, "tasks", len(plan.Tasks))
		return tasks.NewPlan(utterance, nil), nil
	}

	tasks.EnsureRefDependencies(plan)
	if err := tasks.Validate(plan); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanValidation, err)
	}
	return plan, nil
}

// failedGate names the sanity gate a hallucination-suspect plan trips, or ""
// when the plan passes. Gated plans are replaced by an empty one so the turn
// degrades to conversation instead of mutating the pantry.
func failedGate(plan *tasks.Plan, utterance string, inventory []sessions.InventoryItem) string {
	if plan.Empty() {
		return ""
	}

	if isConversational(utterance) && hasWriteTask(plan) {
		return "conversational-write"
	}

	if len(strings.TrimSpace(utterance)) < 10 && len(plan.Tasks) > 2 {
		return "short-utterance-burst"
	}

	if t := unknownTargetTask(plan, inventory); t != nil {
		return "unknown-target:" + t.Tool
	}

	return ""
}

// hasWriteTask reports whether any task mutates the pantry.
func hasWriteTask(plan *tasks.Plan) bool {
	for _, t := range plan.Tasks {
		if isWriteTool(t.Tool) {
			return true
		}
	}
	return false
}

func isWriteTool(name string) bool {
	for _, verb := range []string{"_add_", "_update_", "_delete_"} {
		if strings.Contains(name, verb) {
			return true
		}
	}
	return strings.HasSuffix(name, "_add") || strings.HasSuffix(name, "_update") || strings.HasSuffix(name, "_delete")
}

// unknownTargetTask returns the first task that names an item or record id
// absent from the inventory snapshot. Additions are exempt: adding something
// new is the point. References are exempt too; their targets exist only at
// execution time.
func unknownTargetTask(plan *tasks.Plan, inventory []sessions.InventoryItem) *tasks.Task {
	ids := make(map[string]bool, len(inventory))
	names := make(map[string]bool, len(inventory))
	for _, item := range inventory {
		ids[item.ID] = true
		names[strings.ToLower(item.Name)] = true
	}

	for _, t := range plan.Tasks {
		if !isWriteTool(t.Tool) || strings.Contains(t.Tool, "_add") {
			continue
		}
		if id, ok := t.Parameters["item_id"].(string); ok && id != "" && !ids[id] {
			return t
		}
		if name, ok := t.Parameters["item_name"].(string); ok && name != "" && !names[strings.ToLower(name)] {
			return t
		}
	}
	return nil
}

var conversationalPhrases = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "thx", "cheers",
	"how are you", "what's up", "whats up", "yo",
	"bye", "goodbye", "see you", "good night",
	"who are you", "what can you do", "help",
}

// isConversational reports whether the utterance is small talk rather than
// a pantry request.
func isConversational(utterance string) bool {
	u := strings.ToLower(strings.TrimSpace(utterance))
	u = strings.Trim(u, "!.?, ")
	for _, phrase := range conversationalPhrases {
		if u == phrase {
			return true
		}
	}
	return false
}
