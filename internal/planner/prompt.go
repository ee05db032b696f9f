package planner

import (
	"fmt"
	"strings"

	"github.com/gardehq/garde/internal/sessions"
	"github.com/gardehq/garde/internal/tools"
)

// plannerPersona frames the model's role. Kept short: the contract section
// below does the heavy lifting.
const plannerPersona = `You are the planning engine of Garde, a smart pantry assistant.
You never answer the user directly. You translate their request into a JSON
task plan executed by tools. Be literal: plan only what the user asked for.`

const outputContract = `Respond with a single JSON object and nothing else:

{
  "tasks": [
    {
      "id": "t1",
      "description": "short human-readable step",
      "tool": "tool_name",
      "parameters": {"key": "value"},
      "dependencies": [],
      "priority": 1
    }
  ]
}

Rules:
- "tool" must be one of the tools listed above. Never invent tools.
- "dependencies" lists ids (or descriptions) of tasks that must finish first.
- Lower "priority" runs earlier among tasks that are simultaneously ready.
- To feed one task's output into another, use a reference object anywhere in
  "parameters": {"from_task": "t1", "path": "items.0.id"}. The path walks the
  producing task's JSON result; omit "path" for the whole result.
- If the user is only chatting, return {"tasks": []}.`

// buildSystemPrompt assembles the planning prompt: persona, tool catalog,
// inventory snapshot, output contract.
func buildSystemPrompt(catalog []tools.ToolInfo, inventory []sessions.InventoryItem) string {
	var sb strings.Builder
	sb.WriteString(plannerPersona)
	sb.WriteString("\n\n## Available tools\n\n")
	for _, info := range catalog {
		sb.WriteString("- ")
		sb.WriteString(info.Name)
		if info.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(info.Description)
		}
		sb.WriteString("\n")
		if len(info.InputSchema) > 0 {
			sb.WriteString("  parameters: ")
			sb.Write(info.InputSchema)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n## Current pantry\n\n")
	sb.WriteString(summarizeInventory(inventory))

	sb.WriteString("\n## Output\n\n")
	sb.WriteString(outputContract)
	return sb.String()
}

// summarizeInventory renders the snapshot grouped by name so the model sees
// duplicates ("milk ×3") instead of a flat dump.
func summarizeInventory(inventory []sessions.InventoryItem) string {
	if len(inventory) == 0 {
		return "(empty)\n"
	}

	type group struct {
		name  string
		items []sessions.InventoryItem
	}
	var order []string
	groups := make(map[string]*group)
	for _, item := range inventory {
		key := strings.ToLower(item.Name)
		g, ok := groups[key]
		if !ok {
			g = &group{name: item.Name}
			groups[key] = g
			order = append(order, key)
		}
		g.items = append(g.items, item)
	}

	var sb strings.Builder
	for _, key := range order {
		g := groups[key]
		if len(g.items) == 1 {
			item := g.items[0]
			fmt.Fprintf(&sb, "- %s (id %s, qty %s)\n", g.name, item.ID, formatQuantity(item.Quantity, item.Unit))
			continue
		}
		fmt.Fprintf(&sb, "- %s ×%d:\n", g.name, len(g.items))
		for _, item := range g.items {
			fmt.Fprintf(&sb, "  - id %s, qty %s, added %s\n",
				item.ID, formatQuantity(item.Quantity, item.Unit), item.CreatedAt.Format("2006-01-02"))
		}
	}
	return sb.String()
}

func formatQuantity(q float64, unit string) string {
	s := strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", q), "0"), ".")
	if unit != "" {
		return s + " " + unit
	}
	return s
}
