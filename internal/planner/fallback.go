package planner

import (
	"strings"

	"github.com/gardehq/garde/internal/tools"
)

var (
	inventoryHints = []string{"inventory", "stock", "pantry", "what do i have", "what's in", "whats in", "list my"}
	deletionHints  = []string{"delete", "remove", "throw", "discard", "get rid", "clear out"}
)

// fallbackTasks synthesizes a degraded plan when the model output is
// unusable. Inventory questions become a list call; everything else becomes
// an empty plan so the turn degrades to the composer's conversational reply.
// Deletion-flavoured utterances never get a guessed plan; a wrong delete is
// worse than asking the user to rephrase.
func fallbackTasks(utterance string, catalog []tools.ToolInfo) []plannedTask {
	u := strings.ToLower(utterance)

	for _, hint := range deletionHints {
		if strings.Contains(u, hint) {
			return nil
		}
	}

	for _, hint := range inventoryHints {
		if !strings.Contains(u, hint) {
			continue
		}
		if listTool := findListTool(catalog); listTool != "" {
			return []plannedTask{{
				Description: "List the current pantry inventory",
				Tool:        listTool,
			}}
		}
		break
	}

	return nil
}

// findListTool picks the inventory listing tool from the catalog, if any
// backend registered one.
func findListTool(catalog []tools.ToolInfo) string {
	for _, info := range catalog {
		if strings.HasPrefix(info.Name, "inventory_") && strings.Contains(info.Name, "list") {
			return info.Name
		}
	}
	return ""
}
