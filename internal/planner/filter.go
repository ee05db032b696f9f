package planner

import (
	"strings"

	"github.com/gardehq/garde/internal/tools"
)

// toolFamilies maps utterance keywords to tool-name prefixes. A family is
// included when any of its keywords appears in the utterance.
var toolFamilies = []struct {
	prefixes []string
	keywords []string
}{
	{
		prefixes: []string{"inventory_"},
		keywords: []string{"inventory", "pantry", "stock", "fridge", "have", "add", "bought", "buy", "remove", "delete", "throw", "update", "change", "used", "item", "expir", "milk", "left"},
	},
	{
		prefixes: []string{"menu_"},
		keywords: []string{"menu", "meal", "dinner", "lunch", "breakfast", "cook", "eat", "dish", "make"},
	},
	{
		prefixes: []string{"recipe_"},
		keywords: []string{"recipe", "cook", "dish", "link", "url", "instructions", "how do i make"},
	},
	{
		prefixes: []string{"web_search"},
		keywords: []string{"search", "look up", "find online", "what is", "who is", "news"},
	},
}

// relevantTools narrows the catalog to families the utterance plausibly
// needs. Read-only tools and the conversational tool always pass: pruning
// writes is the safety win, pruning reads only degrades plans. When no
// family matches, the full catalog goes through. Better a long prompt than
// a planner blind to the right tool.
func relevantTools(utterance string, catalog []tools.ToolInfo) []tools.ToolInfo {
	u := strings.ToLower(utterance)

	wanted := make(map[string]bool)
	for _, family := range toolFamilies {
		for _, kw := range family.keywords {
			if strings.Contains(u, kw) {
				for _, prefix := range family.prefixes {
					wanted[prefix] = true
				}
				break
			}
		}
	}
	if len(wanted) == 0 {
		return catalog
	}

	var subset []tools.ToolInfo
	for _, info := range catalog {
		if info.Name == RespondTool || isReadTool(info.Name) || matchesPrefix(info.Name, wanted) {
			subset = append(subset, info)
		}
	}
	if len(subset) == 0 {
		return catalog
	}
	return subset
}

func matchesPrefix(name string, wanted map[string]bool) bool {
	for prefix := range wanted {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isReadTool(name string) bool {
	return !isWriteTool(name)
}
