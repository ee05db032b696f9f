package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/gardehq/garde/internal/tasks"
)

// plannedTask is the model-facing task shape. Everything is optional except
// the tool; ids and priorities are filled in during building.
type plannedTask struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	Tool         string         `json:"tool"`
	Parameters   map[string]any `json:"parameters"`
	Dependencies []string       `json:"dependencies"`
	Priority     *int           `json:"priority"`
	MaxRetries   *int           `json:"max_retries"`
	Fallback     string         `json:"fallback_tool"`
}

type planOutput struct {
	Tasks []plannedTask `json:"tasks"`
}

// fenceRe strips markdown code fences models love to wrap JSON in.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// parsePlanOutput extracts the task list from raw model output. Tolerates
// fences and prose around the JSON object; anything without a parseable
// object is an error.
func parsePlanOutput(raw string) ([]plannedTask, error) {
	text := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in plan output")
	}
	text = text[start : end+1]

	var out planOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("unmarshal plan output: %w", err)
	}
	return out.Tasks, nil
}

// paramSynonyms folds the aliases models substitute for canonical parameter
// names. Canonical names win: an alias never overwrites an existing key.
var paramSynonyms = map[string]string{
	"item":    "item_name",
	"name":    "item_name",
	"product": "item_name",
	"qty":     "quantity",
	"count":   "quantity",
	"amount":  "quantity",
}

// buildTasks turns planned tasks into graph tasks: generated ids, folded
// parameter names, and dependencies resolved from ids or descriptions to
// ids. Declaration order becomes the default priority.
func buildTasks(planned []plannedTask) ([]*tasks.Task, error) {
	if len(planned) == 0 {
		return nil, nil
	}

	built := make([]*tasks.Task, 0, len(planned))
	byAlias := make(map[string]string) // model-supplied id or description (lowercased) → real id

	for i, pt := range planned {
		if strings.TrimSpace(pt.Tool) == "" {
			return nil, fmt.Errorf("task %d has no tool", i+1)
		}

		t := &tasks.Task{
			ID:          tasks.GenerateTaskID(),
			Description: strings.TrimSpace(pt.Description),
			Tool:        strings.TrimSpace(pt.Tool),
			Parameters:  normalizeParams(pt.Parameters),
			Priority:    i,
			Status:      tasks.StatusPending,
			MaxRetries:  1,
		}
		if pt.Priority != nil {
			t.Priority = *pt.Priority
		}
		if pt.MaxRetries != nil {
			t.MaxRetries = *pt.MaxRetries
		}
		t.FallbackTool = strings.TrimSpace(pt.Fallback)

		// Deletions never fall back to another tool.
		if strings.Contains(t.Tool, "delete") {
			t.FallbackTool = ""
		}

		if alias := strings.TrimSpace(pt.ID); alias != "" {
			byAlias[strings.ToLower(alias)] = t.ID
		}
		if t.Description != "" {
			if _, taken := byAlias[strings.ToLower(t.Description)]; !taken {
				byAlias[strings.ToLower(t.Description)] = t.ID
			}
		}

		built = append(built, t)
	}

	// Second pass: resolve dependencies and rewrite parameter references
	// that point at model-supplied aliases.
	for i, pt := range planned {
		t := built[i]
		for _, dep := range pt.Dependencies {
			id, ok := byAlias[strings.ToLower(strings.TrimSpace(dep))]
			if !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.Description, dep)
			}
			if id != t.ID && !t.DependsOnTask(id) {
				t.DependsOn = append(t.DependsOn, id)
			}
		}
		t.Parameters = rewriteRefAliases(t.Parameters, byAlias).(map[string]any)
	}

	return built, nil
}

// normalizeParams folds parameter-name synonyms, recursing into nested
// objects except reference objects, which are left untouched.
func normalizeParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	if _, isRef := tasks.AsRef(params); isRef {
		return params
	}

	out := make(map[string]any, len(params))
	for key, value := range params {
		canonical := key
		if folded, ok := paramSynonyms[strings.ToLower(key)]; ok {
			canonical = folded
		}
		if _, exists := out[canonical]; exists && canonical != key {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			out[canonical] = normalizeParams(v)
		case []any:
			list := make([]any, len(v))
			for i, elem := range v {
				if m, ok := elem.(map[string]any); ok {
					list[i] = normalizeParams(m)
				} else {
					list[i] = elem
				}
			}
			out[canonical] = list
		default:
			out[canonical] = value
		}
	}
	return out
}

// rewriteRefAliases maps from_task aliases ("t1", a description) to real
// generated task ids, walking nested structures.
func rewriteRefAliases(v any, byAlias map[string]string) any {
	switch val := v.(type) {
	case map[string]any:
		if ref, ok := tasks.AsRef(val); ok {
			if id, found := byAlias[strings.ToLower(ref.FromTask)]; found {
				val["from_task"] = id
			}
			return val
		}
		for k, elem := range val {
			val[k] = rewriteRefAliases(elem, byAlias)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = rewriteRefAliases(elem, byAlias)
		}
		return val
	default:
		return v
	}
}
