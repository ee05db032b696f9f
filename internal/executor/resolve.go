package executor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/gardehq/garde/internal/tasks"
)

// ErrResolve marks parameter resolution failures. The referenced result is
// committed, so retrying the task cannot change the outcome: resolution
// failures are fatal for the task.
var ErrResolve = errors.New("parameter resolution failed")

// ResolveParams returns a copy of the task's parameters with every result
// reference replaced by the value it points at in the upstream task's
// result. References may sit at any depth inside objects and arrays.
func ResolveParams(t *tasks.Task, plan *tasks.Plan) (map[string]any, error) {
	if len(t.Parameters) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(t.Parameters))
	for key, value := range t.Parameters {
		resolved, err := resolveValue(value, plan)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}

func resolveValue(v any, plan *tasks.Plan) (any, error) {
	if ref, ok := tasks.AsRef(v); ok {
		return resolveRef(ref, plan)
	}
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			r, err := resolveValue(e, plan)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			r, err := resolveValue(e, plan)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveRef(ref tasks.ResultRef, plan *tasks.Plan) (any, error) {
	up := plan.Task(ref.FromTask)
	if up == nil {
		return nil, fmt.Errorf("%w: unknown task %q", ErrResolve, ref.FromTask)
	}
	if up.Status != tasks.StatusCompleted {
		return nil, fmt.Errorf("%w: task %q did not complete", ErrResolve, ref.FromTask)
	}
	if len(up.Result) == 0 {
		return nil, fmt.Errorf("%w: task %q produced no result", ErrResolve, ref.FromTask)
	}
	if ref.Path == "" {
		var whole any
		if err := json.Unmarshal(up.Result, &whole); err != nil {
			return nil, fmt.Errorf("%w: task %q result is not valid JSON: %v", ErrResolve, ref.FromTask, err)
		}
		return whole, nil
	}
	got := gjson.GetBytes(up.Result, ref.Path)
	if !got.Exists() {
		return nil, fmt.Errorf("%w: task %q result has no field %q", ErrResolve, ref.FromTask, ref.Path)
	}
	if got.Type == gjson.Null {
		return nil, fmt.Errorf("%w: field %q of task %q is null", ErrResolve, ref.Path, ref.FromTask)
	}
	return got.Value(), nil
}
