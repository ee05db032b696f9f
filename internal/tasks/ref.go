package tasks

// ResultRef points a parameter at a field of an upstream task's committed
// result. On the wire it is the object {"from_task": <id>, "path": <dotted>}.
// An empty path selects the whole result.
type ResultRef struct {
	FromTask string `json:"from_task"`
	Path     string `json:"path,omitempty"`
}

// AsRef interprets a decoded JSON value as a result reference.
func AsRef(v any) (ResultRef, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return ResultRef{}, false
	}
	from, ok := m["from_task"].(string)
	if !ok || from == "" {
		return ResultRef{}, false
	}
	ref := ResultRef{FromTask: from}
	if p, ok := m["path"].(string); ok {
		ref.Path = p
	}
	return ref, true
}

// Refs collects every result reference reachable in v, walking nested
// objects and arrays. Parameter values may embed references at any depth.
func Refs(v any) []ResultRef {
	var out []ResultRef
	walkRefs(v, &out)
	return out
}

func walkRefs(v any, out *[]ResultRef) {
	if ref, ok := AsRef(v); ok {
		*out = append(*out, ref)
		return
	}
	switch val := v.(type) {
	case map[string]any:
		for _, e := range val {
			walkRefs(e, out)
		}
	case []any:
		for _, e := range val {
			walkRefs(e, out)
		}
	}
}

// ParamRefs collects every result reference in a task's parameters.
func (t *Task) ParamRefs() []ResultRef {
	var out []ResultRef
	for _, v := range t.Parameters {
		walkRefs(v, &out)
	}
	return out
}
