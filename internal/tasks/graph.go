package tasks

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCycle is wrapped by Validate when the dependency graph is not a DAG.
var ErrCycle = errors.New("cycle detected in task graph")

// Validate checks the plan's graph invariants: duplicate ids, dependencies on
// unknown siblings, result references to unknown siblings, and cycles (Kahn's
// algorithm: a topological order shorter than the plan proves a cycle).
func Validate(p *Plan) error {
	byID := make(map[string]*Task, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %q has no id", t.Description)
		}
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		byID[t.ID] = t
	}

	inDegree := make(map[string]int, len(p.Tasks))
	dependents := make(map[string][]string, len(p.Tasks))

	for _, t := range p.Tasks {
		inDegree[t.ID] += 0 // ensure entry exists
		for _, need := range t.DependsOn {
			if _, ok := byID[need]; !ok {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, need)
			}
			inDegree[t.ID]++
			dependents[need] = append(dependents[need], t.ID)
		}
		for _, ref := range t.ParamRefs() {
			if _, ok := byID[ref.FromTask]; !ok {
				return fmt.Errorf("task %q references result of unknown task %q", t.ID, ref.FromTask)
			}
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	seen := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		seen++

		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if seen != len(p.Tasks) {
		return ErrCycle
	}
	return nil
}

// EnsureRefDependencies adds an implied dependency edge for every result
// reference that is not already declared, so reference targets are always
// committed before dispatch.
func EnsureRefDependencies(p *Plan) {
	for _, t := range p.Tasks {
		for _, ref := range t.ParamRefs() {
			if ref.FromTask != t.ID && !t.DependsOnTask(ref.FromTask) {
				t.DependsOn = append(t.DependsOn, ref.FromTask)
			}
		}
	}
}

// Ready returns the tasks whose status is pending and whose dependencies have
// all completed, sorted by priority ascending with declaration order as the
// tie-breaker.
func Ready(p *Plan) []*Task {
	var ready []*Task
	for _, t := range p.Tasks {
		if t.Status != StatusPending {
			continue
		}
		ok := true
		for _, need := range t.DependsOn {
			dep := p.Task(need)
			if dep == nil || dep.Status != StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority < ready[j].Priority
	})
	return ready
}

// Dependents returns the ids of every task that transitively depends on id.
// Used to cascade skips when a task fails.
func Dependents(p *Plan, id string) []string {
	direct := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		for _, need := range t.DependsOn {
			direct[need] = append(direct[need], t.ID)
		}
	}

	var out []string
	seen := map[string]bool{id: true}
	queue := append([]string(nil), direct[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, direct[next]...)
	}
	return out
}
