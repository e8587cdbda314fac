// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workflow defines declarative task graphs and their execution order.
//
// A Workflow owns an ordered collection of TaskDefinitions and derives the
// dependency graph lazily. ExecutionOrder levels the graph with Kahn's
// algorithm: each level contains tasks whose dependencies all appear in
// earlier levels, so tasks within a level may run concurrently.
//
// Tasks with dangling or cyclic dependencies are silently excluded from the
// order; Validate surfaces them explicitly for callers that want a hard error.
package workflow

import (
	"sort"

	"github.com/google/uuid"
)

// Workflow is a named collection of task definitions.
//
// Thread Safety:
//
//	Workflow is NOT safe for concurrent mutation. Build it in a single
//	goroutine, then hand it to an engine; engines only read it.
type Workflow struct {
	name   string
	tasks  []*TaskDefinition
	byID   map[string]*TaskDefinition
	byName map[string]*TaskDefinition
}

// New creates an empty workflow with the given name.
func New(name string) *Workflow {
	return &Workflow{
		name:   name,
		tasks:  make([]*TaskDefinition, 0),
		byID:   make(map[string]*TaskDefinition),
		byName: make(map[string]*TaskDefinition),
	}
}

// Name returns the workflow's name.
func (w *Workflow) Name() string {
	return w.name
}

// AddTask registers a task and returns its generated ID.
//
// Description:
//
//	Nothing is rejected at add time; dependency resolution and graph
//	validation are deferred to ExecutionOrder and Validate. Dependencies
//	may reference other tasks by ID or by name. If two tasks share a name,
//	the most recently added one wins name lookup.
//
// Inputs:
//
//	name - Human-readable task name. May be empty.
//	action - The work to perform.
//	deps - Dependency references (IDs or names).
//	opts - Optional timeout, retry and condition settings.
//
// Outputs:
//
//	string - The generated task ID.
func (w *Workflow) AddTask(name string, action Action, deps []string, opts ...TaskOption) string {
	task := &TaskDefinition{
		ID:        uuid.NewString(),
		Name:      name,
		Action:    action,
		DependsOn: append([]string(nil), deps...),
	}
	for _, opt := range opts {
		opt(task)
	}

	w.tasks = append(w.tasks, task)
	w.byID[task.ID] = task
	if name != "" {
		w.byName[name] = task
	}
	return task.ID
}

// Task returns the task registered under the given ID or name.
func (w *Workflow) Task(ref string) (*TaskDefinition, error) {
	if t, ok := w.byID[ref]; ok {
		return t, nil
	}
	if t, ok := w.byName[ref]; ok {
		return t, nil
	}
	return nil, ErrTaskNotFound
}

// Tasks returns the registered tasks in insertion order.
func (w *Workflow) Tasks() []*TaskDefinition {
	return append([]*TaskDefinition(nil), w.tasks...)
}

// Len returns the number of registered tasks.
func (w *Workflow) Len() int {
	return len(w.tasks)
}

// resolve maps a task's dependency references to task IDs. The second
// return value lists references that match no registered task.
func (w *Workflow) resolve(t *TaskDefinition) (depIDs []string, missing []string) {
	for _, ref := range t.DependsOn {
		dep, err := w.Task(ref)
		if err != nil {
			missing = append(missing, ref)
			continue
		}
		depIDs = append(depIDs, dep.ID)
	}
	return depIDs, missing
}

// ExecutionOrder levels the dependency graph with Kahn's algorithm.
//
// Description:
//
//	Returns a sequence of levels such that every dependency of a task in
//	level k appears in some level < k. Tasks within a level have no
//	relative ordering constraint; iteration order follows insertion order
//	for single-threaded determinism only.
//
//	Tasks whose in-degree never reaches zero -- cycle members, tasks with
//	dangling dependency references, and anything downstream of either --
//	are omitted from the result. Use Validate to detect that case.
//
// Outputs:
//
//	[][]*TaskDefinition - The execution levels. Empty when no task is
//	schedulable.
func (w *Workflow) ExecutionOrder() [][]*TaskDefinition {
	indegree := make(map[string]int, len(w.tasks))
	dependents := make(map[string][]string, len(w.tasks))
	blocked := make(map[string]bool)

	for _, t := range w.tasks {
		depIDs, missing := w.resolve(t)
		if len(missing) > 0 {
			// Unsatisfiable: never schedulable, and edges from it are
			// never released, so dependents stay unscheduled too.
			blocked[t.ID] = true
		}
		indegree[t.ID] = len(depIDs)
		for _, dep := range depIDs {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	levels := make([][]*TaskDefinition, 0)
	emitted := make(map[string]bool, len(w.tasks))

	for {
		level := make([]*TaskDefinition, 0)
		for _, t := range w.tasks {
			if emitted[t.ID] || blocked[t.ID] {
				continue
			}
			if indegree[t.ID] == 0 {
				level = append(level, t)
			}
		}
		if len(level) == 0 {
			break
		}
		for _, t := range level {
			emitted[t.ID] = true
			for _, dep := range dependents[t.ID] {
				indegree[dep]--
			}
		}
		levels = append(levels, level)
	}

	return levels
}

// Validate reports tasks that ExecutionOrder would silently drop.
//
// Description:
//
//	Checks for nil actions, dangling dependency references, and dependency
//	cycles. Returns nil when every registered task is schedulable. Cycle
//	membership is detected with a DFS over the resolved dependency edges,
//	so only true cycle participants are reported as cyclic; tasks merely
//	downstream of a problem are implied.
//
// Outputs:
//
//	error - Nil, ErrEmptyWorkflow, ErrNilAction, or a *ValidationError.
func (w *Workflow) Validate() error {
	if len(w.tasks) == 0 {
		return ErrEmptyWorkflow
	}
	for _, t := range w.tasks {
		if t.Action == nil {
			return ErrNilAction
		}
	}

	verr := &ValidationError{Missing: make(map[string][]string)}

	adj := make(map[string][]string, len(w.tasks))
	for _, t := range w.tasks {
		depIDs, missing := w.resolve(t)
		if len(missing) > 0 {
			verr.Missing[w.displayName(t)] = missing
		}
		adj[t.ID] = depIDs
	}

	// Cycle detection mirrors the leveling semantics: any task on a cycle
	// is reported, even if it would also be blocked by a missing dep.
	cyclic := w.detectCycles(adj)
	for _, id := range cyclic {
		verr.Cyclic = append(verr.Cyclic, w.displayName(w.byID[id]))
	}

	if len(verr.Missing) > 0 || len(verr.Cyclic) > 0 {
		return verr
	}
	return nil
}

// detectCycles runs a DFS over resolved edges and returns the IDs of tasks
// on at least one cycle.
func (w *Workflow) detectCycles(adj map[string][]string) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(adj))
	onCycle := make(map[string]bool)
	stack := make([]string, 0, len(adj))

	var dfs func(id string)
	dfs = func(id string) {
		state[id] = inStack
		stack = append(stack, id)

		for _, dep := range adj[id] {
			switch state[dep] {
			case unvisited:
				dfs(dep)
			case inStack:
				// Everything from dep to the top of the stack is on the cycle.
				for i := len(stack) - 1; i >= 0; i-- {
					onCycle[stack[i]] = true
					if stack[i] == dep {
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, t := range w.tasks {
		if state[t.ID] == unvisited {
			dfs(t.ID)
		}
	}

	ids := make([]string, 0, len(onCycle))
	for _, t := range w.tasks {
		if onCycle[t.ID] {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// displayName prefers the task name, falling back to the ID.
func (w *Workflow) displayName(t *TaskDefinition) string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
