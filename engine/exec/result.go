// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package exec

import (
	"time"

	"github.com/seastack/conductor/engine/workflow"
)

// -----------------------------------------------------------------------------
// Task states
// -----------------------------------------------------------------------------

// TaskState represents the lifecycle state of a task within one run.
type TaskState int

const (
	// StatePending indicates the task has not started.
	StatePending TaskState = iota

	// StateRunning indicates the task's action is executing.
	StateRunning

	// StateCompleted indicates the action returned successfully.
	StateCompleted

	// StateFailed indicates the action failed with retries exhausted.
	StateFailed

	// StateCancelled indicates the task was abandoned due to a sibling
	// failure, a failed dependency, or run cancellation.
	StateCancelled

	// StateSkipped indicates the task's condition evaluated false.
	// Skipped tasks satisfy downstream dependencies.
	StateSkipped
)

// String returns the string representation of the state.
func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the task can no longer change state.
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateSkipped:
		return true
	default:
		return false
	}
}

// Satisfies reports whether a dependency in this state allows dependents
// to start. Skipped dependencies do not block dependents.
func (s TaskState) Satisfies() bool {
	return s == StateCompleted || s == StateSkipped
}

// -----------------------------------------------------------------------------
// Results
// -----------------------------------------------------------------------------

// TaskResult records the outcome of one task's attempt sequence.
//
// Lifecycle: created pending when a run begins, mutated only by the owning
// worker, terminal exactly once.
type TaskResult struct {
	// TaskID is the task's generated identifier.
	TaskID string

	// Name is the task's human-readable name.
	Name string

	// State is the final lifecycle state.
	State TaskState

	// Output is the action's return value, set only when completed.
	Output any

	// Err holds failure detail, present only for failed tasks (or the
	// scheduling error for tasks excluded from the execution order).
	Err error

	// Duration is the wall time spent across all attempts, including
	// backoff waits.
	Duration time.Duration

	// Attempts counts action invocations, including retries. Zero for
	// tasks that never started.
	Attempts int
}

// WorkflowResult aggregates one TaskResult per task for a single run.
//
// The engine holds no state across calls; the result is the complete record
// of the run.
type WorkflowResult struct {
	// Workflow is the workflow's name.
	Workflow string

	// SessionID uniquely identifies this run in logs and traces.
	SessionID string

	// Success is true iff no task failed and every registered task
	// reached completed or skipped.
	Success bool

	// Results maps task ID to its result. Every registered task has an
	// entry, including tasks that never started.
	Results map[string]*TaskResult

	// FirstError is the first fatal error encountered (fail-fast), nil
	// on success.
	FirstError error

	// Errors collects every task error for best-effort reporting.
	Errors []error

	// Duration is the total wall time of the run.
	Duration time.Duration

	// Context is the final snapshot of the shared execution context,
	// with each completed task's output under its ID and name.
	Context map[string]any
}

// Result returns the task result registered under an ID or name.
func (r *WorkflowResult) Result(ref string) (*TaskResult, bool) {
	if tr, ok := r.Results[ref]; ok {
		return tr, true
	}
	for _, tr := range r.Results {
		if tr.Name == ref {
			return tr, true
		}
	}
	return nil, false
}

// StateCount returns how many tasks finished in the given state.
func (r *WorkflowResult) StateCount(s TaskState) int {
	n := 0
	for _, tr := range r.Results {
		if tr.State == s {
			n++
		}
	}
	return n
}

// newWorkflowResult seeds a result with a pending entry per task.
func newWorkflowResult(wf *workflow.Workflow, sessionID string) *WorkflowResult {
	res := &WorkflowResult{
		Workflow:  wf.Name(),
		SessionID: sessionID,
		Results:   make(map[string]*TaskResult, wf.Len()),
	}
	for _, t := range wf.Tasks() {
		res.Results[t.ID] = &TaskResult{TaskID: t.ID, Name: t.Name, State: StatePending}
	}
	return res
}

// markUnscheduled flags tasks the leveling silently dropped. They stay
// pending, carry ErrNotScheduled, and force Success=false so a shortened
// schedule can never masquerade as a clean run.
func (r *WorkflowResult) markUnscheduled(wf *workflow.Workflow, levels [][]*workflow.TaskDefinition) int {
	scheduled := make(map[string]bool, wf.Len())
	for _, level := range levels {
		for _, t := range level {
			scheduled[t.ID] = true
		}
	}

	dropped := 0
	for _, t := range wf.Tasks() {
		if !scheduled[t.ID] {
			r.Results[t.ID].Err = ErrNotScheduled
			r.Errors = append(r.Errors, ErrNotScheduled)
			dropped++
		}
	}
	return dropped
}

// finalize computes the overall success flag from the per-task states.
func (r *WorkflowResult) finalize(start time.Time) {
	r.Duration = time.Since(start)
	for _, tr := range r.Results {
		if !tr.State.Satisfies() {
			r.Success = false
			return
		}
	}
	r.Success = r.FirstError == nil
}
