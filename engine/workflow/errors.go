// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTaskNotFound is returned when a task lookup by ID or name fails.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNilAction is returned when a task is registered without an action.
	ErrNilAction = errors.New("task action must not be nil")

	// ErrEmptyWorkflow is returned when validating a workflow with no tasks.
	ErrEmptyWorkflow = errors.New("workflow has no tasks")

	// ErrUnresolvedDependency is returned for tasks that reference
	// dependencies absent from the workflow.
	ErrUnresolvedDependency = errors.New("unresolved dependency")

	// ErrCyclicDependency is returned for tasks that participate in a
	// dependency cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")
)

// ValidationError reports every task that Kahn leveling would silently
// exclude from the execution order.
//
// Description:
//
//	ExecutionOrder drops tasks with dangling or cyclic dependencies rather
//	than failing, so a schedule is always produced. Callers that prefer a
//	hard error run Validate before execution and inspect this error.
type ValidationError struct {
	// Missing maps task names to the dependency references they could
	// not resolve.
	Missing map[string][]string

	// Cyclic lists the names of tasks participating in at least one
	// dependency cycle.
	Cyclic []string
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		names := make([]string, 0, len(e.Missing))
		for name := range e.Missing {
			names = append(names, name)
		}
		parts = append(parts, fmt.Sprintf("%d task(s) with missing dependencies: %s",
			len(e.Missing), strings.Join(sortedCopy(names), ", ")))
	}
	if len(e.Cyclic) > 0 {
		parts = append(parts, fmt.Sprintf("%d task(s) in dependency cycles: %s",
			len(e.Cyclic), strings.Join(sortedCopy(e.Cyclic), ", ")))
	}
	if len(parts) == 0 {
		return "workflow validation failed"
	}
	return "workflow validation failed: " + strings.Join(parts, "; ")
}

// Is reports whether target matches one of the categories this error carries,
// so errors.Is(err, ErrUnresolvedDependency) and errors.Is(err, ErrCyclicDependency)
// both work against a ValidationError.
func (e *ValidationError) Is(target error) bool {
	if target == ErrUnresolvedDependency {
		return len(e.Missing) > 0
	}
	if target == ErrCyclicDependency {
		return len(e.Cyclic) > 0
	}
	return false
}
