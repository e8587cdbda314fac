// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/seastack/conductor/engine/workflow"
)

var (
	tracer = otel.Tracer("conductor.exec")
	meter  = otel.Meter("conductor.exec")
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilWorkflow is returned when a nil workflow is provided.
	ErrNilWorkflow = errors.New("workflow must not be nil")

	// ErrUnknownKind is returned by the factory for unrecognized engine kinds.
	ErrUnknownKind = errors.New("unknown engine kind")

	// ErrTaskTimeout marks a task attempt that exceeded its timeout.
	// Timeouts are retried like any other failure.
	ErrTaskTimeout = errors.New("task timed out")

	// ErrNotScheduled marks a task the leveling excluded because of a
	// dangling or cyclic dependency. Such tasks stay pending in the result.
	ErrNotScheduled = errors.New("task excluded from execution order")
)

// -----------------------------------------------------------------------------
// Engine interface
// -----------------------------------------------------------------------------

// Engine executes a workflow's tasks in dependency order.
//
// Description:
//
//	Execute blocks until the run terminates and always returns a complete
//	WorkflowResult for task-level problems; the error return is reserved
//	for call-boundary misuse (nil context or workflow). ExecuteAsync has
//	identical result semantics but returns immediately with a channel that
//	delivers the final result.
type Engine interface {
	// Execute runs the workflow to termination, seeding the shared
	// execution context with initial.
	Execute(ctx context.Context, wf *workflow.Workflow, initial map[string]any) (*WorkflowResult, error)

	// ExecuteAsync submits the run and returns a single-value channel
	// that yields the final result. The channel is closed after delivery.
	ExecuteAsync(ctx context.Context, wf *workflow.Workflow, initial map[string]any) <-chan *WorkflowResult
}

// -----------------------------------------------------------------------------
// Engine kinds and factory
// -----------------------------------------------------------------------------

// Kind selects an engine implementation.
type Kind int

const (
	// KindSequential runs each level's tasks one at a time.
	KindSequential Kind = iota

	// KindParallel runs each level's tasks on a bounded worker pool.
	KindParallel
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSequential:
		return "sequential"
	case KindParallel:
		return "parallel"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "sequential":
		return KindSequential, nil
	case "parallel":
		return KindParallel, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// DefaultWorkers is the parallel engine's default pool size.
const DefaultWorkers = 4

// Option configures an engine at construction time.
type Option func(*options)

type options struct {
	workers        int
	logger         *slog.Logger
	defaultRetries int
}

// WithWorkers sets the parallel engine's pool size. Ignored by the
// sequential engine. Values < 1 fall back to DefaultWorkers.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithLogger sets the engine's logger. Nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDefaultRetries overrides the retry count for tasks that configure
// neither retries nor a policy.
func WithDefaultRetries(n int) Option {
	return func(o *options) {
		if n < 0 {
			n = 0
		}
		o.defaultRetries = n
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = DefaultWorkers
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// New constructs an engine of the given kind.
//
// Inputs:
//
//	kind - KindSequential or KindParallel. Anything else is rejected with
//	ErrUnknownKind; there is no silent fallback.
//	opts - Engine options (pool size, logger, default retries).
//
// Outputs:
//
//	Engine - The configured engine.
//	error - Non-nil for unknown kinds.
func New(kind Kind, opts ...Option) (Engine, error) {
	switch kind {
	case KindSequential:
		return NewSequential(opts...), nil
	case KindParallel:
		return NewParallel(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// executeAsync wraps an engine's blocking Execute in a goroutine. The async
// path must not duplicate retry or leveling logic, so every engine delegates
// here.
func executeAsync(e Engine, ctx context.Context, wf *workflow.Workflow, initial map[string]any) <-chan *WorkflowResult {
	ch := make(chan *WorkflowResult, 1)
	go func() {
		defer close(ch)
		res, err := e.Execute(ctx, wf, initial)
		if res == nil {
			// Call-boundary misuse still delivers a result shape.
			res = &WorkflowResult{FirstError: err, Errors: []error{err}}
			if wf != nil {
				res.Workflow = wf.Name()
			}
		}
		ch <- res
	}()
	return ch
}
