// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package exec

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seastack/conductor/engine/workflow"
)

// SequentialEngine runs each level's tasks one at a time on the calling
// goroutine.
//
// Description:
//
//	Strictly single-threaded: context writes happen synchronously after
//	each task's success, with no locking beyond what the shared context
//	already provides. Failure policy is fail-fast; the first fatally
//	failed task cancels everything not yet started.
//
// Thread Safety:
//
//	Safe for concurrent use; each Execute call owns its own run state.
type SequentialEngine struct {
	logger         *slog.Logger
	defaultRetries int
}

// NewSequential creates a sequential engine.
func NewSequential(opts ...Option) *SequentialEngine {
	o := applyOptions(opts)
	return &SequentialEngine{
		logger:         o.logger.With(slog.String("component", "sequential_engine")),
		defaultRetries: o.defaultRetries,
	}
}

// Execute runs the workflow to termination. See Engine.
func (e *SequentialEngine) Execute(ctx context.Context, wf *workflow.Workflow, initial map[string]any) (*WorkflowResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if wf == nil {
		return nil, ErrNilWorkflow
	}

	sessionID := uuid.NewString()[:12]
	ctx, span := tracer.Start(ctx, "conductor.Run",
		trace.WithAttributes(
			attribute.String("workflow", wf.Name()),
			attribute.String("engine", KindSequential.String()),
			attribute.String("session_id", sessionID),
			attribute.Int("tasks", wf.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	ec := workflow.NewContext(initial)
	levels := wf.ExecutionOrder()
	res := newWorkflowResult(wf, sessionID)

	if dropped := res.markUnscheduled(wf, levels); dropped > 0 {
		e.logger.Warn("tasks excluded from execution order",
			slog.String("workflow", wf.Name()),
			slog.String("session_id", sessionID),
			slog.Int("excluded", dropped),
		)
	}

	e.logger.Info("workflow started",
		slog.String("workflow", wf.Name()),
		slog.String("session_id", sessionID),
		slog.Int("tasks", wf.Len()),
		slog.Int("levels", len(levels)),
	)

	stopped := false
	for _, level := range levels {
		for _, task := range level {
			if stopped {
				res.Results[task.ID].State = StateCancelled
				continue
			}

			tr := runTask(ctx, task, ec, e.defaultRetries, e.logger)
			res.Results[task.ID] = tr

			switch tr.State {
			case StateCompleted:
				ec.SetTaskOutput(task, tr.Output)
			case StateFailed:
				stopped = true
				if res.FirstError == nil {
					res.FirstError = tr.Err
				}
				res.Errors = append(res.Errors, tr.Err)
				e.logger.Error("task failed",
					slog.String("task", task.Name),
					slog.String("session_id", sessionID),
					slog.Int("attempts", tr.Attempts),
					slog.String("error", tr.Err.Error()),
				)
			case StateCancelled:
				stopped = true
				if res.FirstError == nil {
					res.FirstError = ctx.Err()
				}
			}
		}
	}

	res.Context = ec.Snapshot()
	res.finalize(start)

	if res.Success {
		span.SetStatus(codes.Ok, "")
		e.logger.Info("workflow completed",
			slog.String("session_id", sessionID),
			slog.Duration("duration", res.Duration),
			slog.Int("completed", res.StateCount(StateCompleted)),
			slog.Int("skipped", res.StateCount(StateSkipped)),
		)
	} else {
		if res.FirstError != nil {
			span.RecordError(res.FirstError)
			span.SetStatus(codes.Error, res.FirstError.Error())
		} else {
			span.SetStatus(codes.Error, "workflow incomplete")
		}
		e.logger.Error("workflow failed",
			slog.String("session_id", sessionID),
			slog.Duration("duration", res.Duration),
			slog.Int("failed", res.StateCount(StateFailed)),
			slog.Int("cancelled", res.StateCount(StateCancelled)),
		)
	}

	return res, nil
}

// ExecuteAsync submits the run in a background goroutine. See Engine.
func (e *SequentialEngine) ExecuteAsync(ctx context.Context, wf *workflow.Workflow, initial map[string]any) <-chan *WorkflowResult {
	return executeAsync(e, ctx, wf, initial)
}
