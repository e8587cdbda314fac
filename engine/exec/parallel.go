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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/seastack/conductor/engine/workflow"
)

// ParallelEngine runs each dependency level on a bounded worker pool.
//
// Description:
//
//	Every task in a level is submitted at once; a weighted semaphore caps
//	concurrent execution at the configured pool size. The engine waits for
//	the whole level to reach terminal states before advancing -- the level
//	barrier is the core ordering guarantee: a task never starts before all
//	of its dependencies are terminal.
//
//	On the first fatal failure in a level the level's context is cancelled.
//	Tasks not yet started are recorded cancelled; actions already running
//	are allowed to finish cooperatively, but their results are discarded
//	and recorded cancelled. Later levels never start.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple runs may share one engine.
type ParallelEngine struct {
	workers        int64
	logger         *slog.Logger
	defaultRetries int

	// Metrics (initialized lazily)
	metricsOnce   sync.Once
	taskLatency   metric.Float64Histogram
	taskSuccesses metric.Int64Counter
	taskFailures  metric.Int64Counter
	activeTasks   metric.Int64UpDownCounter
	runLatency    metric.Float64Histogram
}

// NewParallel creates a parallel engine with a bounded worker pool.
func NewParallel(opts ...Option) *ParallelEngine {
	o := applyOptions(opts)
	return &ParallelEngine{
		workers:        int64(o.workers),
		logger:         o.logger.With(slog.String("component", "parallel_engine")),
		defaultRetries: o.defaultRetries,
	}
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution.
func (e *ParallelEngine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		e.taskLatency, err = meter.Float64Histogram("workflow_task_duration_seconds",
			metric.WithDescription("Time spent executing each task including retries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_latency: "+err.Error())
		}

		e.taskSuccesses, err = meter.Int64Counter("workflow_task_success_total",
			metric.WithDescription("Number of successfully completed tasks"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_successes: "+err.Error())
		}

		e.taskFailures, err = meter.Int64Counter("workflow_task_failure_total",
			metric.WithDescription("Number of fatally failed tasks"),
		)
		if err != nil {
			initErrors = append(initErrors, "task_failures: "+err.Error())
		}

		e.activeTasks, err = meter.Int64UpDownCounter("workflow_active_tasks",
			metric.WithDescription("Number of currently executing tasks"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_tasks: "+err.Error())
		}

		e.runLatency, err = meter.Float64Histogram("workflow_run_duration_seconds",
			metric.WithDescription("Total workflow run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some engine metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Execute runs the workflow to termination. See Engine.
func (e *ParallelEngine) Execute(ctx context.Context, wf *workflow.Workflow, initial map[string]any) (*WorkflowResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if wf == nil {
		return nil, ErrNilWorkflow
	}

	e.initMetrics()

	sessionID := uuid.NewString()[:12]
	ctx, span := tracer.Start(ctx, "conductor.Run",
		trace.WithAttributes(
			attribute.String("workflow", wf.Name()),
			attribute.String("engine", KindParallel.String()),
			attribute.String("session_id", sessionID),
			attribute.Int("tasks", wf.Len()),
			attribute.Int64("workers", e.workers),
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
		slog.Int64("workers", e.workers),
	)

	for i, level := range levels {
		failed := e.executeLevel(ctx, level, ec, res, sessionID)
		if failed || ctx.Err() != nil {
			// Fail-fast: everything in later levels is cancelled, not
			// silently omitted.
			for _, later := range levels[i+1:] {
				for _, task := range later {
					res.Results[task.ID].State = StateCancelled
				}
			}
			if res.FirstError == nil && ctx.Err() != nil {
				res.FirstError = ctx.Err()
			}
			break
		}
	}

	res.Context = ec.Snapshot()
	res.finalize(start)

	if e.runLatency != nil {
		e.runLatency.Record(ctx, res.Duration.Seconds(),
			metric.WithAttributes(attribute.String("workflow", wf.Name())),
		)
	}

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

// executeLevel fans a level out to the pool and waits at the barrier.
// Returns true when the level failed fatally.
func (e *ParallelEngine) executeLevel(
	ctx context.Context,
	level []*workflow.TaskDefinition,
	ec *workflow.Context,
	res *WorkflowResult,
	sessionID string,
) bool {
	levelCtx, cancelLevel := context.WithCancel(ctx)
	defer cancelLevel()

	sem := semaphore.NewWeighted(e.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex // guards res mutation and failure bookkeeping
	failed := false

	for _, task := range level {
		wg.Add(1)
		go func(task *workflow.TaskDefinition) {
			defer wg.Done()

			tr := e.executeTask(levelCtx, task, ec, sem, sessionID)

			mu.Lock()
			defer mu.Unlock()
			res.Results[task.ID] = tr
			if tr.State == StateFailed {
				if !failed {
					failed = true
					res.FirstError = tr.Err
					// First fatal failure cancels the rest of the level.
					cancelLevel()
				}
				res.Errors = append(res.Errors, tr.Err)
			}
		}(task)
	}

	wg.Wait()
	return failed
}

// executeTask runs one task inside a pool slot with tracing and metrics.
func (e *ParallelEngine) executeTask(
	levelCtx context.Context,
	task *workflow.TaskDefinition,
	ec *workflow.Context,
	sem *semaphore.Weighted,
	sessionID string,
) *TaskResult {
	if err := sem.Acquire(levelCtx, 1); err != nil {
		// Level was cancelled while queued for a pool slot.
		return &TaskResult{TaskID: task.ID, Name: task.Name, State: StateCancelled}
	}
	defer sem.Release(1)

	if levelCtx.Err() != nil {
		return &TaskResult{TaskID: task.ID, Name: task.Name, State: StateCancelled}
	}

	ctx, span := tracer.Start(levelCtx, task.Name,
		trace.WithAttributes(
			attribute.String("task", task.Name),
			attribute.StringSlice("dependencies", task.DependsOn),
			attribute.String("session_id", sessionID),
		),
	)
	defer span.End()

	if e.activeTasks != nil {
		e.activeTasks.Add(ctx, 1)
		defer e.activeTasks.Add(ctx, -1)
	}

	e.logger.Debug("task starting",
		slog.String("task", task.Name),
		slog.String("session_id", sessionID),
	)

	tr := runTask(ctx, task, ec, e.defaultRetries, e.logger)

	// A sibling failure may have cancelled the level while this action was
	// in flight. Its result is discarded rather than published.
	if tr.State == StateCompleted {
		if levelCtx.Err() != nil {
			tr.State = StateCancelled
			tr.Output = nil
		} else {
			ec.SetTaskOutput(task, tr.Output)
		}
	}

	if e.taskLatency != nil {
		e.taskLatency.Record(ctx, tr.Duration.Seconds(),
			metric.WithAttributes(attribute.String("task", task.Name)),
		)
	}

	switch tr.State {
	case StateCompleted:
		if e.taskSuccesses != nil {
			e.taskSuccesses.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task.Name)))
		}
		span.SetStatus(codes.Ok, "")
		e.logger.Info("task completed",
			slog.String("task", task.Name),
			slog.Duration("duration", tr.Duration),
			slog.Int("attempts", tr.Attempts),
		)
	case StateFailed:
		if e.taskFailures != nil {
			e.taskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task.Name)))
		}
		span.RecordError(tr.Err)
		span.SetStatus(codes.Error, tr.Err.Error())
		e.logger.Error("task failed",
			slog.String("task", task.Name),
			slog.Duration("duration", tr.Duration),
			slog.Int("attempts", tr.Attempts),
			slog.String("error", tr.Err.Error()),
		)
	case StateCancelled:
		span.SetStatus(codes.Error, "cancelled")
	case StateSkipped:
		span.SetStatus(codes.Ok, "skipped")
	}

	return tr
}

// ExecuteAsync submits the run in a background goroutine. See Engine.
func (e *ParallelEngine) ExecuteAsync(ctx context.Context, wf *workflow.Workflow, initial map[string]any) <-chan *WorkflowResult {
	return executeAsync(e, ctx, wf, initial)
}
