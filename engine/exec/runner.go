// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package exec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seastack/conductor/engine/workflow"
)

// runTask executes one task's full attempt sequence and returns its result.
//
// Description:
//
//	Shared by both engines so retry semantics cannot drift between them.
//	The condition is evaluated first; a false condition skips the task
//	without invoking the action. Each attempt runs under its own timeout
//	context when the task sets one. Timeouts are failures like any other
//	and consume the same retry budget. Between attempts the runner waits
//	for the backoff delay or for ctx cancellation, whichever comes first;
//	cancellation yields a cancelled result rather than a failed one.
//
//	The runner never writes to the shared execution context. Output
//	publication is the engine's job, after the level ordering discipline
//	has been applied.
func runTask(
	ctx context.Context,
	task *workflow.TaskDefinition,
	ec *workflow.Context,
	defaultRetries int,
	logger *slog.Logger,
) *TaskResult {
	res := &TaskResult{TaskID: task.ID, Name: task.Name, State: StatePending}
	start := time.Now()

	if task.Condition != nil && !task.Condition(ec) {
		res.State = StateSkipped
		res.Duration = time.Since(start)
		logger.Debug("task skipped by condition", slog.String("task", task.Name))
		return res
	}

	if task.Action == nil {
		res.State = StateFailed
		res.Err = workflow.ErrNilAction
		res.Duration = time.Since(start)
		return res
	}

	maxAttempts := task.MaxAttempts()
	if task.Retries == 0 && task.Policy == nil && defaultRetries > 0 {
		maxAttempts = defaultRetries + 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			res.State = StateCancelled
			res.Err = nil
			res.Duration = time.Since(start)
			return res
		}

		res.State = StateRunning
		res.Attempts = attempt

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if task.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		}

		output, err := task.Action(attemptCtx, ec)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			// Err carries failure detail only for a FAILED terminal state;
			// an earlier attempt's error must not survive a later success.
			res.State = StateCompleted
			res.Output = output
			res.Err = nil
			res.Duration = time.Since(start)
			return res
		}

		// Run-level cancellation is not a task failure.
		if ctx.Err() != nil {
			res.State = StateCancelled
			res.Err = nil
			res.Duration = time.Since(start)
			return res
		}

		if timedOut {
			err = fmt.Errorf("%w: %s", ErrTaskTimeout, task.Name)
		}
		res.Err = err

		if !task.Retryable(err) || attempt == maxAttempts {
			res.State = StateFailed
			res.Duration = time.Since(start)
			return res
		}

		delay := task.BackoffDelay(attempt)
		logger.Warn("task attempt failed, retrying",
			slog.String("task", task.Name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if delay > 0 {
			select {
			case <-ctx.Done():
				res.State = StateCancelled
				res.Err = nil
				res.Duration = time.Since(start)
				return res
			case <-time.After(delay):
			}
		}
	}

	res.State = StateFailed
	res.Duration = time.Since(start)
	return res
}
