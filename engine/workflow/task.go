// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"time"

	"github.com/seastack/conductor/engine/retry"
)

// Action is the unit of work a task performs.
//
// Description:
//
//	The action receives the Go context for cancellation/timeout and the
//	workflow's shared execution context for reading upstream outputs. It
//	returns the task's output on success. Actions configured with retries
//	may be invoked more than once and must be retry-safe.
type Action func(ctx context.Context, ec *Context) (any, error)

// Condition is evaluated against the execution context immediately before a
// task runs. Returning false skips the task without invoking its action.
type Condition func(ec *Context) bool

// TaskDefinition is a declarative unit of work within a workflow.
//
// Description:
//
//	A TaskDefinition is created by Workflow.AddTask and is immutable once
//	registered. Identity is the generated ID; Name is a human-readable
//	alias usable in dependency references and lookups.
//
// Thread Safety:
//
//	Immutable after registration; safe to read from any goroutine.
type TaskDefinition struct {
	// ID is the generated unique identifier for this task.
	ID string

	// Name is the human-readable name. It aliases the ID for lookup and
	// dependency resolution.
	Name string

	// Action performs the work.
	Action Action

	// DependsOn lists dependency references, each an ID or name of
	// another task in the same workflow.
	DependsOn []string

	// Timeout bounds a single action invocation. Zero means no timeout.
	Timeout time.Duration

	// Retries is the number of re-invocations after the initial attempt.
	Retries int

	// RetryDelay is the flat delay between attempts when no Policy is set.
	RetryDelay time.Duration

	// Policy optionally replaces the flat RetryDelay with exponential
	// backoff and a retryable-error predicate.
	Policy *retry.Policy

	// Condition, when set, gates execution. False means SKIPPED.
	Condition Condition
}

// TaskOption configures optional attributes of a task at registration time.
type TaskOption func(*TaskDefinition)

// WithTimeout bounds each action invocation to d.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *TaskDefinition) {
		t.Timeout = d
	}
}

// WithRetries sets the number of retries after the initial attempt.
// Negative values are treated as zero.
func WithRetries(n int) TaskOption {
	return func(t *TaskDefinition) {
		if n < 0 {
			n = 0
		}
		t.Retries = n
	}
}

// WithRetryDelay sets the flat delay between attempts.
func WithRetryDelay(d time.Duration) TaskOption {
	return func(t *TaskDefinition) {
		t.RetryDelay = d
	}
}

// WithPolicy attaches a retry policy. The policy's MaxAttempts takes
// precedence over the task's Retries count, and its Delay schedule replaces
// the flat RetryDelay.
func WithPolicy(p *retry.Policy) TaskOption {
	return func(t *TaskDefinition) {
		t.Policy = p
	}
}

// WithCondition gates execution on a predicate over the execution context.
func WithCondition(cond Condition) TaskOption {
	return func(t *TaskDefinition) {
		t.Condition = cond
	}
}

// MaxAttempts returns the total invocation budget for this task, including
// the initial attempt.
func (t *TaskDefinition) MaxAttempts() int {
	if t.Policy != nil && t.Policy.MaxAttempts > 0 {
		return t.Policy.MaxAttempts
	}
	return t.Retries + 1
}

// BackoffDelay returns the wait before the given retry (attempt 1 is the
// first retry). Without a policy the flat RetryDelay applies.
func (t *TaskDefinition) BackoffDelay(attempt int) time.Duration {
	if t.Policy != nil {
		return t.Policy.Delay(attempt)
	}
	return t.RetryDelay
}

// Retryable reports whether a failure should be retried. Without a policy
// every failure is retryable.
func (t *TaskDefinition) Retryable(err error) bool {
	if t.Policy != nil {
		return t.Policy.Retryable(err)
	}
	return true
}
