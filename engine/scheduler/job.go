// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"sync"
	"time"
)

// JobState represents the lifecycle state of a submitted job.
type JobState int

const (
	// StateQueued indicates the job is waiting for a pool slot.
	StateQueued JobState = iota

	// StateRunning indicates the job's function is executing.
	StateRunning

	// StateDone indicates the job completed successfully.
	StateDone

	// StateFailed indicates the job's function returned an error.
	StateFailed

	// StateCancelled indicates the job was cancelled before or during
	// execution.
	StateCancelled
)

// String returns the string representation of the state.
func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the job can no longer change state.
func (s JobState) IsTerminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// JobFunc is the unit of work a job performs. The context is cancelled when
// the job or the scheduler is cancelled; cooperative functions observe it at
// their own checkpoints.
type JobFunc func(ctx context.Context) (any, error)

// Job is the handle returned by Submit.
//
// Thread Safety:
//
//	Safe for concurrent use. State transitions happen on the scheduler's
//	worker; callers only observe.
type Job struct {
	// ID is the job's generated identifier.
	ID string

	// Name is the caller-supplied label used in logs.
	Name string

	fn     JobFunc
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	state       JobState
	output      any
	err         error
	submittedAt time.Time
	startedAt   time.Time
	finishedAt  time.Time

	done chan struct{}
}

// State returns the job's current lifecycle state.
func (j *Job) State() JobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Output returns the job function's return value, valid once done.
func (j *Job) Output() any {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.output
}

// Err returns the job's failure, nil unless the job failed.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

// Runtime returns how long the job has been (or was) running.
func (j *Job) Runtime() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.startedAt.IsZero() {
		return 0
	}
	if j.finishedAt.IsZero() {
		return time.Since(j.startedAt)
	}
	return j.finishedAt.Sub(j.startedAt)
}

// Done returns a channel closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job is terminal or ctx is cancelled.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markRunning transitions QUEUED -> RUNNING. Returns false if the job is no
// longer eligible to run (already cancelled).
func (j *Job) markRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateQueued {
		return false
	}
	j.state = StateRunning
	j.startedAt = time.Now()
	return true
}

// settle records the terminal state exactly once.
func (j *Job) settle(state JobState, output any, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsTerminal() {
		return false
	}
	j.state = state
	j.output = output
	j.err = err
	j.finishedAt = time.Now()
	close(j.done)
	return true
}
