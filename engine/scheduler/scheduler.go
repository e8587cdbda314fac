// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler provides a long-lived job queue for ad-hoc background
// work with live metrics.
//
// The scheduler has no concept of dependencies between jobs. Callers that
// need dependency ordering build a workflow and use the exec engines
// instead; this package exists for fire-and-forget work with status polling
// (monitoring loops, cleanup passes, one-off background computations).
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrSchedulerClosed is returned by Submit after Shutdown.
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrQueueFull is returned when the submission queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")

	// ErrNilJobFunc is returned when a nil function is submitted.
	ErrNilJobFunc = errors.New("job function must not be nil")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config configures a Scheduler. Zero values use defaults.
type Config struct {
	// Workers is the pool size. Default: 4.
	Workers int

	// QueueSize bounds the number of jobs waiting for a slot. Default: 64.
	QueueSize int

	// Logger for job lifecycle events. If nil, uses slog.Default().
	Logger *slog.Logger
}

// ApplyDefaults fills in zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Workers < 1 || c.QueueSize < 1 {
		return errors.New("invalid scheduler configuration")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

// Metrics is a point-in-time snapshot of scheduler activity. Safe to request
// concurrently with submissions.
type Metrics struct {
	// ActiveJobs is the number of jobs currently running.
	ActiveJobs int

	// QueuedJobs is the number of jobs waiting for a pool slot.
	QueuedJobs int

	// CompletedJobs counts jobs that finished successfully.
	CompletedJobs int64

	// FailedJobs counts jobs whose function returned an error.
	FailedJobs int64

	// CancelledJobs counts jobs cancelled before or during execution.
	CancelledJobs int64

	// ThroughputPerSecond is completed jobs divided by the scheduler's
	// lifetime so far.
	ThroughputPerSecond float64
}

// -----------------------------------------------------------------------------
// Scheduler
// -----------------------------------------------------------------------------

// Scheduler runs submitted jobs on a fixed worker pool.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Scheduler struct {
	config Config
	logger *slog.Logger

	queue chan *Job

	jobsMu sync.RWMutex
	jobs   map[string]*Job

	// queued is tracked explicitly rather than via len(queue): jobs
	// cancelled while queued stay in the channel until a worker discards
	// them, but they are no longer waiting to run.
	statsMu   sync.RWMutex
	queued    int
	active    int
	completed int64
	failed    int64
	cancelled int64
	startedAt time.Time

	closedMu sync.RWMutex
	closed   bool

	wg sync.WaitGroup
}

// New creates a scheduler and starts its worker pool.
//
// Inputs:
//
//	config - Scheduler configuration. Zero values use defaults.
//
// Outputs:
//
//	*Scheduler - The running scheduler. Callers should Shutdown it.
//	error - Non-nil if the configuration is invalid.
func New(config Config) (*Scheduler, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		config:    config,
		logger:    config.Logger.With(slog.String("component", "scheduler")),
		queue:     make(chan *Job, config.QueueSize),
		jobs:      make(map[string]*Job),
		startedAt: time.Now(),
	}

	s.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go s.worker()
	}

	s.logger.Info("scheduler started",
		slog.Int("workers", config.Workers),
		slog.Int("queue_size", config.QueueSize),
	)

	return s, nil
}

// Submit enqueues fn and returns a job handle immediately in the queued state.
//
// Outputs:
//
//	*Job - The handle for polling, waiting and cancellation.
//	error - ErrSchedulerClosed after Shutdown, ErrQueueFull when the
//	queue is at capacity, ErrNilJobFunc for a nil function.
func (s *Scheduler) Submit(name string, fn JobFunc) (*Job, error) {
	if fn == nil {
		return nil, ErrNilJobFunc
	}

	s.closedMu.RLock()
	defer s.closedMu.RUnlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:          uuid.NewString(),
		Name:        name,
		fn:          fn,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateQueued,
		submittedAt: time.Now(),
		done:        make(chan struct{}),
	}

	select {
	case s.queue <- job:
	default:
		cancel()
		return nil, ErrQueueFull
	}

	s.statsMu.Lock()
	s.queued++
	s.statsMu.Unlock()

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	s.logger.Debug("job queued",
		slog.String("job_id", job.ID),
		slog.String("job", name),
	)
	return job, nil
}

// Job returns the handle for a previously submitted job.
func (s *Scheduler) Job(id string) (*Job, bool) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Cancel cancels a job cooperatively.
//
// Description:
//
//	Queued jobs are settled cancelled before dispatch. Running jobs have
//	their context cancelled; the job function decides when to observe it,
//	and the final state is recorded when it returns. Jobs already done or
//	failed report false.
func (s *Scheduler) Cancel(id string) bool {
	job, ok := s.Job(id)
	if !ok {
		return false
	}

	switch job.State() {
	case StateQueued:
		if job.settle(StateCancelled, nil, nil) {
			job.cancel()
			s.statsMu.Lock()
			s.queued--
			s.cancelled++
			s.statsMu.Unlock()
			s.logger.Debug("queued job cancelled", slog.String("job_id", id))
			return true
		}
		return false
	case StateRunning:
		job.cancel()
		s.logger.Debug("running job cancellation requested", slog.String("job_id", id))
		return true
	default:
		return false
	}
}

// Metrics returns a point-in-time snapshot of scheduler activity.
func (s *Scheduler) Metrics() Metrics {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	m := Metrics{
		ActiveJobs:    s.active,
		QueuedJobs:    s.queued,
		CompletedJobs: s.completed,
		FailedJobs:    s.failed,
		CancelledJobs: s.cancelled,
	}
	if elapsed := time.Since(s.startedAt).Seconds(); elapsed > 0 {
		m.ThroughputPerSecond = float64(s.completed) / elapsed
	}
	return m
}

// Shutdown stops accepting submissions and drains queued work.
//
// Description:
//
//	Blocks until all queued and running jobs finish or ctx expires. On
//	expiry, every remaining job's context is cancelled and ctx's error is
//	returned; workers still exit on their own once running functions
//	observe the cancellation.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.closedMu.Lock()
	if s.closed {
		s.closedMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.closedMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.jobsMu.RLock()
		for _, job := range s.jobs {
			if !job.State().IsTerminal() {
				job.cancel()
			}
		}
		s.jobsMu.RUnlock()
		s.logger.Warn("scheduler shutdown timed out, cancelling remaining jobs")
		return ctx.Err()
	}
}

// worker consumes the queue until it is closed and drained.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		s.run(job)
	}
}

// run executes one job and records its terminal state.
func (s *Scheduler) run(job *Job) {
	if !job.markRunning() {
		// Cancelled while queued; nothing to do.
		return
	}

	s.statsMu.Lock()
	s.queued--
	s.active++
	s.statsMu.Unlock()

	s.logger.Debug("job started",
		slog.String("job_id", job.ID),
		slog.String("job", job.Name),
	)

	output, err := job.fn(job.ctx)

	var state JobState
	switch {
	case err != nil && job.ctx.Err() != nil:
		state = StateCancelled
	case err != nil:
		state = StateFailed
	default:
		state = StateDone
	}
	job.settle(state, output, err)
	job.cancel()

	s.statsMu.Lock()
	s.active--
	switch state {
	case StateDone:
		s.completed++
	case StateFailed:
		s.failed++
	case StateCancelled:
		s.cancelled++
	}
	s.statsMu.Unlock()

	if state == StateFailed {
		s.logger.Error("job failed",
			slog.String("job_id", job.ID),
			slog.String("job", job.Name),
			slog.Duration("runtime", job.Runtime()),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Debug("job finished",
			slog.String("job_id", job.ID),
			slog.String("job", job.Name),
			slog.String("state", state.String()),
			slog.Duration("runtime", job.Runtime()),
		)
	}
}
