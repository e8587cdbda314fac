// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retry provides pure backoff computation for task retries.
package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrInvalidPolicy is returned when a policy's parameters are inconsistent.
var ErrInvalidPolicy = errors.New("invalid retry policy")

// Policy describes exponential backoff between retry attempts.
//
// Description:
//
//	Policy is stateless: Delay is a pure function of the attempt number
//	(attempt 1 is the first retry, not the original try). A single Policy
//	instance is safe to share across all tasks and engines.
type Policy struct {
	// MaxAttempts is the total invocation budget including the initial
	// attempt. Default: 3.
	MaxAttempts int

	// InitialDelay is the wait before the first retry. Default: 1s.
	InitialDelay time.Duration

	// MaxDelay caps the computed delay. Default: 30s.
	MaxDelay time.Duration

	// ExponentialBase is the geometric growth factor. Default: 2.0.
	ExponentialBase float64

	// JitterFactor, when > 0, randomizes each delay within
	// [delay*(1-j), delay*(1+j)] to avoid thundering herds. Default: 0,
	// keeping Delay deterministic.
	JitterFactor float64

	// RetryIf restricts which failures are retryable. Nil retries all.
	RetryIf func(error) bool
}

// Default returns the standard policy: 3 attempts, 1s initial delay,
// 30s cap, base 2, no jitter.
func Default() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Validate checks the policy parameters for consistency.
func (p *Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidPolicy
	}
	if p.InitialDelay < 0 {
		return ErrInvalidPolicy
	}
	if p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay {
		return ErrInvalidPolicy
	}
	if p.ExponentialBase < 1.0 {
		return ErrInvalidPolicy
	}
	if p.JitterFactor < 0 || p.JitterFactor > 1 {
		return ErrInvalidPolicy
	}
	return nil
}

// Delay returns the backoff before the given retry.
//
// Description:
//
//	delay = InitialDelay * ExponentialBase^(attempt-1), capped at MaxDelay.
//	Attempt numbering starts at 1 for the first retry. Attempts < 1
//	return zero.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}

	base := p.ExponentialBase
	if base < 1.0 {
		base = 1.0
	}

	d := float64(p.InitialDelay) * math.Pow(base, float64(attempt-1))
	if p.MaxDelay > 0 && (d > float64(p.MaxDelay) || math.IsInf(d, 1)) {
		d = float64(p.MaxDelay)
	}

	delay := time.Duration(d)
	if p.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * p.JitterFactor
		delay = time.Duration(float64(delay) * (1.0 + jitter))
	}
	return delay
}

// Retryable reports whether err should trigger another attempt.
func (p *Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if p.RetryIf == nil {
		return true
	}
	return p.RetryIf(err)
}
