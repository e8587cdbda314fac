// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind("sequential")
	require.NoError(t, err)
	assert.Equal(t, KindSequential, k)

	k, err = ParseKind("parallel")
	require.NoError(t, err)
	assert.Equal(t, KindParallel, k)

	_, err = ParseKind("distributed")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "sequential", KindSequential.String())
	assert.Equal(t, "parallel", KindParallel.String())
	assert.Equal(t, "Kind(7)", Kind(7).String())
}

func TestNew_Factory(t *testing.T) {
	e, err := New(KindSequential)
	require.NoError(t, err)
	assert.IsType(t, &SequentialEngine{}, e)

	e, err = New(KindParallel, WithWorkers(2))
	require.NoError(t, err)
	assert.IsType(t, &ParallelEngine{}, e)

	_, err = New(Kind(42))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestTaskState_Properties(t *testing.T) {
	terminal := []TaskState{StateCompleted, StateFailed, StateCancelled, StateSkipped}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s.String())
	}
	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())

	assert.True(t, StateCompleted.Satisfies())
	assert.True(t, StateSkipped.Satisfies())
	assert.False(t, StateFailed.Satisfies())
	assert.False(t, StateCancelled.Satisfies())

	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
}
