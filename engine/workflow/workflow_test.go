// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seastack/conductor/engine/retry"
)

func noop(_ context.Context, _ *Context) (any, error) {
	return nil, nil
}

func TestAddTask_ReturnsID(t *testing.T) {
	wf := New("test")
	id := wf.AddTask("a", noop, nil)
	if id == "" {
		t.Fatal("AddTask returned empty ID")
	}

	task, err := wf.Task(id)
	if err != nil {
		t.Fatalf("Task(id): %v", err)
	}
	if task.Name != "a" {
		t.Errorf("task name = %q, want %q", task.Name, "a")
	}
}

func TestTask_LookupByName(t *testing.T) {
	wf := New("test")
	id := wf.AddTask("build", noop, nil)

	byName, err := wf.Task("build")
	if err != nil {
		t.Fatalf("Task(name): %v", err)
	}
	if byName.ID != id {
		t.Errorf("lookup by name returned ID %q, want %q", byName.ID, id)
	}

	if _, err := wf.Task("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got: %v", err)
	}
}

func TestAddTask_OptionsApplied(t *testing.T) {
	wf := New("test")
	policy := retry.Default()
	cond := func(_ *Context) bool { return false }

	id := wf.AddTask("a", noop, nil,
		WithTimeout(5*time.Second),
		WithRetries(3),
		WithRetryDelay(time.Second),
		WithPolicy(policy),
		WithCondition(cond),
	)

	task, _ := wf.Task(id)
	if task.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", task.Timeout)
	}
	if task.Retries != 3 {
		t.Errorf("retries = %d", task.Retries)
	}
	if task.RetryDelay != time.Second {
		t.Errorf("retry delay = %v", task.RetryDelay)
	}
	if task.Policy != policy {
		t.Error("policy not attached")
	}
	if task.Condition == nil {
		t.Error("condition not attached")
	}
}

func TestExecutionOrder_Diamond(t *testing.T) {
	wf := New("diamond")
	wf.AddTask("A", noop, nil)
	wf.AddTask("B", noop, nil)
	wf.AddTask("C", noop, []string{"A", "B"})

	levels := wf.ExecutionOrder()
	if len(levels) != 2 {
		t.Fatalf("levels = %d, want 2", len(levels))
	}
	if len(levels[0]) != 2 {
		t.Fatalf("level 0 size = %d, want 2", len(levels[0]))
	}
	if len(levels[1]) != 1 || levels[1][0].Name != "C" {
		t.Fatalf("level 1 = %v, want [C]", names(levels[1]))
	}
}

func TestExecutionOrder_TopologicalSoundness(t *testing.T) {
	wf := New("chain")
	wf.AddTask("fetch", noop, nil)
	wf.AddTask("parse", noop, []string{"fetch"})
	wf.AddTask("lint", noop, []string{"parse"})
	wf.AddTask("compile", noop, []string{"parse"})
	wf.AddTask("test", noop, []string{"compile"})
	wf.AddTask("package", noop, []string{"compile", "lint"})
	wf.AddTask("publish", noop, []string{"package", "test"})

	levels := wf.ExecutionOrder()

	levelOf := make(map[string]int)
	for i, level := range levels {
		for _, task := range level {
			levelOf[task.Name] = i
		}
	}
	if len(levelOf) != wf.Len() {
		t.Fatalf("scheduled %d of %d tasks", len(levelOf), wf.Len())
	}

	for _, task := range wf.Tasks() {
		for _, dep := range task.DependsOn {
			if levelOf[dep] >= levelOf[task.Name] {
				t.Errorf("dependency %q (level %d) not before %q (level %d)",
					dep, levelOf[dep], task.Name, levelOf[task.Name])
			}
		}
	}
}

func TestExecutionOrder_CycleDropped(t *testing.T) {
	wf := New("cyclic")
	wf.AddTask("P", noop, []string{"Q"})
	wf.AddTask("Q", noop, []string{"P"})
	wf.AddTask("R", noop, nil)

	levels := wf.ExecutionOrder()
	for _, level := range levels {
		for _, task := range level {
			if task.Name == "P" || task.Name == "Q" {
				t.Errorf("cycle member %q appears in execution order", task.Name)
			}
		}
	}
	if len(levels) != 1 || levels[0][0].Name != "R" {
		t.Errorf("expected only [R], got %v", allNames(levels))
	}
}

func TestExecutionOrder_DanglingDroppedWithDownstream(t *testing.T) {
	wf := New("dangling")
	wf.AddTask("ok", noop, nil)
	wf.AddTask("broken", noop, []string{"ghost"})
	wf.AddTask("downstream", noop, []string{"broken"})

	levels := wf.ExecutionOrder()
	got := allNames(levels)
	if len(got) != 1 || got[0] != "ok" {
		t.Errorf("expected only [ok], got %v", got)
	}
}

func TestExecutionOrder_Idempotent(t *testing.T) {
	wf := New("stable")
	wf.AddTask("a", noop, nil)
	wf.AddTask("b", noop, []string{"a"})
	wf.AddTask("c", noop, []string{"a"})
	wf.AddTask("d", noop, []string{"b", "c"})

	first := wf.ExecutionOrder()
	second := wf.ExecutionOrder()

	if len(first) != len(second) {
		t.Fatalf("level counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		a, b := names(first[i]), names(second[i])
		if len(a) != len(b) {
			t.Fatalf("level %d sizes differ: %v vs %v", i, a, b)
		}
		seen := make(map[string]bool)
		for _, n := range a {
			seen[n] = true
		}
		for _, n := range b {
			if !seen[n] {
				t.Errorf("level %d differs: %v vs %v", i, a, b)
			}
		}
	}
}

func TestValidate_Empty(t *testing.T) {
	wf := New("empty")
	if err := wf.Validate(); !errors.Is(err, ErrEmptyWorkflow) {
		t.Errorf("expected ErrEmptyWorkflow, got: %v", err)
	}
}

func TestValidate_NilAction(t *testing.T) {
	wf := New("nilaction")
	wf.AddTask("a", nil, nil)
	if err := wf.Validate(); !errors.Is(err, ErrNilAction) {
		t.Errorf("expected ErrNilAction, got: %v", err)
	}
}

func TestValidate_MissingDependency(t *testing.T) {
	wf := New("missing")
	wf.AddTask("a", noop, []string{"ghost"})

	err := wf.Validate()
	if !errors.Is(err, ErrUnresolvedDependency) {
		t.Fatalf("expected ErrUnresolvedDependency, got: %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if refs := verr.Missing["a"]; len(refs) != 1 || refs[0] != "ghost" {
		t.Errorf("Missing[a] = %v, want [ghost]", refs)
	}
}

func TestValidate_Cycle(t *testing.T) {
	wf := New("cycle")
	wf.AddTask("P", noop, []string{"Q"})
	wf.AddTask("Q", noop, []string{"P"})

	err := wf.Validate()
	if !errors.Is(err, ErrCyclicDependency) {
		t.Fatalf("expected ErrCyclicDependency, got: %v", err)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Cyclic) != 2 {
		t.Errorf("Cyclic = %v, want both P and Q", verr.Cyclic)
	}
}

func TestValidate_CleanWorkflow(t *testing.T) {
	wf := New("clean")
	wf.AddTask("a", noop, nil)
	wf.AddTask("b", noop, []string{"a"})
	if err := wf.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestContext_SetGet(t *testing.T) {
	ec := NewContext(map[string]any{"seed": 1})

	if v, ok := ec.Get("seed"); !ok || v != 1 {
		t.Errorf("Get(seed) = %v, %v", v, ok)
	}

	ec.Set("k", "v")
	if v, _ := ec.Get("k"); v != "v" {
		t.Errorf("Get(k) = %v", v)
	}
	if _, ok := ec.Get("absent"); ok {
		t.Error("Get(absent) reported presence")
	}
}

func TestContext_SetTaskOutput(t *testing.T) {
	wf := New("ctx")
	id := wf.AddTask("named", noop, nil)
	task, _ := wf.Task(id)

	ec := NewContext(nil)
	ec.SetTaskOutput(task, 42)

	if v, _ := ec.Get(id); v != 42 {
		t.Errorf("output under ID = %v, want 42", v)
	}
	if v, _ := ec.Get("named"); v != 42 {
		t.Errorf("output under name = %v, want 42", v)
	}
}

func TestContext_SnapshotIsCopy(t *testing.T) {
	ec := NewContext(nil)
	ec.Set("a", 1)

	snap := ec.Snapshot()
	snap["a"] = 2
	snap["b"] = 3

	if v, _ := ec.Get("a"); v != 1 {
		t.Errorf("snapshot mutation leaked into context: a = %v", v)
	}
	if ec.Len() != 1 {
		t.Errorf("Len = %d, want 1", ec.Len())
	}
}

func names(level []*TaskDefinition) []string {
	out := make([]string, len(level))
	for i, t := range level {
		out[i] = t.Name
	}
	return out
}

func allNames(levels [][]*TaskDefinition) []string {
	var out []string
	for _, level := range levels {
		out = append(out, names(level)...)
	}
	return out
}
