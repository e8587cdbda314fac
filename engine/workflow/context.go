// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workflow

import "sync"

// Context is the shared key-value store threaded through one workflow run.
//
// Description:
//
//	After a task completes, its output is written under both its ID and its
//	name, making it available to downstream tasks. This is the only shared
//	mutable state in the engine; all access goes through the mutex so the
//	parallel engine's workers never race on the map.
//
//	Tasks within the same level must treat the context as read-only input
//	plus their own isolated output. Sibling writes land only after the
//	level barrier, so the context is not a same-level communication channel.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates an execution context seeded with the given initial
// values. A nil map yields an empty context.
func NewContext(initial map[string]any) *Context {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Context{values: values}
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// SetTaskOutput records a task's output under both its ID and its name.
func (c *Context) SetTaskOutput(task *TaskDefinition, output any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[task.ID] = output
	if task.Name != "" {
		c.values[task.Name] = output
	}
}

// Snapshot returns a copy of the current key-value state.
func (c *Context) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Len returns the number of stored keys.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
