// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastack/conductor/engine/exec"
)

const samplePipeline = `
name: build-and-test
stages:
  - name: deps
    commands:
      - "echo installing"
    env:
      CACHE_DIR: /tmp/cache
    timeout: 30s
    retries: 2
    retry_delay: 50ms
  - name: build
    commands:
      - "echo compiling"
      - "echo linking"
    depends_on: [deps]
  - name: test
    commands:
      - "echo testing"
    depends_on: [build]
`

func TestParse_Valid(t *testing.T) {
	p, err := Parse([]byte(samplePipeline))
	require.NoError(t, err)

	assert.Equal(t, "build-and-test", p.Name)
	require.Len(t, p.Stages, 3)

	deps := p.Stages[0]
	assert.Equal(t, "deps", deps.Name)
	assert.Equal(t, 30*time.Second, deps.Timeout.Std())
	assert.Equal(t, 50*time.Millisecond, deps.RetryDelay.Std())
	assert.Equal(t, 2, deps.Retries)
	assert.Equal(t, "/tmp/cache", deps.Env["CACHE_DIR"])

	assert.Equal(t, []string{"deps"}, p.Stages[1].DependsOn)
	assert.Len(t, p.Stages[1].Commands, 2)
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("name: [unclosed"))
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestParse_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", "stages:\n  - name: a\n    commands: [\"echo hi\"]\n"},
		{"no stages", "name: empty\n"},
		{"stage without commands", "name: p\nstages:\n  - name: a\n"},
		{"empty command", "name: p\nstages:\n  - name: a\n    commands: [\"\"]\n"},
		{"negative retries", "name: p\nstages:\n  - name: a\n    commands: [\"echo\"]\n    retries: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.ErrorIs(t, err, ErrInvalidPipeline)
		})
	}
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte("name: p\nstages:\n  - name: a\n    commands: [\"echo\"]\n    timeout: soon\n"))
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestParse_DuplicateStage(t *testing.T) {
	doc := `
name: p
stages:
  - name: twice
    commands: ["echo one"]
  - name: twice
    commands: ["echo two"]
`
	_, err := Parse([]byte(doc))
	assert.ErrorIs(t, err, ErrDuplicateStage)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePipeline), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "build-and-test", p.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBuild_RejectsDanglingDependency(t *testing.T) {
	p, err := Parse([]byte("name: p\nstages:\n  - name: a\n    commands: [\"echo\"]\n    depends_on: [ghost]\n"))
	require.NoError(t, err)

	_, err = Build(p)
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestBuild_RejectsCycle(t *testing.T) {
	doc := `
name: p
stages:
  - name: a
    commands: ["echo a"]
    depends_on: [b]
  - name: b
    commands: ["echo b"]
    depends_on: [a]
`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)

	_, err = Build(p)
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestBuild_NilPipeline(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestBuild_RunsThroughEngine(t *testing.T) {
	doc := `
name: run
stages:
  - name: greet
    commands:
      - "echo hello $WHO"
    env:
      WHO: world
  - name: shout
    commands:
      - "echo DONE"
    depends_on: [greet]
`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	wf, err := Build(p)
	require.NoError(t, err)

	res, err := exec.NewSequential().Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	greet, ok := res.Result("greet")
	require.True(t, ok)
	assert.Equal(t, "hello world\n", greet.Output)

	shout, _ := res.Result("shout")
	assert.Contains(t, shout.Output.(string), "DONE")
}

func TestBuild_StageFailureStopsPipeline(t *testing.T) {
	doc := `
name: failing
stages:
  - name: bad
    commands:
      - "echo before"
      - "exit 3"
      - "echo after"
  - name: never
    commands: ["echo unreachable"]
    depends_on: [bad]
`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	wf, err := Build(p)
	require.NoError(t, err)

	res, err := exec.NewSequential().Execute(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)

	bad, _ := res.Result("bad")
	assert.Equal(t, exec.StateFailed, bad.State)
	require.Error(t, bad.Err)
	assert.True(t, strings.Contains(bad.Err.Error(), "exit 3") ||
		strings.Contains(bad.Err.Error(), "exit status 3"))
	// Output before the failing command is preserved.
	assert.Contains(t, bad.Output.(string), "before")
	assert.NotContains(t, bad.Output.(string), "after")

	never, _ := res.Result("never")
	assert.Equal(t, exec.StateCancelled, never.State)
}
