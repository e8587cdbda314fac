// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"

	"github.com/seastack/conductor/engine/workflow"
)

// Build converts a validated pipeline into a workflow, one task per stage.
//
// Description:
//
//	The stage's commands are captured in the task's action; the engines
//	execute it like any other task, with the stage's timeout and retry
//	settings applied through the normal task options. Build validates the
//	resulting dependency graph and rejects dangling or cyclic stage
//	references instead of letting the leveling drop them silently.
//
// Outputs:
//
//	*workflow.Workflow - Ready to hand to an exec engine.
//	error - Non-nil when stage dependencies do not form a DAG.
func Build(p *Pipeline) (*workflow.Workflow, error) {
	if p == nil {
		return nil, ErrInvalidPipeline
	}

	wf := workflow.New(p.Name)
	for _, stage := range p.Stages {
		opts := make([]workflow.TaskOption, 0, 3)
		if stage.Timeout > 0 {
			opts = append(opts, workflow.WithTimeout(stage.Timeout.Std()))
		}
		if stage.Retries > 0 {
			opts = append(opts, workflow.WithRetries(stage.Retries))
		}
		if stage.RetryDelay > 0 {
			opts = append(opts, workflow.WithRetryDelay(stage.RetryDelay.Std()))
		}
		wf.AddTask(stage.Name, stageAction(stage), stage.DependsOn, opts...)
	}

	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}
	return wf, nil
}

// stageAction runs a stage's commands in order through the shell.
// The combined output of all commands is the task's output.
func stageAction(stage Stage) workflow.Action {
	commands := append([]string(nil), stage.Commands...)
	env := environFor(stage)

	return func(ctx context.Context, _ *workflow.Context) (any, error) {
		var out bytes.Buffer
		for _, command := range commands {
			cmd := osexec.CommandContext(ctx, "sh", "-c", command)
			cmd.Env = env
			cmd.Stdout = &out
			cmd.Stderr = &out
			if err := cmd.Run(); err != nil {
				return out.String(), fmt.Errorf("stage %q: command %q: %w", stage.Name, command, err)
			}
		}
		return out.String(), nil
	}
}

// environFor merges the stage env over the process environment.
func environFor(stage Stage) []string {
	env := os.Environ()
	for k, v := range stage.Env {
		env = append(env, k+"="+v)
	}
	return env
}
