// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline translates declarative pipeline files into workflows.
//
// The adapter owns every shell-level concern: commands, environment
// variables, process invocation. The exec engines never see any of it;
// each stage becomes one ordinary TaskDefinition whose action happens to
// spawn processes. Unlike the engines' tolerant leveling, the adapter
// rejects invalid pipelines hard at load time.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidPipeline is returned when a pipeline file fails validation.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrDuplicateStage is returned when two stages share a name.
	ErrDuplicateStage = errors.New("duplicate stage name")
)

// Duration wraps time.Duration with YAML support for values like "30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: bad duration %q: %v", ErrInvalidPipeline, raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Stage is one unit of a pipeline: a named group of shell commands with
// dependency, timeout and retry settings.
type Stage struct {
	// Name identifies the stage and is referenced by depends_on.
	Name string `yaml:"name" validate:"required"`

	// Commands are run in order through the shell. The stage fails on
	// the first failing command.
	Commands []string `yaml:"commands" validate:"required,min=1,dive,required"`

	// Env holds extra environment variables for every command.
	Env map[string]string `yaml:"env"`

	// DependsOn lists names of stages that must finish first.
	DependsOn []string `yaml:"depends_on"`

	// Timeout bounds each attempt of the whole stage.
	Timeout Duration `yaml:"timeout"`

	// Retries is the number of re-runs after a failed attempt.
	Retries int `yaml:"retries" validate:"gte=0"`

	// RetryDelay is the wait between attempts.
	RetryDelay Duration `yaml:"retry_delay"`
}

// Pipeline is the root of a pipeline file.
type Pipeline struct {
	// Name names the resulting workflow.
	Name string `yaml:"name" validate:"required"`

	// Stages are the pipeline's units of work.
	Stages []Stage `yaml:"stages" validate:"required,min=1,dive"`
}

var validate = validator.New()

// Parse decodes and validates pipeline YAML.
//
// Outputs:
//
//	*Pipeline - The validated pipeline.
//	error - Non-nil on malformed YAML, failed struct validation, or
//	duplicate stage names.
func Parse(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}

	seen := make(map[string]bool, len(p.Stages))
	for _, stage := range p.Stages {
		if seen[stage.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, stage.Name)
		}
		seen[stage.Name] = true
	}
	return &p, nil
}

// Load reads and parses a pipeline file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline: %w", err)
	}
	return Parse(data)
}
