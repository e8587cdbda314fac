// Copyright (C) 2026 Seastack Labs (oss@seastack.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command conductor runs pipeline files through the orchestration engine.
//
// Usage:
//
//	conductor run pipeline.yaml
//	conductor run pipeline.yaml --engine sequential
//	conductor run pipeline.yaml --engine parallel --workers 8 --verbose
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/seastack/conductor/engine/exec"
	"github.com/seastack/conductor/engine/pipeline"
	"github.com/seastack/conductor/pkg/logging"
)

const version = "0.3.0"

var (
	engineKind string
	workers    int
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "conductor",
		Short: "A DAG task-orchestration engine",
		Long: `Conductor executes directed acyclic graphs of interdependent work,
resolving execution order, applying retry policies, and running
independent stages concurrently.`,
	}

	runCmd = &cobra.Command{
		Use:   "run [pipeline file]",
		Short: "Run a pipeline file",
		Long:  `Loads a YAML pipeline definition, builds the task graph, and executes it with the selected engine.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runPipeline,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the conductor version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("conductor " + version)
		},
	}
)

func init() {
	runCmd.Flags().StringVar(&engineKind, "engine", "parallel", "engine kind: sequential or parallel")
	runCmd.Flags().IntVar(&workers, "workers", exec.DefaultWorkers, "worker pool size for the parallel engine")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, Service: "conductor"})
	slog.SetDefault(logger)

	p, err := pipeline.Load(args[0])
	if err != nil {
		return err
	}

	wf, err := pipeline.Build(p)
	if err != nil {
		return err
	}

	kind, err := exec.ParseKind(engineKind)
	if err != nil {
		return err
	}

	engine, err := exec.New(kind, exec.WithWorkers(workers), exec.WithLogger(logger))
	if err != nil {
		return err
	}

	res, err := engine.Execute(cmd.Context(), wf, nil)
	if err != nil {
		return err
	}

	printSummary(res)
	if !res.Success {
		// FirstError can be nil on an unsuccessful run, e.g. when tasks
		// were excluded from the execution order.
		if res.FirstError != nil {
			return fmt.Errorf("pipeline %q failed: %w", wf.Name(), res.FirstError)
		}
		return fmt.Errorf("pipeline %q failed", wf.Name())
	}
	return nil
}

// printSummary writes a per-stage report to stdout, stages sorted by name.
func printSummary(res *exec.WorkflowResult) {
	rows := make([]*exec.TaskResult, 0, len(res.Results))
	for _, tr := range res.Results {
		rows = append(rows, tr)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	fmt.Printf("pipeline %s (%s) in %s\n", res.Workflow, status(res.Success), res.Duration.Round(time.Millisecond))
	for _, tr := range rows {
		fmt.Printf("  %-24s %-10s attempts=%d %s\n",
			tr.Name, tr.State, tr.Attempts, tr.Duration.Round(time.Millisecond))
		if tr.Err != nil {
			fmt.Printf("    error: %v\n", tr.Err)
		}
	}
}

func status(ok bool) string {
	if ok {
		return "succeeded"
	}
	return "failed"
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
