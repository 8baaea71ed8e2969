package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/mps/config"
	"github.com/pthm-cable/mps/particleio"
	"github.com/pthm-cable/mps/sim"
	"github.com/pthm-cable/mps/store"
	"github.com/pthm-cable/mps/telemetry"
)

type classifyOptions struct {
	steps     int
	outputDir string
	export    string
}

func classifyCmd() *cobra.Command {
	var opts classifyOptions

	cmd := &cobra.Command{
		Use:   "classify [particle-file]",
		Short: "Load particles, run classification steps and export the states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runClassify(ctx, config.Cfg(), args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.steps, "steps", "n", 1, "Number of classification steps to run")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "Directory for steps.csv, perf.csv and config.yaml")
	cmd.Flags().StringVarP(&opts.export, "export", "e", "", "Write per-particle states to this CSV file")
	return cmd
}

func runClassify(ctx context.Context, cfg *config.Config, path string, opts classifyOptions) error {
	if opts.steps < 1 {
		return fmt.Errorf("--steps must be at least 1, got %d", opts.steps)
	}

	scene, err := particleio.Load(path)
	if err != nil {
		return err
	}

	st := store.New()
	if _, err := particleio.Populate(st, scene); err != nil {
		return fmt.Errorf("loading particles: %w", err)
	}
	slog.Info("particles loaded", "path", path, "count", st.Len(), "start_time", scene.StartTime)

	output, err := telemetry.NewOutputManager(opts.outputDir)
	if err != nil {
		return err
	}
	defer output.Close()
	if err := output.WriteConfig(cfg); err != nil {
		return fmt.Errorf("writing config snapshot: %w", err)
	}

	engine, err := sim.New(cfg, st, sim.Options{Logger: slog.Default(), Output: output})
	if err != nil {
		return err
	}
	defer engine.Close()

	var last sim.StepResult
	for i := 0; i < opts.steps; i++ {
		last, err = engine.Step(ctx)
		if err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	slog.Info("classification finished", "stats", last.Stats, "perf", engine.Perf())

	if opts.export != "" {
		if err := particleio.ExportFile(opts.export, st); err != nil {
			return err
		}
		slog.Info("states exported", "path", opts.export)
	}
	return nil
}
