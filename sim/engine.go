// Package sim runs the per-step neighbor search and free-surface
// classification pipeline over a particle store.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/pthm-cable/mps/components"
	"github.com/pthm-cable/mps/config"
	"github.com/pthm-cable/mps/store"
	"github.com/pthm-cable/mps/systems"
	"github.com/pthm-cable/mps/telemetry"
)

// ErrStaleNeighbors indicates neighbor lists requested after positions
// changed without a new step, or before the first step.
var ErrStaleNeighbors = errors.New("sim: neighbor lists are stale")

// ErrClosed indicates a step on an engine whose workers were stopped.
var ErrClosed = errors.New("sim: engine closed")

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger             // nil = slog.Default()
	Output *telemetry.OutputManager // nil = no CSV output
}

// StepResult summarizes one committed step.
type StepResult struct {
	Step    int64
	Version uint64                        // Store version the states belong to
	Counts  map[components.FluidState]int // States of live fluid particles
	Flagged []int32                       // Particles excluded for non-finite positions
	Pairs   int                           // Directed neighbor records
	Stats   telemetry.StepStats
}

// Engine owns the spatial grid, neighbor table and worker pool, and runs
// classification steps against a store. Step and Neighbors may be called
// from different goroutines; steps themselves are serialized.
type Engine struct {
	mu sync.RWMutex

	cfg        *config.Config
	store      *store.Store
	logger     *slog.Logger
	output     *telemetry.OutputManager
	perf       *telemetry.PerfCollector
	grid       *systems.SpatialGrid
	classifier *systems.Classifier
	ref        systems.RefValues
	parallel   *parallelState

	table  systems.NeighborTable
	ready  bool // table holds a committed step
	step   int64
	closed bool

	// Per-step state shared with workers. Workers write only the slots of
	// the ids in their chunk.
	snap      *store.Snapshot
	finder    *systems.NeighborFinder
	states    []components.FluidState
	densities []float64
}

// New validates cfg, computes the reference number density and returns an
// engine bound to st.
func New(cfg *config.Config, st *store.Store, opts Options) (*Engine, error) {
	if cfg == nil || st == nil {
		return nil, fmt.Errorf("%w: engine needs a config and a store", config.ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	weight, err := systems.Weight(cfg.Weight)
	if err != nil {
		return nil, err
	}
	ref, err := systems.ReferenceDensity(cfg.Dim, cfg.ParticleDistance, cfg.Derived.Radius, weight)
	if err != nil {
		return nil, fmt.Errorf("computing reference density: %w", err)
	}
	classifier, err := systems.NewClassifier(cfg.Surface, weight, cfg.Derived.Radius, cfg.ParticleDistance)
	if err != nil {
		return nil, err
	}
	if err := classifier.SetReference(ref.N0); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("engine ready",
		"dim", cfg.Dim,
		"particle_distance", cfg.ParticleDistance,
		"radius", cfg.Derived.Radius,
		"cell_size", cfg.Derived.CellSize,
		"weight", cfg.Weight,
		"n0", ref.N0,
		"lambda", ref.Lambda,
	)

	return &Engine{
		cfg:        cfg,
		store:      st,
		logger:     logger,
		output:     opts.Output,
		perf:       telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		grid:       systems.NewSpatialGrid(cfg.Dim),
		classifier: classifier,
		ref:        ref,
		parallel:   newParallelState(cfg.Parallel.Workers, cfg.Parallel.Threshold),
	}, nil
}

// Reference returns the reference values the classifier uses.
func (e *Engine) Reference() systems.RefValues {
	return e.ref
}

// Perf returns the rolling timing statistics.
func (e *Engine) Perf() telemetry.PerfStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.perf.Stats()
}

// Step rebuilds the spatial index, recomputes every neighbor list and
// classifies every active fluid particle, then commits the states to the
// store atomically. A cancelled context is honored between phases; nothing
// is committed in that case.
func (e *Engine) Step(ctx context.Context) (StepResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return StepResult{}, ErrClosed
	}

	e.ready = false
	e.perf.StartStep()
	res, err := e.runStep(ctx)
	e.perf.EndStep()
	e.snap, e.finder = nil, nil
	if err != nil {
		return StepResult{}, err
	}

	e.step++
	e.ready = true
	res.Step = e.step
	res.Stats.Step = e.step

	e.report(res)
	return res, nil
}

func (e *Engine) runStep(ctx context.Context) (StepResult, error) {
	// Snapshot
	e.perf.StartPhase(telemetry.PhaseSnapshot)
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	snap := e.store.Snapshot()
	n := snap.Len()
	e.snap = snap

	for _, id := range snap.Flagged {
		e.logger.Warn("particle excluded", "id", id, "reason", "non-finite position", "position", snap.Positions[id])
	}

	// Phase 1: spatial index (single writer)
	e.perf.StartPhase(telemetry.PhaseSpatialIndex)
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if err := e.grid.Rebuild(snap.Positions, snap.Searchable, e.cfg.Derived.CellSize); err != nil {
		return StepResult{}, fmt.Errorf("rebuilding grid: %w", err)
	}
	e.finder = systems.NewNeighborFinder(e.grid, snap)
	e.table.Reset(n, snap.Version)

	// Phase 2: neighbor lists
	e.perf.StartPhase(telemetry.PhaseNeighbors)
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	if err := e.parallel.run(e, n, passNeighbors); err != nil {
		return StepResult{}, fmt.Errorf("searching neighbors: %w", err)
	}

	// Phase 3: number density and classification
	e.perf.StartPhase(telemetry.PhaseClassify)
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	e.states = slices.Grow(e.states[:0], n)[:n]
	e.densities = slices.Grow(e.densities[:0], n)[:n]
	if err := e.parallel.run(e, n, passClassify); err != nil {
		return StepResult{}, fmt.Errorf("classifying: %w", err)
	}

	// Commit (single-threaded)
	e.perf.StartPhase(telemetry.PhaseCommit)
	if err := ctx.Err(); err != nil {
		return StepResult{}, err
	}
	flagged := make([]bool, n)
	for _, id := range snap.Flagged {
		flagged[id] = true
	}
	err := e.store.Commit(snap.Version, func(w *store.StateWriter) error {
		for i := range n {
			id := int32(i)
			if snap.Types[id] == components.TypeGhost {
				continue
			}
			if err := w.SetState(id, e.states[id]); err != nil {
				return err
			}
			if err := w.SetNumberDensity(id, e.densities[id]); err != nil {
				return err
			}
			if err := w.Flag(id, flagged[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return StepResult{}, fmt.Errorf("committing states: %w", err)
	}

	return e.summarize(snap), nil
}

// computeChunk runs one pass over ids [chunk.start, chunk.end).
func (e *Engine) computeChunk(chunk workChunk, scratch *workerScratch) {
	switch chunk.pass {
	case passNeighbors:
		radius := e.classifier.Radius()
		for i := chunk.start; i < chunk.end; i++ {
			id := int32(i)
			if !e.snap.Searchable(id) {
				continue
			}
			scratch.Neighbors, scratch.Candidates = e.finder.FindInto(
				scratch.Neighbors[:0], scratch.Candidates, id, radius)
			e.table.Set(id, scratch.Neighbors)
		}

	case passClassify:
		for i := chunk.start; i < chunk.end; i++ {
			id := int32(i)
			nbs := e.table.Get(id)
			var density float64
			if e.snap.Searchable(id) {
				density = e.classifier.NumberDensity(nbs)
			}
			state, err := e.classifier.Classify(e.snap.Types[id], e.snap.Classifiable(id), density, nbs)
			if err != nil {
				if scratch.Err == nil {
					scratch.Err = &store.ParticleError{ID: id, Err: err}
				}
				state = components.StateIgnored
			}
			e.states[id] = state
			e.densities[id] = density
		}
	}
}

// summarize builds the step result from the committed arrays.
func (e *Engine) summarize(snap *store.Snapshot) StepResult {
	counts := make(map[components.FluidState]int, components.NumFluidStates)
	var ratios []float64
	stats := telemetry.StepStats{Version: snap.Version, Flagged: len(snap.Flagged)}

	owners := 0
	for i := range snap.Len() {
		id := int32(i)
		if snap.Types[id] == components.TypeGhost {
			continue
		}
		stats.Particles++
		if snap.Searchable(id) {
			owners++
		}
		if snap.Types[id] != components.TypeFluid {
			continue
		}
		stats.Fluid++
		counts[e.states[id]]++
		if snap.Classifiable(id) {
			ratios = append(ratios, e.classifier.Ratio(e.densities[id]))
		}
	}

	pairs := e.table.Pairs()
	stats.SetCounts(counts)
	stats.SetRatios(ratios, pairs, owners)

	return StepResult{
		Version: snap.Version,
		Counts:  counts,
		Flagged: slices.Clone(snap.Flagged),
		Pairs:   pairs,
		Stats:   stats,
	}
}

// report logs the step and writes telemetry rows.
func (e *Engine) report(res StepResult) {
	e.logger.Debug("step", "stats", res.Stats)

	if err := e.output.WriteStep(res.Stats); err != nil {
		e.logger.Error("writing step stats", "error", err)
	}

	every := int64(e.cfg.Telemetry.LogEvery)
	if every > 0 && res.Step%every == 0 {
		perf := e.perf.Stats()
		e.logger.Info("perf", "step", res.Step, "perf", perf)
		if err := e.output.WritePerf(perf, res.Step); err != nil {
			e.logger.Error("writing perf stats", "error", err)
		}
	}
}

// Neighbors returns a copy of the neighbor list of id from the last step,
// sorted by distance then id. It fails with ErrStaleNeighbors if positions,
// activity or membership changed since that step.
func (e *Engine) Neighbors(id int32) ([]systems.Neighbor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ready || e.table.Version() != e.store.Version() {
		return nil, ErrStaleNeighbors
	}
	if id < 0 || int(id) >= e.table.Len() {
		return nil, &store.ParticleError{ID: id, Err: store.ErrUnknownParticle}
	}
	return slices.Clone(e.table.Get(id)), nil
}

// Close stops the worker pool. The engine cannot step afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parallel.stopWorkers()
	e.closed = true
}
