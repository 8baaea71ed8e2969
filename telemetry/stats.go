// Package telemetry collects per-step statistics and timing for the
// classification pipeline and writes them as CSV.
package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/mps/components"
)

// StepStats holds aggregated statistics for one classification step.
type StepStats struct {
	Step    int64  `csv:"step"`
	Version uint64 `csv:"version"`

	// Population at commit
	Particles int `csv:"particles"`
	Fluid     int `csv:"fluid"`
	Flagged   int `csv:"flagged"`

	// State counts over fluid particles
	FreeSurface    int `csv:"free_surface"`
	SubFreeSurface int `csv:"sub_free_surface"`
	Inner          int `csv:"inner"`
	Splash         int `csv:"splash"`
	Ignored        int `csv:"ignored"`

	// Neighbor graph
	Pairs         int     `csv:"pairs"`
	MeanNeighbors float64 `csv:"mean_neighbors"`

	// Number density ratio n/n0 over classified fluid particles
	RatioMean float64 `csv:"ratio_mean"`
	RatioStd  float64 `csv:"ratio_std"`
	RatioP10  float64 `csv:"ratio_p10"`
	RatioP50  float64 `csv:"ratio_p50"`
	RatioP90  float64 `csv:"ratio_p90"`
}

// SetCounts fills the state columns from a per-state count.
func (s *StepStats) SetCounts(counts map[components.FluidState]int) {
	s.FreeSurface = counts[components.StateFreeSurface]
	s.SubFreeSurface = counts[components.StateSubFreeSurface]
	s.Inner = counts[components.StateInner]
	s.Splash = counts[components.StateSplash]
	s.Ignored = counts[components.StateIgnored]
}

// SetRatios fills the density ratio columns. owners is the number of
// particles that own a neighbor list.
func (s *StepStats) SetRatios(ratios []float64, pairs, owners int) {
	s.Pairs = pairs
	if owners > 0 {
		s.MeanNeighbors = float64(pairs) / float64(owners)
	}
	s.RatioMean, s.RatioStd, s.RatioP10, s.RatioP50, s.RatioP90 = ComputeRatioStats(ratios)
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeRatioStats calculates mean, std, and percentiles from density
// ratios. The standard deviation is the unbiased sample estimate.
func ComputeRatioStats(values []float64) (mean, std, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}
	if n == 1 {
		return values[0], 0, values[0], values[0], values[0]
	}

	mean, std = stat.MeanStdDev(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, std, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("step", s.Step),
		slog.Uint64("version", s.Version),
		slog.Int("particles", s.Particles),
		slog.Int("fluid", s.Fluid),
		slog.Int("flagged", s.Flagged),
		slog.Int("free_surface", s.FreeSurface),
		slog.Int("sub_free_surface", s.SubFreeSurface),
		slog.Int("inner", s.Inner),
		slog.Int("splash", s.Splash),
		slog.Int("pairs", s.Pairs),
		slog.Float64("mean_neighbors", s.MeanNeighbors),
		slog.Float64("ratio_mean", s.RatioMean),
		slog.Float64("ratio_std", s.RatioStd),
		slog.Float64("ratio_p50", s.RatioP50),
	)
}
