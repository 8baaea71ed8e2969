package telemetry

import (
	"math"
	"testing"

	"github.com/pthm-cable/mps/components"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestComputeRatioStats(t *testing.T) {
	values := []float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}
	mean, std, p10, p50, p90 := ComputeRatioStats(values)

	if math.Abs(mean-0.55) > 0.001 {
		t.Errorf("mean = %v, want 0.55", mean)
	}

	// Sample standard deviation of 0.1..1.0
	if math.Abs(std-0.30277) > 0.001 {
		t.Errorf("std = %v, want ~0.3028", std)
	}

	if math.Abs(p10-0.19) > 0.01 {
		t.Errorf("p10 = %v, want ~0.19", p10)
	}

	if math.Abs(p50-0.55) > 0.01 {
		t.Errorf("p50 = %v, want ~0.55", p50)
	}

	if math.Abs(p90-0.91) > 0.01 {
		t.Errorf("p90 = %v, want ~0.91", p90)
	}

	// Input order is preserved.
	if values[0] != 1.0 {
		t.Error("ComputeRatioStats sorted its input")
	}
}

func TestComputeRatioStatsSmall(t *testing.T) {
	mean, std, p10, p50, p90 := ComputeRatioStats(nil)
	if mean != 0 || std != 0 || p10 != 0 || p50 != 0 || p90 != 0 {
		t.Error("empty slice should return all zeros")
	}

	mean, std, _, p50, _ = ComputeRatioStats([]float64{0.8})
	if mean != 0.8 || std != 0 || p50 != 0.8 {
		t.Errorf("single value: mean=%v std=%v p50=%v", mean, std, p50)
	}
}

func TestStepStats_SetCounts(t *testing.T) {
	var s StepStats
	s.SetCounts(map[components.FluidState]int{
		components.StateInner:       10,
		components.StateFreeSurface: 4,
		components.StateSplash:      1,
	})
	if s.Inner != 10 || s.FreeSurface != 4 || s.Splash != 1 || s.SubFreeSurface != 0 {
		t.Errorf("unexpected counts: %+v", s)
	}

	s.SetRatios([]float64{1, 1}, 30, 3)
	if s.Pairs != 30 || s.MeanNeighbors != 10 {
		t.Errorf("pairs=%d mean_neighbors=%v, want 30 and 10", s.Pairs, s.MeanNeighbors)
	}
	if s.RatioMean != 1 {
		t.Errorf("ratio_mean = %v, want 1", s.RatioMean)
	}
}
