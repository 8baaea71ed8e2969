package systems

import (
	"errors"
	"math"
	"slices"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/config"
)

func TestRebuildRejectsBadCellSize(t *testing.T) {
	for _, cell := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		g := NewSpatialGrid(3)
		err := g.Rebuild([]r3.Vec{{}}, nil, cell)
		if !errors.Is(err, config.ErrInvalidConfiguration) {
			t.Errorf("Rebuild(cell=%v) = %v, want ErrInvalidConfiguration", cell, err)
		}
		if g.Len() != 0 {
			t.Errorf("Rebuild(cell=%v) left %d particles in the grid", cell, g.Len())
		}
	}
}

func TestRebuildHonorsInclude(t *testing.T) {
	g := NewSpatialGrid(3)
	positions := []r3.Vec{{X: 0}, {X: 0.1}, {X: 0.2}, {X: math.NaN()}}
	err := g.Rebuild(positions, func(id int32) bool { return id != 1 }, 1)
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 2 {
		t.Errorf("Len = %d, want 2 (one excluded, one non-finite)", g.Len())
	}
	got := g.QueryRadius(r3.Vec{}, 1)
	slices.Sort(got)
	if !slices.Equal(got, []int32{0, 2}) {
		t.Errorf("QueryRadius = %v, want [0 2]", got)
	}
}

func TestRebuildDiscardsPreviousState(t *testing.T) {
	g := NewSpatialGrid(3)
	if err := g.Rebuild([]r3.Vec{{X: 100}, {X: 200}}, nil, 1); err != nil {
		t.Fatal(err)
	}
	if err := g.Rebuild([]r3.Vec{{X: 0}}, nil, 1); err != nil {
		t.Fatal(err)
	}
	if g.Len() != 1 {
		t.Errorf("Len = %d after rebuild, want 1", g.Len())
	}
	if got := g.QueryRadius(r3.Vec{X: 200}, 1); slices.Contains(got, 1) {
		t.Errorf("stale particle 1 after rebuild: %v", got)
	}

	// Cells that stayed empty for a whole rebuild are pruned.
	if err := g.Rebuild([]r3.Vec{{X: 0}}, nil, 1); err != nil {
		t.Fatal(err)
	}
	if len(g.cells) != 1 {
		t.Errorf("len(cells) = %d after two rebuilds, want 1", len(g.cells))
	}
}

func TestRebuildToleratesAnyCoordinates(t *testing.T) {
	g := NewSpatialGrid(3)
	positions := []r3.Vec{
		{X: -1e6, Y: 5e5, Z: -3},
		{X: 1e300, Y: -1e300},
		{X: -0.5, Y: -0.5, Z: -0.5},
	}
	if err := g.Rebuild(positions, nil, 0.1); err != nil {
		t.Fatalf("Rebuild error: %v", err)
	}
	if g.Len() != 3 {
		t.Errorf("Len = %d, want 3", g.Len())
	}
	if got := g.QueryRadius(positions[1], 0.1); !slices.Contains(got, 1) {
		t.Errorf("far particle not found by its own query: %v", got)
	}
}

func TestQueryCoversAdjacentCells(t *testing.T) {
	// A 9x9x9 lattice with cell size 1 so the 27-cell walk is used.
	g := NewSpatialGrid(3)
	var positions []r3.Vec
	for x := 0; x < 9; x++ {
		for y := 0; y < 9; y++ {
			for z := 0; z < 9; z++ {
				positions = append(positions, r3.Vec{X: float64(x) + 0.5, Y: float64(y) + 0.5, Z: float64(z) + 0.5})
			}
		}
	}
	if err := g.Rebuild(positions, nil, 1); err != nil {
		t.Fatal(err)
	}

	center := r3.Vec{X: 4.5, Y: 4.5, Z: 4.5}
	got := g.QueryRadius(center, 1)
	if len(got) != 27 {
		t.Errorf("query returned %d candidates, want 27 (3^3 cells)", len(got))
	}
	for _, id := range got {
		d := r3.Sub(positions[id], center)
		if math.Abs(d.X) > 1 || math.Abs(d.Y) > 1 || math.Abs(d.Z) > 1 {
			t.Errorf("candidate %d at %v is outside the adjacent cells", id, positions[id])
		}
	}
}

func TestQueryWiderRadiusExtendsReach(t *testing.T) {
	g := NewSpatialGrid(2)
	var positions []r3.Vec
	for x := 0; x < 20; x++ {
		for y := 0; y < 20; y++ {
			positions = append(positions, r3.Vec{X: float64(x) + 0.5, Y: float64(y) + 0.5})
		}
	}
	if err := g.Rebuild(positions, nil, 1); err != nil {
		t.Fatal(err)
	}

	// radius 2.5 with cell 1 needs a reach of 3 cells: 7x7 in 2D.
	got := g.QueryRadius(r3.Vec{X: 10.5, Y: 10.5}, 2.5)
	if len(got) != 49 {
		t.Errorf("query returned %d candidates, want 49", len(got))
	}
}

func TestQuery2DIgnoresZ(t *testing.T) {
	g := NewSpatialGrid(2)
	positions := []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 0.5, Y: 0, Z: 50}}
	if err := g.Rebuild(positions, nil, 1); err != nil {
		t.Fatal(err)
	}
	got := g.QueryRadius(r3.Vec{}, 1)
	if len(got) != 2 {
		t.Errorf("2D query returned %v, want both particles", got)
	}
}

func TestQueryHugeRadiusReturnsEverything(t *testing.T) {
	tests := []struct {
		name   string
		dim    int
		radius float64
	}{
		{"3D 1e30", 3, 1e30},
		{"2D 1e30", 2, 1e30},
		{"3D max float", 3, math.MaxFloat64},
		{"3D inf", 3, math.Inf(1)},
	}

	positions := []r3.Vec{{X: 0}, {X: 5}, {X: 1e6}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewSpatialGrid(tt.dim)
			if err := g.Rebuild(positions, nil, 1); err != nil {
				t.Fatal(err)
			}
			got := g.QueryRadius(r3.Vec{}, tt.radius)
			slices.Sort(got)
			if !slices.Equal(got, []int32{0, 1, 2}) {
				t.Errorf("QueryRadius(radius=%g) = %v, want [0 1 2]", tt.radius, got)
			}
		})
	}
}

func BenchmarkRebuild(b *testing.B) {
	positions := randomCloud(20000, 3, 1.0, 1)
	g := NewSpatialGrid(3)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := g.Rebuild(positions, nil, 0.05); err != nil {
			b.Fatal(err)
		}
	}
}
