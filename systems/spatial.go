// Package systems provides the per-step particle systems: spatial indexing,
// neighbor search and free-surface classification.
package systems

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/config"
)

// maxCellCoord bounds cell coordinates so far-away particles cannot overflow
// the key arithmetic. Clamped particles share edge cells, which only widens
// the candidate set.
const maxCellCoord = 1 << 60

// cellKey identifies a grid cell by its integer coordinates.
type cellKey struct {
	X, Y, Z int64
}

// SpatialGrid is a uniform grid of cells keyed by floor(p/cellSize). Cells
// are hashed, so the grid covers any coordinate without a fixed domain.
type SpatialGrid struct {
	dim      int
	cellSize float64
	cells    map[cellKey][]int32
	count    int
}

// NewSpatialGrid creates an empty grid for a 2D or 3D domain. 2D grids ignore z.
func NewSpatialGrid(dim int) *SpatialGrid {
	if dim != 2 {
		dim = 3
	}
	return &SpatialGrid{
		dim:   dim,
		cells: make(map[cellKey][]int32),
	}
}

// Dim returns the grid dimension.
func (g *SpatialGrid) Dim() int { return g.dim }

// CellSize returns the cell edge length of the last rebuild.
func (g *SpatialGrid) CellSize() float64 { return g.cellSize }

// Len returns the number of particles in the grid.
func (g *SpatialGrid) Len() int { return g.count }

// CellCount returns the number of non-empty cells.
func (g *SpatialGrid) CellCount() int {
	n := 0
	for _, ids := range g.cells {
		if len(ids) > 0 {
			n++
		}
	}
	return n
}

// Rebuild discards the previous contents and buckets every particle for which
// include returns true (all particles if include is nil). Particles with
// non-finite positions are never bucketed. A non-positive or non-finite
// cellSize leaves the grid empty and returns an error wrapping
// config.ErrInvalidConfiguration.
func (g *SpatialGrid) Rebuild(positions []r3.Vec, include func(id int32) bool, cellSize float64) error {
	g.reset()
	if !(cellSize > 0) || math.IsInf(cellSize, 0) {
		g.cellSize = 0
		return fmt.Errorf("%w: cell size must be positive, got %g", config.ErrInvalidConfiguration, cellSize)
	}
	g.cellSize = cellSize

	for i, p := range positions {
		id := int32(i)
		if include != nil && !include(id) {
			continue
		}
		if !finite(p) {
			continue
		}
		g.insert(id, p)
	}
	return nil
}

// QueryRadiusInto appends to dst the ids of all particles in cells that could
// hold a point within radius of p, and returns the updated slice. The result
// is a superset of the exact answer; callers filter by distance. With
// cellSize >= radius this walks the 3^d cells around p. Reuse dst across
// calls to avoid allocations.
func (g *SpatialGrid) QueryRadiusInto(dst []int32, p r3.Vec, radius float64) []int32 {
	if g.cellSize == 0 || g.count == 0 || !finite(p) || radius < 0 || math.IsNaN(radius) {
		return dst
	}

	steps := 1.0
	if radius > g.cellSize {
		steps = math.Ceil(radius / g.cellSize)
	}

	// A very large radius touches more cells than exist; scan the occupied
	// cells instead of walking an enormous neighborhood. The walk size stays
	// in float64 so a huge radius cannot overflow the cell reach.
	span := 2*steps + 1
	walk := span * span
	if g.dim == 3 {
		walk *= span
	}
	if walk > float64(len(g.cells)) {
		return g.appendAll(dst)
	}
	reach := int64(steps)

	center := g.key(p)
	zReach := reach
	if g.dim == 2 {
		zReach = 0
	}

	for dx := -reach; dx <= reach; dx++ {
		for dy := -reach; dy <= reach; dy++ {
			for dz := -zReach; dz <= zReach; dz++ {
				k := cellKey{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
				dst = append(dst, g.cells[k]...)
			}
		}
	}

	return dst
}

// QueryRadius returns candidate ids near p in a new slice.
func (g *SpatialGrid) QueryRadius(p r3.Vec, radius float64) []int32 {
	return g.QueryRadiusInto(nil, p, radius)
}

// appendAll appends every bucketed id. Map order is random, so callers that
// need determinism must sort; NeighborFinder always does.
func (g *SpatialGrid) appendAll(dst []int32) []int32 {
	for _, ids := range g.cells {
		dst = append(dst, ids...)
	}
	return dst
}

// reset empties all cells, keeping their storage. Cells that stayed empty for
// a whole rebuild are dropped so a drifting domain does not accumulate them.
func (g *SpatialGrid) reset() {
	for k, ids := range g.cells {
		if len(ids) == 0 {
			delete(g.cells, k)
			continue
		}
		g.cells[k] = ids[:0]
	}
	g.count = 0
}

func (g *SpatialGrid) insert(id int32, p r3.Vec) {
	k := g.key(p)
	g.cells[k] = append(g.cells[k], id)
	g.count++
}

// key returns the cell containing p.
func (g *SpatialGrid) key(p r3.Vec) cellKey {
	k := cellKey{
		X: cellCoord(p.X, g.cellSize),
		Y: cellCoord(p.Y, g.cellSize),
	}
	if g.dim == 3 {
		k.Z = cellCoord(p.Z, g.cellSize)
	}
	return k
}

func cellCoord(v, cellSize float64) int64 {
	c := math.Floor(v / cellSize)
	if c > maxCellCoord {
		return maxCellCoord
	}
	if c < -maxCellCoord {
		return -maxCellCoord
	}
	return int64(c)
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
