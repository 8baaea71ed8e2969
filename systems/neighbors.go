package systems

import (
	"cmp"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/store"
)

// Neighbor holds a nearby particle with precomputed spatial data.
// Pairs are stored once per owner; the reverse record has -Rij.
type Neighbor struct {
	ID   int32   // Neighbor particle id
	Rij  r3.Vec  // Position of the neighbor minus position of the owner
	Dist float64 // |Rij|
}

// compareNeighbors orders by ascending distance, then ascending id.
func compareNeighbors(a, b Neighbor) int {
	if c := cmp.Compare(a.Dist, b.Dist); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// NeighborFinder produces exact neighbor lists from a rebuilt grid and the
// snapshot the grid was built from. It only reads shared state, so distinct
// owners can be searched from many goroutines at once.
type NeighborFinder struct {
	grid *SpatialGrid
	snap *store.Snapshot
}

// NewNeighborFinder binds a grid to the snapshot it indexes.
func NewNeighborFinder(grid *SpatialGrid, snap *store.Snapshot) *NeighborFinder {
	return &NeighborFinder{grid: grid, snap: snap}
}

// FindInto appends the neighbors of owner within radius to dst and returns
// it together with the candidate buffer, which callers keep for reuse. The
// appended records are sorted by distance, ties by id. Ghost, flagged and
// removed particles and the owner itself are excluded. An owner that is not
// searchable gets no neighbors.
func (f *NeighborFinder) FindInto(dst []Neighbor, candidates []int32, owner int32, radius float64) ([]Neighbor, []int32) {
	candidates = candidates[:0]
	if !f.snap.Searchable(owner) || radius < 0 {
		return dst, candidates
	}

	pi := f.snap.Positions[owner]
	candidates = f.grid.QueryRadiusInto(candidates, pi, radius)

	start := len(dst)
	for _, j := range candidates {
		if j == owner || !f.snap.Searchable(j) {
			continue
		}
		rij := r3.Sub(f.snap.Positions[j], pi)
		dist := r3.Norm(rij)
		if dist <= radius {
			dst = append(dst, Neighbor{ID: j, Rij: rij, Dist: dist})
		}
	}

	slices.SortFunc(dst[start:], compareNeighbors)
	return dst, candidates
}

// Find returns the neighbors of owner within radius.
func (f *NeighborFinder) Find(owner int32, radius float64) []Neighbor {
	list, _ := f.FindInto(nil, nil, owner, radius)
	return list
}

// NeighborTable is per-step arena storage for neighbor lists, indexed by
// owner id. Each owner slice is cleared and refilled every step and written
// by exactly one worker, so filling needs no locking. Slices returned by Get
// are only valid until the next Reset.
type NeighborTable struct {
	lists   [][]Neighbor
	version uint64
}

// Reset clears every list and sizes the table for n owners built from the
// snapshot with the given version.
func (t *NeighborTable) Reset(n int, version uint64) {
	if cap(t.lists) < n {
		grown := make([][]Neighbor, n)
		copy(grown, t.lists)
		t.lists = grown
	}
	t.lists = t.lists[:n]
	for i := range t.lists {
		t.lists[i] = t.lists[i][:0]
	}
	t.version = version
}

// Set replaces the list of owner with a copy of list.
func (t *NeighborTable) Set(owner int32, list []Neighbor) {
	t.lists[owner] = append(t.lists[owner][:0], list...)
}

// Get returns the list of owner, or nil for ids outside the table.
func (t *NeighborTable) Get(owner int32) []Neighbor {
	if owner < 0 || int(owner) >= len(t.lists) {
		return nil
	}
	return t.lists[owner]
}

// Len returns the number of owner slots.
func (t *NeighborTable) Len() int { return len(t.lists) }

// Version returns the store version the lists were built from.
func (t *NeighborTable) Version() uint64 { return t.version }

// Pairs returns the total number of directed neighbor records.
func (t *NeighborTable) Pairs() int {
	n := 0
	for _, l := range t.lists {
		n += len(l)
	}
	return n
}
