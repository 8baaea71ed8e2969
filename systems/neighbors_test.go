package systems

import (
	"math"
	"math/rand"
	"slices"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/components"
	"github.com/pthm-cable/mps/store"
)

// randomCloud returns n positions uniform in [0, extent)^dim.
func randomCloud(n, dim int, extent float64, seed int64) []r3.Vec {
	rng := rand.New(rand.NewSource(seed))
	out := make([]r3.Vec, n)
	for i := range out {
		out[i] = r3.Vec{X: rng.Float64() * extent, Y: rng.Float64() * extent}
		if dim == 3 {
			out[i].Z = rng.Float64() * extent
		}
	}
	return out
}

// snapshotOf loads particles into a fresh store and returns its snapshot.
// types may be nil for an all-fluid set.
func snapshotOf(tb testing.TB, types []components.ParticleType, positions []r3.Vec) (*store.Store, *store.Snapshot) {
	tb.Helper()
	s := store.New()
	for i, p := range positions {
		t := components.TypeFluid
		if types != nil {
			t = types[i]
		}
		if _, err := s.Add(t, p, r3.Vec{}); err != nil {
			tb.Fatalf("Add(%d): %v", i, err)
		}
	}
	return s, s.Snapshot()
}

// finderFor rebuilds a grid over snap and returns a finder bound to it.
func finderFor(tb testing.TB, dim int, snap *store.Snapshot, cellSize float64) *NeighborFinder {
	tb.Helper()
	g := NewSpatialGrid(dim)
	if err := g.Rebuild(snap.Positions, snap.Searchable, cellSize); err != nil {
		tb.Fatal(err)
	}
	return NewNeighborFinder(g, snap)
}

// bruteForce returns the exact neighbor ids of owner by scanning every particle.
func bruteForce(snap *store.Snapshot, owner int32, radius float64) []int32 {
	var ids []int32
	for j := range snap.Len() {
		id := int32(j)
		if id == owner || !snap.Searchable(id) {
			continue
		}
		if r3.Norm(r3.Sub(snap.Positions[id], snap.Positions[owner])) <= radius {
			ids = append(ids, id)
		}
	}
	return ids
}

func TestFindMatchesBruteForce(t *testing.T) {
	tests := []struct {
		name     string
		dim      int
		n        int
		radius   float64
		cellSize float64
	}{
		{"3d cell equals radius", 3, 1500, 0.1, 0.1},
		{"3d cell wider than radius", 3, 1500, 0.1, 0.15},
		{"2d cell equals radius", 2, 1500, 0.05, 0.05},
		{"2d radius spans cells", 2, 800, 0.12, 0.05},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, snap := snapshotOf(t, nil, randomCloud(tt.n, tt.dim, 1, 42))
			f := finderFor(t, tt.dim, snap, tt.cellSize)

			for i := range snap.Len() {
				owner := int32(i)
				got := f.Find(owner, tt.radius)
				gotIDs := make([]int32, len(got))
				for k, nb := range got {
					gotIDs[k] = nb.ID
				}
				slices.Sort(gotIDs)

				want := bruteForce(snap, owner, tt.radius)
				if !slices.Equal(gotIDs, want) {
					t.Fatalf("owner %d: got %v, want %v", owner, gotIDs, want)
				}
			}
		})
	}
}

func TestFindRecordsAreConsistent(t *testing.T) {
	_, snap := snapshotOf(t, nil, randomCloud(600, 3, 1, 7))
	f := finderFor(t, 3, snap, 0.12)
	const radius = 0.12

	lists := make([][]Neighbor, snap.Len())
	for i := range lists {
		lists[i] = f.Find(int32(i), radius)
	}

	for i, list := range lists {
		if !slices.IsSortedFunc(list, compareNeighbors) {
			t.Errorf("owner %d: list not sorted by (dist, id)", i)
		}
		for _, nb := range list {
			want := r3.Sub(snap.Positions[nb.ID], snap.Positions[i])
			if nb.Rij != want {
				t.Errorf("owner %d neighbor %d: Rij = %v, want %v", i, nb.ID, nb.Rij, want)
			}
			if math.Abs(nb.Dist-r3.Norm(want)) > 1e-15 {
				t.Errorf("owner %d neighbor %d: Dist = %g, want %g", i, nb.ID, nb.Dist, r3.Norm(want))
			}
			if nb.Dist > radius {
				t.Errorf("owner %d neighbor %d: Dist %g beyond radius", i, nb.ID, nb.Dist)
			}

			// Symmetry: j lists i with the opposite offset.
			idx := slices.IndexFunc(lists[nb.ID], func(b Neighbor) bool { return b.ID == int32(i) })
			if idx < 0 {
				t.Errorf("pair (%d, %d) is not symmetric", i, nb.ID)
				continue
			}
			back := lists[nb.ID][idx]
			if back.Rij != r3.Scale(-1, nb.Rij) {
				t.Errorf("pair (%d, %d): reverse Rij = %v, want %v", i, nb.ID, back.Rij, r3.Scale(-1, nb.Rij))
			}
		}
	}
}

func TestFindBoundaryDistanceIsInclusive(t *testing.T) {
	_, snap := snapshotOf(t, nil, []r3.Vec{{X: 0}, {X: 0.5}, {X: 0.5000001}})
	f := finderFor(t, 3, snap, 0.5)

	got := f.Find(0, 0.5)
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("Find = %+v, want only particle 1 at exactly the radius", got)
	}
}

func TestFindExclusions(t *testing.T) {
	types := []components.ParticleType{
		components.TypeFluid,
		components.TypeWall,
		components.TypeDummyWall,
		components.TypeFluid,
		components.TypeGhost,
		components.TypeFluid,
	}
	positions := []r3.Vec{
		{X: 0},
		{X: 0.1},
		{X: 0.2},
		{X: math.NaN()},
		{X: 0.3},
		{X: 0.4},
	}
	s, _ := snapshotOf(t, types, positions)
	if err := s.Remove(5); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	f := finderFor(t, 3, snap, 1)

	got := f.Find(0, 1)
	ids := make([]int32, len(got))
	for i, nb := range got {
		ids[i] = nb.ID
	}
	// Walls and dummy walls count; ghost, flagged, removed and self do not.
	if !slices.Equal(ids, []int32{1, 2}) {
		t.Errorf("Find(0) = %v, want [1 2]", ids)
	}

	if got := f.Find(3, 1); len(got) != 0 {
		t.Errorf("flagged owner got neighbors %v", got)
	}
	if got := f.Find(4, 1); len(got) != 0 {
		t.Errorf("ghost owner got neighbors %v", got)
	}
	if got := f.Find(99, 1); len(got) != 0 {
		t.Errorf("unknown owner got neighbors %v", got)
	}
}

func TestFindIsolatedParticle(t *testing.T) {
	_, snap := snapshotOf(t, nil, []r3.Vec{{X: 0}, {X: 10}})
	f := finderFor(t, 3, snap, 1)
	if got := f.Find(0, 1); len(got) != 0 {
		t.Errorf("isolated particle got neighbors %v", got)
	}
}

func TestFindTiesBreakByID(t *testing.T) {
	_, snap := snapshotOf(t, nil, []r3.Vec{{X: 1}, {X: -1}, {}, {Y: 1}})
	f := finderFor(t, 2, snap, 1)

	got := f.Find(2, 1)
	ids := make([]int32, len(got))
	for i, nb := range got {
		ids[i] = nb.ID
	}
	if !slices.Equal(ids, []int32{0, 1, 3}) {
		t.Errorf("equal-distance neighbors = %v, want ascending ids [0 1 3]", ids)
	}
}

func TestFindIntoAppends(t *testing.T) {
	_, snap := snapshotOf(t, nil, []r3.Vec{{}, {X: 0.5}, {X: 0.2}})
	f := finderFor(t, 3, snap, 1)

	sentinel := Neighbor{ID: 42, Dist: 100}
	dst, cand := f.FindInto([]Neighbor{sentinel}, nil, 0, 1)
	if len(dst) != 3 || dst[0] != sentinel {
		t.Fatalf("FindInto clobbered dst prefix: %+v", dst)
	}
	if dst[1].ID != 2 || dst[2].ID != 1 {
		t.Errorf("appended records not sorted: %+v", dst[1:])
	}
	if len(cand) == 0 {
		t.Error("candidate buffer not returned")
	}
}

func TestNeighborTable(t *testing.T) {
	var tbl NeighborTable
	tbl.Reset(3, 7)

	list := []Neighbor{{ID: 1, Dist: 0.5}, {ID: 2, Dist: 0.7}}
	tbl.Set(0, list)
	list[0].ID = 99

	if got := tbl.Get(0); len(got) != 2 || got[0].ID != 1 {
		t.Errorf("Get(0) = %+v, want a copy of the original list", got)
	}
	if tbl.Pairs() != 2 {
		t.Errorf("Pairs = %d, want 2", tbl.Pairs())
	}
	if tbl.Version() != 7 {
		t.Errorf("Version = %d, want 7", tbl.Version())
	}
	if tbl.Get(-1) != nil || tbl.Get(3) != nil {
		t.Error("out of range Get returned a list")
	}

	tbl.Reset(5, 8)
	if tbl.Len() != 5 || tbl.Pairs() != 0 {
		t.Errorf("after Reset: Len = %d Pairs = %d, want 5 and 0", tbl.Len(), tbl.Pairs())
	}
}

func BenchmarkFind(b *testing.B) {
	_, snap := snapshotOf(b, nil, randomCloud(10000, 3, 1, 1))
	f := finderFor(b, 3, snap, 0.05)
	var dst []Neighbor
	var cand []int32

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		owner := int32(i % snap.Len())
		dst, cand = f.FindInto(dst[:0], cand, owner, 0.05)
	}
}
