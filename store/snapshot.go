package store

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/components"
)

// Snapshot is a read-only copy of the classification inputs for one step,
// indexed by particle id. The pipeline reads it from many goroutines while
// the store keeps accepting integrator writes.
type Snapshot struct {
	Version   uint64
	Positions []r3.Vec
	Types     []components.ParticleType
	Active    []bool
	Valid     []bool  // Live and finite position
	Flagged   []int32 // Live non-ghost particles with non-finite positions, ascending
}

// Len returns the number of particle slots in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Positions)
}

// Searchable reports whether id takes part in neighbor search this step.
func (s *Snapshot) Searchable(id int32) bool {
	if id < 0 || int(id) >= len(s.Positions) {
		return false
	}
	return s.Valid[id] && s.Types[id].Searchable()
}

// Classifiable reports whether id receives a fluid state other than ignored.
func (s *Snapshot) Classifiable(id int32) bool {
	return s.Searchable(id) && s.Types[id] == components.TypeFluid && s.Active[id]
}

// Snapshot copies positions, types and activity for the current step.
// Removed particles appear as ghosts. Particles with non-finite coordinates
// are marked invalid and listed in Flagged.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entities)
	snap := &Snapshot{
		Version:   s.version,
		Positions: make([]r3.Vec, n),
		Types:     make([]components.ParticleType, n),
		Active:    make([]bool, n),
		Valid:     make([]bool, n),
	}

	for id, e := range s.entities {
		if s.removed[id] {
			snap.Types[id] = components.TypeGhost
			continue
		}
		body := s.bodyMap.Get(e)
		pos := s.posMap.Get(e).Vec()
		status := s.statusMap.Get(e)

		snap.Positions[id] = pos
		snap.Types[id] = body.Type
		snap.Active[id] = status.Active

		if finite(pos) {
			snap.Valid[id] = true
		} else if body.Type != components.TypeGhost {
			snap.Flagged = append(snap.Flagged, int32(id))
		}
	}

	return snap
}

func finite(v r3.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
