// Package components defines the per-particle data stored in the particle world.
package components

// ParticleType classifies what a particle represents. The numeric values match
// the type column of particle files.
type ParticleType uint8

const (
	TypeGhost     ParticleType = iota // Inactive placeholder, excluded from search
	TypeFluid                         // Fluid particle, classified every step
	TypeWall                          // Boundary particle, counted as a neighbor
	TypeDummyWall                     // Boundary padding that only stabilizes near-wall density
)

// NumParticleTypes is the number of particle types.
const NumParticleTypes = 4

// Valid reports whether t is one of the known particle types.
func (t ParticleType) Valid() bool {
	return t < NumParticleTypes
}

// IsBoundary reports whether t is a wall-like type.
func (t ParticleType) IsBoundary() bool {
	switch t {
	case TypeWall, TypeDummyWall:
		return true
	default:
		return false
	}
}

// Searchable reports whether particles of type t take part in neighbor search.
func (t ParticleType) Searchable() bool {
	switch t {
	case TypeFluid, TypeWall, TypeDummyWall:
		return true
	default:
		return false
	}
}

// FluidState is the local topological state of a fluid particle.
type FluidState uint8

const (
	StateIgnored        FluidState = iota // Boundary, ghost, or excluded particle
	StateFreeSurface                      // Exposed surface particle
	StateSubFreeSurface                   // Near the surface but not exposed
	StateInner                            // Fully surrounded
	StateSplash                           // Detached from the bulk
)

// NumFluidStates is the number of fluid states.
const NumFluidStates = 5

// Valid reports whether s is one of the known fluid states.
func (s FluidState) Valid() bool {
	return s < NumFluidStates
}
