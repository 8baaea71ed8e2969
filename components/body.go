package components

// Body holds the immutable identity of a particle.
type Body struct {
	ID   int32        // Stable index, never reused within a run
	Type ParticleType // Fixed at creation
}

// Physics holds the scalars owned by the integrator. They are stored next to
// the particle for locality and are never read by the classification core.
type Physics struct {
	Pressure float64
	Density  float64
}
