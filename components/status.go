package components

// Status holds the per-step classification output of a particle.
type Status struct {
	State         FluidState
	NumberDensity float64 // Weighted neighbor count from the last step
	Active        bool    // False excludes a fluid particle from classification
	Flagged       bool    // Malformed data (non-finite position) in the last step
}
