package components

import "gonum.org/v1/gonum/spatial/r3"

// Position represents a particle's world position. 2D scenes keep Z at zero.
type Position struct {
	X, Y, Z float64
}

// Vec returns the position as a vector.
func (p Position) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// PositionOf converts a vector to a Position.
func PositionOf(v r3.Vec) Position {
	return Position{X: v.X, Y: v.Y, Z: v.Z}
}

// Velocity represents a particle's velocity.
type Velocity struct {
	X, Y, Z float64
}

// Vec returns the velocity as a vector.
func (v Velocity) Vec() r3.Vec {
	return r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

// VelocityOf converts a vector to a Velocity.
func VelocityOf(v r3.Vec) Velocity {
	return Velocity{X: v.X, Y: v.Y, Z: v.Z}
}
