// Package scene generates initial particle layouts: lattice blocks and a
// dam-break tank with wall and dummy wall layers.
package scene

import (
	"errors"
	"fmt"
	"math"

	"github.com/aquilax/go-perlin"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/components"
	"github.com/pthm-cable/mps/particleio"
)

// ErrInvalidScene indicates scene parameters that cannot produce a layout.
var ErrInvalidScene = errors.New("scene: invalid parameters")

// gridTolerance is the relative slack allowed when a length must be a whole
// number of particle spacings.
const gridTolerance = 0.01

// Block returns the points of a lattice block with n[axis] particles per axis
// starting at origin. 2D blocks ignore n[2] and keep z at origin.Z.
func Block(dim int, spacing float64, origin r3.Vec, n [3]int) []r3.Vec {
	nz := n[2]
	if dim == 2 {
		nz = 1
	}
	if n[0] <= 0 || n[1] <= 0 || nz <= 0 {
		return nil
	}
	out := make([]r3.Vec, 0, n[0]*n[1]*nz)
	for ix := 0; ix < n[0]; ix++ {
		for iy := 0; iy < n[1]; iy++ {
			for iz := 0; iz < nz; iz++ {
				out = append(out, r3.Add(origin, r3.Vec{
					X: float64(ix) * spacing,
					Y: float64(iy) * spacing,
					Z: float64(iz) * spacing,
				}))
			}
		}
	}
	return out
}

// FluidBlock returns a scene holding a single block of fluid particles.
func FluidBlock(dim int, spacing float64, n [3]int) *particleio.Scene {
	s := &particleio.Scene{}
	for _, p := range Block(dim, spacing, r3.Vec{}, n) {
		s.Records = append(s.Records, particleio.Record{Type: int(components.TypeFluid), X: p.X, Y: p.Y, Z: p.Z})
	}
	return s
}

// DamBreak describes an open-top tank with a fluid column in its corner.
// Lengths are in the same unit as Spacing and must be whole multiples of it.
type DamBreak struct {
	Dim         int
	Spacing     float64
	Tank        r3.Vec // Inner tank size; Z is ignored in 2D
	Fluid       r3.Vec // Fluid column size at the origin corner
	WallLayers  int
	DummyLayers int
}

// DefaultDamBreak returns a 1.0 x 0.6 tank with a 0.25 x 0.5 column.
func DefaultDamBreak(dim int, spacing float64) DamBreak {
	return DamBreak{
		Dim:         dim,
		Spacing:     spacing,
		Tank:        r3.Vec{X: 1.0, Y: 0.6, Z: 0.3},
		Fluid:       r3.Vec{X: 0.25, Y: 0.5, Z: 0.3},
		WallLayers:  2,
		DummyLayers: 2,
	}
}

// cells converts a length to a whole number of spacings.
func cells(length, spacing float64, what string) (int, error) {
	n := math.Round(length / spacing)
	if n < 0 || math.Abs(n*spacing-length) > gridTolerance*spacing {
		return 0, fmt.Errorf("%w: %s %g is not a multiple of spacing %g", ErrInvalidScene, what, length, spacing)
	}
	return int(n), nil
}

// Build lays out the tank. Fluid fills [0, Fluid] inside the tank; the
// bottom and side walls are WallLayers thick, surrounded by DummyLayers of
// dummy wall. Points inside the tank outside the fluid are left empty.
func (d DamBreak) Build() (*particleio.Scene, error) {
	if d.Dim != 2 && d.Dim != 3 {
		return nil, fmt.Errorf("%w: dim must be 2 or 3, got %d", ErrInvalidScene, d.Dim)
	}
	if !(d.Spacing > 0) {
		return nil, fmt.Errorf("%w: spacing must be positive, got %g", ErrInvalidScene, d.Spacing)
	}
	if d.WallLayers < 0 || d.DummyLayers < 0 {
		return nil, fmt.Errorf("%w: negative layer count", ErrInvalidScene)
	}

	var tank, fluid [3]int
	var err error
	axes := 3
	if d.Dim == 2 {
		axes = 2
	}
	tankLen := [3]float64{d.Tank.X, d.Tank.Y, d.Tank.Z}
	fluidLen := [3]float64{d.Fluid.X, d.Fluid.Y, d.Fluid.Z}
	for a := 0; a < axes; a++ {
		if tank[a], err = cells(tankLen[a], d.Spacing, "tank size"); err != nil {
			return nil, err
		}
		if fluid[a], err = cells(fluidLen[a], d.Spacing, "fluid size"); err != nil {
			return nil, err
		}
		if fluid[a] > tank[a] {
			return nil, fmt.Errorf("%w: fluid column exceeds the tank", ErrInvalidScene)
		}
	}

	pad := d.WallLayers + d.DummyLayers
	lo := [3]int{-pad, -pad, -pad}
	hi := [3]int{tank[0] + pad, tank[1], tank[2] + pad}
	if d.Dim == 2 {
		lo[2], hi[2] = 0, 0
	}

	s := &particleio.Scene{}
	for i := lo[0]; i <= hi[0]; i++ {
		for j := lo[1]; j <= hi[1]; j++ {
			for k := lo[2]; k <= hi[2]; k++ {
				idx := [3]int{i, j, k}
				depth := 0
				for a := 0; a < axes; a++ {
					depth = max(depth, outside(idx[a], tank[a], a != 1))
				}

				var t components.ParticleType
				switch {
				case depth == 0:
					if i > fluid[0] || j > fluid[1] || (d.Dim == 3 && k > fluid[2]) {
						continue
					}
					t = components.TypeFluid
				case depth <= d.WallLayers:
					t = components.TypeWall
				default:
					t = components.TypeDummyWall
				}

				s.Records = append(s.Records, particleio.Record{
					Type: int(t),
					X:    float64(i) * d.Spacing,
					Y:    float64(j) * d.Spacing,
					Z:    float64(k) * d.Spacing,
				})
			}
		}
	}
	return s, nil
}

// outside returns how many layers index i lies beyond [0, n]. The upper
// side only counts when closed.
func outside(i, n int, closed bool) int {
	if i < 0 {
		return -i
	}
	if closed && i > n {
		return i - n
	}
	return 0
}

// Jitter displaces fluid particles by coherent noise of at most about
// amplitude in each axis. Boundary particles stay on the lattice. The same
// seed gives the same displacement.
func Jitter(s *particleio.Scene, dim int, amplitude float64, seed int64) {
	if amplitude == 0 || len(s.Records) == 0 {
		return
	}
	noise := perlin.NewPerlin(2, 2, 3, seed)

	// Sample off the integer lattice, where perlin noise vanishes.
	const freq = 0.37
	const shift = 17.3
	for i := range s.Records {
		r := &s.Records[i]
		if r.Type != int(components.TypeFluid) {
			continue
		}
		x, y, z := r.X*freq/amplitude, r.Y*freq/amplitude, r.Z*freq/amplitude
		r.X += amplitude * clamp(noise.Noise3D(x, y, z))
		r.Y += amplitude * clamp(noise.Noise3D(x+shift, y, z))
		if dim == 3 {
			r.Z += amplitude * clamp(noise.Noise3D(x, y+shift, z))
		}
	}
}

func clamp(v float64) float64 {
	return max(-1, min(1, v))
}
