package systems

import (
	"fmt"
	"math"

	"github.com/pthm-cable/mps/config"
)

// RefValues holds the reference values of a fully surrounded particle.
type RefValues struct {
	N0     float64 // Reference number density
	Lambda float64 // Laplacian coefficient, sum(r^2 w) / n0
}

// ReferenceDensity sums the weight over a perfect square (2D) or cubic (3D)
// lattice with the given spacing around a central particle. The lattice
// extends one layer past the effective radius.
func ReferenceDensity(dim int, spacing, re float64, w WeightFunc) (RefValues, error) {
	if dim != 2 && dim != 3 {
		return RefValues{}, fmt.Errorf("%w: dim must be 2 or 3, got %d", config.ErrInvalidConfiguration, dim)
	}
	if !(spacing > 0) || math.IsInf(spacing, 0) {
		return RefValues{}, fmt.Errorf("%w: spacing must be positive, got %g", config.ErrInvalidConfiguration, spacing)
	}
	if !(re > spacing) || math.IsInf(re, 0) {
		return RefValues{}, fmt.Errorf("%w: radius %g must exceed spacing %g", config.ErrInvalidConfiguration, re, spacing)
	}

	extent := int(math.Ceil(re/spacing)) + 1
	zExtent := extent
	if dim == 2 {
		zExtent = 0
	}

	var ref RefValues
	for ix := -extent; ix <= extent; ix++ {
		for iy := -extent; iy <= extent; iy++ {
			for iz := -zExtent; iz <= zExtent; iz++ {
				if ix == 0 && iy == 0 && iz == 0 {
					continue
				}
				x := spacing * float64(ix)
				y := spacing * float64(iy)
				z := spacing * float64(iz)
				dist2 := x*x + y*y + z*z
				wij := w(math.Sqrt(dist2), re)
				ref.N0 += wij
				ref.Lambda += dist2 * wij
			}
		}
	}
	ref.Lambda /= ref.N0

	return ref, nil
}
