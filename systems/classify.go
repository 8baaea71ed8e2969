package systems

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/components"
	"github.com/pthm-cable/mps/config"
)

var (
	// ErrUninitializedReference indicates classification before the reference
	// number density n0 was set.
	ErrUninitializedReference = errors.New("systems: reference number density not initialized")

	// ErrReferenceAlreadySet indicates a second attempt to set n0.
	ErrReferenceAlreadySet = errors.New("systems: reference number density already set")
)

// Classifier derives a fluid particle's state from its number density and
// the distribution of its neighbors.
//
//	n < beta_low*n0                      -> splash
//	beta_low*n0 <= n < beta_high*n0      -> free surface if biased, else sub free surface
//	n >= beta_high*n0                    -> inner if unbiased, else sub free surface
//
// A particle is biased when some component of sum(Rij) exceeds
// distribution_ratio*spacing, or when it has no neighbors. With the
// distribution check disabled, particles below beta_high count as biased and
// particles at or above it as unbiased, which reduces to plain density
// detection.
type Classifier struct {
	surface config.SurfaceConfig
	weight  WeightFunc
	radius  float64
	spacing float64

	n0    float64
	hasN0 bool
}

// NewClassifier validates thresholds and returns a classifier without a
// reference density; call SetReference before classifying.
func NewClassifier(surface config.SurfaceConfig, w WeightFunc, radius, spacing float64) (*Classifier, error) {
	if err := surface.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: nil weight function", config.ErrInvalidConfiguration)
	}
	if !(radius > 0) || !(spacing > 0) {
		return nil, fmt.Errorf("%w: radius and spacing must be positive, got %g and %g",
			config.ErrInvalidConfiguration, radius, spacing)
	}
	return &Classifier{
		surface: surface,
		weight:  w,
		radius:  radius,
		spacing: spacing,
	}, nil
}

// SetReference fixes n0 for the lifetime of the classifier.
func (c *Classifier) SetReference(n0 float64) error {
	if c.hasN0 {
		return ErrReferenceAlreadySet
	}
	if !(n0 > 0) || math.IsInf(n0, 0) {
		return fmt.Errorf("%w: reference number density must be positive, got %g", config.ErrInvalidConfiguration, n0)
	}
	c.n0 = n0
	c.hasN0 = true
	return nil
}

// Reference returns n0 and whether it has been set.
func (c *Classifier) Reference() (float64, bool) {
	return c.n0, c.hasN0
}

// Radius returns the effective radius used for the number density.
func (c *Classifier) Radius() float64 { return c.radius }

// NumberDensity sums the weight over neighbors in list order.
func (c *Classifier) NumberDensity(neighbors []Neighbor) float64 {
	var n float64
	for i := range neighbors {
		n += c.weight(neighbors[i].Dist, c.radius)
	}
	return n
}

// Biased reports whether the neighbors are lopsided around the particle.
func (c *Classifier) Biased(neighbors []Neighbor) bool {
	if len(neighbors) == 0 {
		return true
	}
	var sum r3.Vec
	for i := range neighbors {
		sum = r3.Add(sum, neighbors[i].Rij)
	}
	threshold := c.surface.DistributionRatio * c.spacing
	return math.Abs(sum.X) > threshold ||
		math.Abs(sum.Y) > threshold ||
		math.Abs(sum.Z) > threshold
}

// Classify returns the state of a particle of type t with number density n.
// Only active fluid particles get a state other than ignored.
func (c *Classifier) Classify(t components.ParticleType, active bool, n float64, neighbors []Neighbor) (components.FluidState, error) {
	if !c.hasN0 {
		return components.StateIgnored, ErrUninitializedReference
	}

	switch t {
	case components.TypeFluid:
		if !active {
			return components.StateIgnored, nil
		}
	case components.TypeGhost, components.TypeWall, components.TypeDummyWall:
		return components.StateIgnored, nil
	default:
		return components.StateIgnored, fmt.Errorf("unknown particle type %d", t)
	}

	if n < c.surface.BetaLow*c.n0 {
		return components.StateSplash, nil
	}

	dense := n >= c.surface.BetaHigh*c.n0
	biased := !dense
	if c.surface.Distribution {
		biased = c.Biased(neighbors)
	}

	switch {
	case !dense && biased:
		return components.StateFreeSurface, nil
	case dense && !biased:
		return components.StateInner, nil
	default:
		return components.StateSubFreeSurface, nil
	}
}

// Ratio returns n/n0, or 0 before the reference is set.
func (c *Classifier) Ratio(n float64) float64 {
	if !c.hasN0 {
		return 0
	}
	return n / c.n0
}
