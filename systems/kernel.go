package systems

import (
	"fmt"

	"github.com/pthm-cable/mps/config"
)

// WeightFunc is a smoothing weight w(r) for effective radius re. Every
// weight here is non-increasing in r and zero for r >= re.
type WeightFunc func(r, re float64) float64

// MinDistanceRatio is the floor applied to r/re before evaluating a weight,
// so coincident particles contribute a large but finite value.
const MinDistanceRatio = 1e-3

// MPSWeight is the Koshizuka-Oka weight re/r - 1.
func MPSWeight(r, re float64) float64 {
	if r >= re {
		return 0
	}
	r = max(r, re*MinDistanceRatio)
	return re/r - 1
}

// WendlandWeight is the unnormalized C2 Wendland kernel (1-q)^4 (1+4q), q = r/re.
func WendlandWeight(r, re float64) float64 {
	if r >= re {
		return 0
	}
	q := max(r, 0) / re
	a := 1 - q
	a2 := a * a
	return a2 * a2 * (1 + 4*q)
}

// Poly6Weight is the unnormalized poly6 kernel (1-q^2)^3, q = r/re.
func Poly6Weight(r, re float64) float64 {
	if r >= re {
		return 0
	}
	q := max(r, 0) / re
	a := 1 - q*q
	return a * a * a
}

// Weight returns the weight function with the given config name.
func Weight(name string) (WeightFunc, error) {
	switch name {
	case config.WeightMPS:
		return MPSWeight, nil
	case config.WeightWendland:
		return WendlandWeight, nil
	case config.WeightPoly6:
		return Poly6Weight, nil
	default:
		return nil, fmt.Errorf("%w: unknown weight %q", config.ErrInvalidConfiguration, name)
	}
}
