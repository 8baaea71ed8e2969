package components

import (
	"fmt"
	"strconv"
)

// ParticleTypeNames returns the text names for all particle types.
// The order matches the ParticleType constants.
func ParticleTypeNames() []string {
	return []string{"ghost", "fluid", "wall", "dummy_wall"}
}

// FluidStateNames returns the text names for all fluid states.
// The order matches the FluidState constants.
func FluidStateNames() []string {
	return []string{"ignored", "free_surface", "sub_free_surface", "inner", "splash"}
}

// String returns the text name for a ParticleType.
func (t ParticleType) String() string {
	names := ParticleTypeNames()
	if int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// String returns the text name for a FluidState.
func (s FluidState) String() string {
	names := FluidStateNames()
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t ParticleType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid particle type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText accepts either a type name or its integer code.
func (t *ParticleType) UnmarshalText(text []byte) error {
	pt, err := ParseParticleType(string(text))
	if err != nil {
		return err
	}
	*t = pt
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s FluidState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid fluid state %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *FluidState) UnmarshalText(text []byte) error {
	for i, name := range FluidStateNames() {
		if name == string(text) {
			*s = FluidState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown fluid state %q", text)
}

// ParseParticleType parses a type name ("fluid") or integer code ("1").
func ParseParticleType(s string) (ParticleType, error) {
	for i, name := range ParticleTypeNames() {
		if name == s {
			return ParticleType(i), nil
		}
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown particle type %q", s)
	}
	t := ParticleType(code)
	if code < 0 || !t.Valid() {
		return 0, fmt.Errorf("particle type code %d out of range", code)
	}
	return t, nil
}
