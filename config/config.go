// Package config provides configuration loading and access for the particle core.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidConfiguration is returned for any configuration that cannot run:
// non-positive radius or cell size, cell size below the radius, bad beta band,
// unknown weight function or dimension.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Weight function names accepted by the weight option.
const (
	WeightMPS      = "mps"
	WeightWendland = "wendland"
	WeightPoly6    = "poly6"
)

// WeightNames lists the accepted weight function names.
func WeightNames() []string {
	return []string{WeightMPS, WeightWendland, WeightPoly6}
}

// Config holds all configuration parameters of the particle core.
type Config struct {
	Dim              int     `yaml:"dim"`
	ParticleDistance float64 `yaml:"particle_distance"` // Initial lattice spacing l0

	// Interaction radius and grid cell size. Absolute values win when set;
	// otherwise radius = ratio * particle_distance, cell = ratio * radius.
	InteractionRadius      float64 `yaml:"interaction_radius"`
	InteractionRadiusRatio float64 `yaml:"interaction_radius_ratio"`
	CellSize               float64 `yaml:"cell_size"`
	CellSizeRatio          float64 `yaml:"cell_size_ratio"`

	Weight    string          `yaml:"weight"`
	Surface   SurfaceConfig   `yaml:"surface"`
	Parallel  ParallelConfig  `yaml:"parallel"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SurfaceConfig holds free-surface detection thresholds.
type SurfaceConfig struct {
	BetaLow           float64 `yaml:"beta_low"`           // n < beta_low*n0 => splash
	BetaHigh          float64 `yaml:"beta_high"`          // n >= beta_high*n0 => interior candidate
	Distribution      bool    `yaml:"distribution"`       // Enable the particle distribution check
	DistributionRatio float64 `yaml:"distribution_ratio"` // Bias threshold as a multiple of particle_distance
}

// ParallelConfig holds worker pool parameters.
type ParallelConfig struct {
	Workers   int `yaml:"workers"`   // 0 = GOMAXPROCS
	Threshold int `yaml:"threshold"` // Below this particle count phases run inline
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow int `yaml:"perf_window"` // Steps averaged by the perf collector
	LogEvery   int `yaml:"log_every"`   // Steps between perf log lines (0 = never)
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Radius   float64 // Effective interaction radius
	CellSize float64 // Effective grid cell size
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns the embedded defaults. It panics if the embedded file is
// broken, which is a build defect rather than a runtime condition.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used. The result is validated.
func Load(path string) (*Config, error) {
	// Start with embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	// Load user config if provided
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Radius = c.InteractionRadius
	if c.Derived.Radius == 0 {
		c.Derived.Radius = c.InteractionRadiusRatio * c.ParticleDistance
	}
	c.Derived.CellSize = c.CellSize
	if c.Derived.CellSize == 0 {
		ratio := c.CellSizeRatio
		if ratio == 0 {
			ratio = 1
		}
		c.Derived.CellSize = ratio * c.Derived.Radius
	}
}

// Refresh recomputes derived values and validates. Call it after editing
// fields of an already loaded Config.
func (c *Config) Refresh() error {
	c.computeDerived()
	return c.Validate()
}

// Validate checks the configuration. Every failure wraps ErrInvalidConfiguration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
	}

	if c.Dim != 2 && c.Dim != 3 {
		return invalid("dim must be 2 or 3, got %d", c.Dim)
	}
	if !positive(c.ParticleDistance) {
		return invalid("particle_distance must be positive, got %g", c.ParticleDistance)
	}
	if !positive(c.Derived.Radius) {
		return invalid("interaction radius must be positive, got %g", c.Derived.Radius)
	}
	if !positive(c.Derived.CellSize) {
		return invalid("cell size must be positive, got %g", c.Derived.CellSize)
	}
	if c.Derived.CellSize < c.Derived.Radius {
		return invalid("cell size %g is smaller than interaction radius %g", c.Derived.CellSize, c.Derived.Radius)
	}
	if c.Derived.Radius <= c.ParticleDistance {
		return invalid("interaction radius %g must exceed particle_distance %g", c.Derived.Radius, c.ParticleDistance)
	}
	if err := c.Surface.Validate(); err != nil {
		return err
	}
	if !slices.Contains(WeightNames(), c.Weight) {
		return invalid("unknown weight %q (want one of %v)", c.Weight, WeightNames())
	}
	if c.Parallel.Workers < 0 {
		return invalid("parallel.workers must not be negative, got %d", c.Parallel.Workers)
	}
	return nil
}

// Validate checks the beta band and distribution threshold.
func (s SurfaceConfig) Validate() error {
	if !positive(s.BetaLow) || !positive(s.BetaHigh) || s.BetaLow >= s.BetaHigh {
		return fmt.Errorf("%w: need 0 < beta_low < beta_high, got beta_low=%g beta_high=%g",
			ErrInvalidConfiguration, s.BetaLow, s.BetaHigh)
	}
	if s.Distribution && !positive(s.DistributionRatio) {
		return fmt.Errorf("%w: surface.distribution_ratio must be positive, got %g",
			ErrInvalidConfiguration, s.DistributionRatio)
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
