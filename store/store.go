// Package store owns particle attributes. It is the single source of truth for
// position, type and classification state, and hands out consistent
// snapshots to the per-step pipeline.
package store

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/components"
)

var (
	// ErrUnknownParticle indicates an id that was never issued by the store.
	ErrUnknownParticle = errors.New("store: unknown particle id")

	// ErrRemovedParticle indicates a write to a particle that was removed.
	ErrRemovedParticle = errors.New("store: particle removed")

	// ErrStaleCommit indicates a commit built from a snapshot older than the
	// current positions.
	ErrStaleCommit = errors.New("store: commit does not match current positions")

	// ErrInvalidType indicates a particle type outside the known set.
	ErrInvalidType = errors.New("store: invalid particle type")

	// ErrFull indicates the id space is exhausted.
	ErrFull = errors.New("store: particle id space exhausted")
)

// ParticleError wraps an error with the particle it concerns.
type ParticleError struct {
	ID  int32
	Err error
}

func (e *ParticleError) Error() string {
	return fmt.Sprintf("particle %d: %v", e.ID, e.Err)
}

func (e *ParticleError) Unwrap() error {
	return e.Err
}

// Particle is a read-only copy of one particle's attributes.
type Particle struct {
	ID            int32
	Type          components.ParticleType
	Position      r3.Vec
	Velocity      r3.Vec
	Pressure      float64
	Density       float64
	NumberDensity float64
	State         components.FluidState
	Active        bool
	Flagged       bool
}

// Store holds every particle as an entity in an ECS world. Particle ids are
// dense, issued in creation order and never reused; removed ids stay behind
// as ghost slots.
type Store struct {
	mu    sync.RWMutex
	world *ecs.World

	mapper *ecs.Map5[
		components.Body,
		components.Position,
		components.Velocity,
		components.Physics,
		components.Status,
	]
	statusFilter *ecs.Filter2[components.Body, components.Status]

	// Individual component mappers for lookups
	bodyMap   *ecs.Map1[components.Body]
	posMap    *ecs.Map1[components.Position]
	velMap    *ecs.Map1[components.Velocity]
	physMap   *ecs.Map1[components.Physics]
	statusMap *ecs.Map1[components.Status]

	entities []ecs.Entity // by id
	removed  []bool       // by id

	// version counts changes to classification inputs (positions, activity,
	// membership). Snapshots and commits are matched against it.
	version uint64
}

// New creates an empty store.
func New() *Store {
	world := ecs.NewWorld()
	return &Store{
		world: world,
		mapper: ecs.NewMap5[
			components.Body,
			components.Position,
			components.Velocity,
			components.Physics,
			components.Status,
		](world),
		statusFilter: ecs.NewFilter2[components.Body, components.Status](world),
		bodyMap:      ecs.NewMap1[components.Body](world),
		posMap:       ecs.NewMap1[components.Position](world),
		velMap:       ecs.NewMap1[components.Velocity](world),
		physMap:      ecs.NewMap1[components.Physics](world),
		statusMap:    ecs.NewMap1[components.Status](world),
	}
}

// Add creates a particle and returns its id.
func (s *Store) Add(t components.ParticleType, pos, vel r3.Vec) (int32, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidType, t)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entities) >= math.MaxInt32 {
		return 0, ErrFull
	}
	id := int32(len(s.entities))

	body := components.Body{ID: id, Type: t}
	p := components.PositionOf(pos)
	v := components.VelocityOf(vel)
	phys := components.Physics{}
	status := components.Status{State: components.StateIgnored, Active: true}

	entity := s.mapper.NewEntity(&body, &p, &v, &phys, &status)
	s.entities = append(s.entities, entity)
	s.removed = append(s.removed, false)
	s.version++

	return id, nil
}

// Remove deletes a particle. Its id is never reissued and reads report it as
// an inactive ghost.
func (s *Store) Remove(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entity(id)
	if err != nil {
		return err
	}
	s.world.RemoveEntity(e)
	s.removed[id] = true
	s.version++
	return nil
}

// Len returns the number of ids issued so far, including removed ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// Version returns the current classification input version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Get returns a copy of the particle with the given id.
func (s *Store) Get(id int32) (Particle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 0 || int(id) >= len(s.entities) {
		return Particle{}, &ParticleError{ID: id, Err: ErrUnknownParticle}
	}
	if s.removed[id] {
		return Particle{ID: id, Type: components.TypeGhost, State: components.StateIgnored}, nil
	}

	e := s.entities[id]
	body := s.bodyMap.Get(e)
	pos := s.posMap.Get(e)
	vel := s.velMap.Get(e)
	phys := s.physMap.Get(e)
	status := s.statusMap.Get(e)

	return Particle{
		ID:            id,
		Type:          body.Type,
		Position:      pos.Vec(),
		Velocity:      vel.Vec(),
		Pressure:      phys.Pressure,
		Density:       phys.Density,
		NumberDensity: status.NumberDensity,
		State:         status.State,
		Active:        status.Active,
		Flagged:       status.Flagged,
	}, nil
}

// SetPosition moves a particle. Neighbor lists built before the move become stale.
func (s *Store) SetPosition(id int32, pos r3.Vec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entity(id)
	if err != nil {
		return err
	}
	*s.posMap.Get(e) = components.PositionOf(pos)
	s.version++
	return nil
}

// SetVelocity updates a particle's velocity.
func (s *Store) SetVelocity(id int32, vel r3.Vec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entity(id)
	if err != nil {
		return err
	}
	*s.velMap.Get(e) = components.VelocityOf(vel)
	return nil
}

// SetPhysics stores integrator-owned scalars.
func (s *Store) SetPhysics(id int32, pressure, density float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entity(id)
	if err != nil {
		return err
	}
	phys := s.physMap.Get(e)
	phys.Pressure = pressure
	phys.Density = density
	return nil
}

// SetActive includes or excludes a particle from classification. Inactive
// fluid particles still appear as neighbors of others.
func (s *Store) SetActive(id int32, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entity(id)
	if err != nil {
		return err
	}
	status := s.statusMap.Get(e)
	if status.Active != active {
		status.Active = active
		s.version++
	}
	return nil
}

// Counts returns the number of live particles in each state.
func (s *Store) Counts() map[components.FluidState]int {
	// Queries lock the ECS world, so this takes the write lock.
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[components.FluidState]int, components.NumFluidStates)
	query := s.statusFilter.Query()
	for query.Next() {
		_, status := query.Get()
		counts[status.State]++
	}
	return counts
}

// entity resolves a live entity. Caller holds the lock.
func (s *Store) entity(id int32) (ecs.Entity, error) {
	if id < 0 || int(id) >= len(s.entities) {
		return ecs.Entity{}, &ParticleError{ID: id, Err: ErrUnknownParticle}
	}
	if s.removed[id] {
		return ecs.Entity{}, &ParticleError{ID: id, Err: ErrRemovedParticle}
	}
	return s.entities[id], nil
}
