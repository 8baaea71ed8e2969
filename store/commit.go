package store

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/mps/components"
)

// errWriterClosed is returned by a StateWriter used outside its Commit call.
var errWriterClosed = errors.New("store: state writer used outside commit")

// stateWrite is one staged classification result.
type stateWrite struct {
	id      int32
	state   components.FluidState
	density float64
	flagged bool
}

// StateWriter stages classification results during Commit. Nothing becomes
// visible to readers until the commit function returns without error.
type StateWriter struct {
	s       *Store
	staged  []stateWrite
	index   map[int32]int
	version uint64
	closed  bool
}

// SetState stages the fluid state of a particle. Removed particles are skipped.
func (w *StateWriter) SetState(id int32, state components.FluidState) error {
	ws, err := w.slot(id)
	if err != nil || ws == nil {
		return err
	}
	if !state.Valid() {
		return &ParticleError{ID: id, Err: fmt.Errorf("invalid fluid state %d", state)}
	}
	ws.state = state
	return nil
}

// SetNumberDensity stages the density proxy of a particle.
func (w *StateWriter) SetNumberDensity(id int32, n float64) error {
	ws, err := w.slot(id)
	if err != nil || ws == nil {
		return err
	}
	ws.density = n
	return nil
}

// Flag stages the malformed-data flag of a particle.
func (w *StateWriter) Flag(id int32, flagged bool) error {
	ws, err := w.slot(id)
	if err != nil || ws == nil {
		return err
	}
	ws.flagged = flagged
	return nil
}

// Version returns the store version this writer commits against.
func (w *StateWriter) Version() uint64 {
	return w.version
}

// slot returns the staged record for id, creating it from the current
// values. A nil record with nil error means the particle was removed.
func (w *StateWriter) slot(id int32) (*stateWrite, error) {
	if w.closed {
		return nil, errWriterClosed
	}
	if id < 0 || int(id) >= len(w.s.entities) {
		return nil, &ParticleError{ID: id, Err: ErrUnknownParticle}
	}
	if w.s.removed[id] {
		return nil, nil
	}
	if i, ok := w.index[id]; ok {
		return &w.staged[i], nil
	}

	status := w.s.statusMap.Get(w.s.entities[id])
	w.staged = append(w.staged, stateWrite{
		id:      id,
		state:   status.State,
		density: status.NumberDensity,
		flagged: status.Flagged,
	})
	w.index[id] = len(w.staged) - 1
	return &w.staged[len(w.staged)-1], nil
}

// Commit runs fn with a StateWriter and applies every staged write at once.
// The store's write lock is held for the whole call, so readers observe
// either all of the previous step's states or all of the new ones. The
// commit is rejected with ErrStaleCommit if classification inputs changed
// since the snapshot with the given version was taken; if fn returns an
// error nothing is applied.
func (s *Store) Commit(version uint64, fn func(w *StateWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if version != s.version {
		return fmt.Errorf("%w: snapshot version %d, store version %d", ErrStaleCommit, version, s.version)
	}

	w := &StateWriter{
		s:       s,
		staged:  make([]stateWrite, 0, len(s.entities)),
		index:   make(map[int32]int, len(s.entities)),
		version: version,
	}
	defer func() { w.closed = true }()

	if err := fn(w); err != nil {
		return err
	}

	for _, ws := range w.staged {
		status := s.statusMap.Get(s.entities[ws.id])
		status.State = ws.state
		status.NumberDensity = ws.density
		status.Flagged = ws.flagged
	}
	return nil
}
