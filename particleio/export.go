package particleio

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/mps/components"
	"github.com/pthm-cable/mps/store"
)

// StateRecord is one row of a classification export. The leading columns
// match Record, so an export loads back as plain CSV.
type StateRecord struct {
	ID            int32   `csv:"id"`
	Type          int     `csv:"type"`
	X             float64 `csv:"x"`
	Y             float64 `csv:"y"`
	Z             float64 `csv:"z"`
	VX            float64 `csv:"vx"`
	VY            float64 `csv:"vy"`
	VZ            float64 `csv:"vz"`
	NumberDensity float64 `csv:"number_density"`
	State         string  `csv:"state"`
	Flagged       bool    `csv:"flagged"`
}

// StateRecords reads the committed state of every live particle in st.
func StateRecords(st *store.Store) ([]StateRecord, error) {
	out := make([]StateRecord, 0, st.Len())
	for i := range st.Len() {
		p, err := st.Get(int32(i))
		if err != nil {
			return nil, err
		}
		if p.Type == components.TypeGhost {
			continue
		}
		out = append(out, StateRecord{
			ID:            p.ID,
			Type:          int(p.Type),
			X:             p.Position.X,
			Y:             p.Position.Y,
			Z:             p.Position.Z,
			VX:            p.Velocity.X,
			VY:            p.Velocity.Y,
			VZ:            p.Velocity.Z,
			NumberDensity: p.NumberDensity,
			State:         p.State.String(),
			Flagged:       p.Flagged,
		})
	}
	return out, nil
}

// Export writes the classification state of st as CSV.
func Export(w io.Writer, st *store.Store) error {
	records, err := StateRecords(st)
	if err != nil {
		return err
	}
	if err := gocsv.Marshal(records, w); err != nil {
		return fmt.Errorf("writing states: %w", err)
	}
	return nil
}

// ExportFile writes the classification state of st to path.
func ExportFile(path string, st *store.Store) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := Export(f, st); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
