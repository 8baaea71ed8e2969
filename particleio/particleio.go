// Package particleio reads and writes particle files: the CSV format with a
// start-time and count prelude, plain CSV with only a header, and the
// whitespace separated .prof format.
package particleio

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/mps/components"
	"github.com/pthm-cable/mps/store"
)

// ErrMalformed indicates a particle file that cannot be parsed.
var ErrMalformed = errors.New("particleio: malformed particle file")

// ErrUnsupportedFormat indicates a file extension with no loader.
var ErrUnsupportedFormat = errors.New("particleio: unsupported file format")

// maxPrealloc caps slice preallocation from counts read out of a file.
const maxPrealloc = 1 << 16

// Record is one particle row. The type column holds the integer type code.
type Record struct {
	Type int     `csv:"type"`
	X    float64 `csv:"x"`
	Y    float64 `csv:"y"`
	Z    float64 `csv:"z"`
	VX   float64 `csv:"vx"`
	VY   float64 `csv:"vy"`
	VZ   float64 `csv:"vz"`
}

// Position returns the record position.
func (r Record) Position() r3.Vec { return r3.Vec{X: r.X, Y: r.Y, Z: r.Z} }

// Velocity returns the record velocity.
func (r Record) Velocity() r3.Vec { return r3.Vec{X: r.VX, Y: r.VY, Z: r.VZ} }

// ParticleType returns the record type, validating the code.
func (r Record) ParticleType() (components.ParticleType, error) {
	if r.Type < 0 || r.Type >= components.NumParticleTypes {
		return 0, fmt.Errorf("%w: particle type %d", ErrMalformed, r.Type)
	}
	return components.ParticleType(r.Type), nil
}

// Scene is the content of a particle file.
type Scene struct {
	StartTime float64
	Records   []Record
}

// Load reads a particle file, choosing the format by extension.
func Load(path string) (*Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening particle file: %w", err)
	}
	defer f.Close()

	var scene *Scene
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		scene, err = ReadCSV(f)
	case ".prof":
		scene, err = ReadProf(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return scene, nil
}

// Save writes a particle file, choosing the format by extension.
func Save(path string, scene *Scene) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".prof" {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating particle file: %w", err)
	}

	if ext == ".csv" {
		err = WriteCSV(f, scene)
	} else {
		err = WriteProf(f, scene)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadCSV parses CSV particles. With a prelude the first line is the start
// time and the second the particle count, which must match the row count;
// without one the file starts at the header.
func ReadCSV(r io.Reader) (*Scene, error) {
	br := bufio.NewReader(r)
	scene := &Scene{}

	first, err := readLine(br)
	if err != nil {
		return nil, err
	}

	expected := -1
	body := io.Reader(br)
	if strings.Contains(first, ",") {
		body = io.MultiReader(strings.NewReader(first+"\n"), br)
	} else {
		scene.StartTime, err = strconv.ParseFloat(first, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: start time %q", ErrMalformed, first)
		}
		second, err := readLine(br)
		if err != nil {
			return nil, err
		}
		count, err := strconv.ParseFloat(second, 64)
		if err != nil || count < 0 || count != float64(int(count)) {
			return nil, fmt.Errorf("%w: particle count %q", ErrMalformed, second)
		}
		expected = int(count)
	}

	reader := csv.NewReader(body)
	reader.TrimLeadingSpace = true
	if err := gocsv.UnmarshalCSV(reader, &scene.Records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if expected >= 0 && expected != len(scene.Records) {
		return nil, fmt.Errorf("%w: header declares %d particles, found %d", ErrMalformed, expected, len(scene.Records))
	}
	for i, rec := range scene.Records {
		if _, err := rec.ParticleType(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return scene, nil
}

// readLine returns the next non-empty line without surrounding space.
func readLine(br *bufio.Reader) (string, error) {
	for {
		line, err := br.ReadString('\n')
		if s := strings.TrimSpace(line); s != "" {
			return s, nil
		}
		if err == io.EOF {
			return "", fmt.Errorf("%w: unexpected end of file", ErrMalformed)
		}
		if err != nil {
			return "", err
		}
	}
}

// WriteCSV writes particles in CSV with the start time and count prelude.
func WriteCSV(w io.Writer, scene *Scene) error {
	if _, err := fmt.Fprintf(w, "%g\n%d\n", scene.StartTime, len(scene.Records)); err != nil {
		return err
	}
	records := scene.Records
	if records == nil {
		records = []Record{}
	}
	return gocsv.Marshal(records, w)
}

// ReadProf parses the whitespace separated format: start time, particle
// count, then type x y z vx vy vz per particle.
func ReadProf(r io.Reader) (*Scene, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	next := func(what string) (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("%w: missing %s", ErrMalformed, what)
		}
		return sc.Text(), nil
	}
	nextFloat := func(what string) (float64, error) {
		tok, err := next(what)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s %q", ErrMalformed, what, tok)
		}
		return v, nil
	}

	scene := &Scene{}
	var err error
	if scene.StartTime, err = nextFloat("start time"); err != nil {
		return nil, err
	}
	tok, err := next("particle count")
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(tok)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: particle count %q", ErrMalformed, tok)
	}

	// The count is untrusted; append grows the slice past the cap.
	scene.Records = make([]Record, 0, min(count, maxPrealloc))
	for i := 0; i < count; i++ {
		tok, err := next("particle type")
		if err != nil {
			return nil, fmt.Errorf("particle %d: %w", i, err)
		}
		var rec Record
		if rec.Type, err = strconv.Atoi(tok); err != nil {
			return nil, fmt.Errorf("particle %d: %w: type %q", i, ErrMalformed, tok)
		}
		if _, err := rec.ParticleType(); err != nil {
			return nil, fmt.Errorf("particle %d: %w", i, err)
		}
		for _, field := range []*float64{&rec.X, &rec.Y, &rec.Z, &rec.VX, &rec.VY, &rec.VZ} {
			if *field, err = nextFloat("coordinate"); err != nil {
				return nil, fmt.Errorf("particle %d: %w", i, err)
			}
		}
		scene.Records = append(scene.Records, rec)
	}
	return scene, nil
}

// WriteProf writes particles in the whitespace separated format.
func WriteProf(w io.Writer, scene *Scene) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%g\n%d\n", scene.StartTime, len(scene.Records))
	for _, r := range scene.Records {
		fmt.Fprintf(bw, "%d %g %g %g %g %g %g\n", r.Type, r.X, r.Y, r.Z, r.VX, r.VY, r.VZ)
	}
	return bw.Flush()
}

// Populate adds every record to st in file order, so ids match row indices
// when st starts empty.
func Populate(st *store.Store, scene *Scene) ([]int32, error) {
	ids := make([]int32, 0, len(scene.Records))
	for i, rec := range scene.Records {
		t, err := rec.ParticleType()
		if err != nil {
			return ids, fmt.Errorf("row %d: %w", i, err)
		}
		id, err := st.Add(t, rec.Position(), rec.Velocity())
		if err != nil {
			return ids, fmt.Errorf("row %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FromStore collects the live particles of st into a scene. Removed
// particles are skipped.
func FromStore(st *store.Store, startTime float64) (*Scene, error) {
	scene := &Scene{StartTime: startTime}
	for i := range st.Len() {
		p, err := st.Get(int32(i))
		if err != nil {
			return nil, err
		}
		if p.Type == components.TypeGhost {
			continue
		}
		scene.Records = append(scene.Records, Record{
			Type: int(p.Type),
			X:    p.Position.X, Y: p.Position.Y, Z: p.Position.Z,
			VX: p.Velocity.X, VY: p.Velocity.Y, VZ: p.Velocity.Z,
		})
	}
	return scene, nil
}
