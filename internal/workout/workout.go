package workout

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Block is one interval of an ERG workout. Power ramps linearly from
// StartFTP to EndFTP (both FTP multipliers) over Duration.
type Block struct {
	StartFTP float64       `yaml:"start_ftp"`
	EndFTP   float64       `yaml:"end_ftp"`
	Cadence  int           `yaml:"cadence,omitempty"` // rpm, 0 for none
	Duration time.Duration `yaml:"duration"`
}

// Workout is a named list of blocks executed in order.
type Workout struct {
	Name   string  `yaml:"name"`
	Blocks []Block `yaml:"blocks"`
}

// TotalDuration returns the sum of all block durations.
func (w *Workout) TotalDuration() time.Duration {
	var total time.Duration
	for _, b := range w.Blocks {
		total += b.Duration
	}
	return total
}

// Position locates elapsed within the workout. It returns the block index,
// the time spent in that block and the interpolated FTP multiplier. Past the
// end it reports the final block at its end multiplier.
func (w *Workout) Position(elapsed time.Duration) (idx int, inBlock time.Duration, ftpMult float64) {
	if len(w.Blocks) == 0 {
		return -1, 0, 0
	}

	var start time.Duration
	for i, b := range w.Blocks {
		end := start + b.Duration
		if elapsed < end {
			inBlock = elapsed - start
			if inBlock < 0 {
				inBlock = 0
			}
			progress := float64(inBlock) / float64(b.Duration)
			return i, inBlock, b.StartFTP + (b.EndFTP-b.StartFTP)*progress
		}
		start = end
	}

	last := len(w.Blocks) - 1
	return last, w.Blocks[last].Duration, w.Blocks[last].EndFTP
}

// Validate checks that the workout can be executed.
func (w *Workout) Validate() error {
	if w.Name == "" {
		return errors.New("workout has no name")
	}
	if len(w.Blocks) == 0 {
		return fmt.Errorf("workout %q has no blocks", w.Name)
	}
	for i, b := range w.Blocks {
		if b.Duration <= 0 {
			return fmt.Errorf("workout %q block %d: duration must be positive", w.Name, i+1)
		}
		if b.StartFTP < 0 || b.EndFTP < 0 {
			return fmt.Errorf("workout %q block %d: negative FTP multiplier", w.Name, i+1)
		}
	}
	return nil
}

func steady(mult float64, d time.Duration) Block {
	return Block{StartFTP: mult, EndFTP: mult, Cadence: 90, Duration: d}
}

func ramp(from, to float64, d time.Duration) Block {
	return Block{StartFTP: from, EndFTP: to, Cadence: 90, Duration: d}
}

func repeat(n int, blocks ...Block) []Block {
	out := make([]Block, 0, n*len(blocks))
	for i := 0; i < n; i++ {
		out = append(out, blocks...)
	}
	return out
}

// Builtin returns the workouts shipped with the binary. The slice is freshly
// allocated on every call.
func Builtin() []Workout {
	return []Workout{
		{
			Name: "Endurance 30",
			Blocks: []Block{
				ramp(0.45, 0.60, 5*time.Minute),
				steady(0.65, 20*time.Minute),
				ramp(0.60, 0.45, 5*time.Minute),
			},
		},
		{
			Name: "Threshold 5x5",
			Blocks: append(append(
				[]Block{steady(0.50, 5*time.Minute)},
				repeat(5, steady(1.00, 5*time.Minute), steady(0.50, 3*time.Minute))...),
				steady(0.45, 5*time.Minute)),
		},
		{
			Name: "VO2max 4x4",
			Blocks: append(append(
				[]Block{ramp(0.45, 0.65, 10*time.Minute)},
				repeat(4, steady(1.20, 4*time.Minute), steady(0.50, 4*time.Minute))...),
				steady(0.45, 6*time.Minute)),
		},
		{
			Name: "FTP Ramp Test",
			Blocks: []Block{
				steady(0.50, 5*time.Minute),
				ramp(0.50, 1.30, 16*time.Minute),
				steady(0.40, 5*time.Minute),
			},
		},
		{
			Name: "Recovery Spin",
			Blocks: []Block{
				ramp(0.40, 0.45, 10*time.Minute),
				steady(0.45, 25*time.Minute),
				ramp(0.45, 0.35, 10*time.Minute),
			},
		},
	}
}

type workoutFile struct {
	Workouts []Workout `yaml:"workouts"`
}

// LoadFile reads workouts from a YAML file of the form
//
//	workouts:
//	  - name: Sweet Spot
//	    blocks:
//	      - {start_ftp: 0.5, end_ftp: 0.5, duration: 5m}
//	      - {start_ftp: 0.9, end_ftp: 0.9, duration: 20m}
func LoadFile(path string) ([]Workout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workout file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML workout document.
func Parse(data []byte) ([]Workout, error) {
	var f workoutFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse workouts: %w", err)
	}
	if len(f.Workouts) == 0 {
		return nil, errors.New("no workouts defined")
	}
	for i := range f.Workouts {
		if err := f.Workouts[i].Validate(); err != nil {
			return nil, err
		}
	}
	return f.Workouts, nil
}
