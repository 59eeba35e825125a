// Package report summarizes a reconstruction run: the inputs it was given,
// the derived solver parameters and per-slice convergence and amplitude
// figures. Reports are written as YAML next to the output stream.
package report

import (
	"fmt"
	"os"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"
	timestats "github.com/cwbudde/algo-dsp/stats/time"
	"gopkg.in/yaml.v3"

	"github.com/example/go-camera/internal/arr"
	"github.com/example/go-camera/internal/solver"
)

// SliceStats describes the amplitude of a reconstructed slice. Every
// coefficient of every grid point contributes.
type SliceStats struct {
	Peak   float64 `yaml:"peak"`
	RMS    float64 `yaml:"rms"`
	Energy float64 `yaml:"energy"`
	Crest  float64 `yaml:"crest_factor"`
}

// Measure computes amplitude statistics of a.
func Measure(a *arr.Array) SliceStats {
	data := a.Data()
	if len(data) == 0 {
		return SliceStats{}
	}

	st := timestats.Calculate(data)

	return SliceStats{
		Peak:   vecmath.MaxAbs(data),
		RMS:    st.RMS,
		Energy: st.Energy,
		Crest:  st.CrestFactor,
	}
}

// Slice is one reconstructed slice.
type Slice struct {
	Slice      int     `yaml:"slice"`
	Iters      int     `yaml:"iters"`
	L          float64 `yaml:"lipschitz"`
	Lambda     float64 `yaml:"lambda"`
	Objective  float64 `yaml:"objective"`
	Backtracks int     `yaml:"backtracks,omitempty"`

	SliceStats `yaml:",inline"`
}

// NewSlice combines a solver result with amplitude statistics.
func NewSlice(id int, res solver.Result, st SliceStats) Slice {
	return Slice{
		Slice:      id,
		Iters:      res.Iters,
		L:          res.L,
		Lambda:     res.Lambda,
		Objective:  res.Objective,
		Backtracks: res.Backtracks,
		SliceStats: st,
	}
}

// Schedule describes the sampling schedule of a run.
type Schedule struct {
	Path    string  `yaml:"path"`
	Dims    int     `yaml:"dims"`
	Points  int     `yaml:"points"`
	Grid    []int   `yaml:"grid"`
	Density float64 `yaml:"density"`
	Digest  string  `yaml:"sha3_256"`
}

// Params are the solver settings of a run.
type Params struct {
	Method string  `yaml:"method"`
	Iters  int     `yaml:"iters"`
	Delta  float64 `yaml:"delta"`
	Sigma  float64 `yaml:"sigma"`
	Lambda float64 `yaml:"lambda"`
	Accel  float64 `yaml:"accel"`
	L0     float64 `yaml:"l0"`
	Lf     float64 `yaml:"lf"`
	Eps    float64 `yaml:"eps"`
}

// Report is the document written after a run.
type Report struct {
	Created  time.Time `yaml:"created"`
	Input    string    `yaml:"input"`
	Output   string    `yaml:"output"`
	Threads  int       `yaml:"threads"`
	Elapsed  string    `yaml:"elapsed"`
	Schedule Schedule  `yaml:"schedule"`
	Params   Params    `yaml:"params"`
	Slices   []Slice   `yaml:"slices"`
}

// Totals aggregates the per-slice entries.
type Totals struct {
	Slices     int
	Backtracks int
	MaxPeak    float64
}

// Totals sums the per-slice entries of r.
func (r *Report) Totals() Totals {
	t := Totals{Slices: len(r.Slices)}
	for _, s := range r.Slices {
		t.Backtracks += s.Backtracks
		t.MaxPeak = max(t.MaxPeak, s.Peak)
	}

	return t
}

// Save writes r to path as YAML.
func (r *Report) Save(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}

	return nil
}

// Load reads a report written by Save.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: read %s: %w", path, err)
	}

	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: decode %s: %w", path, err)
	}

	return &r, nil
}

// FormatDuration renders d with millisecond resolution.
func FormatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
