package bench

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/example/go-camera/internal/arr"
	"github.com/example/go-camera/internal/batch"
	"github.com/example/go-camera/internal/hx"
	"github.com/example/go-camera/internal/sched"
	"github.com/example/go-camera/internal/solver"
)

// Spec describes a synthetic reconstruction problem.
type Spec struct {
	Dims int
	// Size is the written size of every axis.
	Size int
	// Density is the sampled fraction of the written grid.
	Density float64
	Iters   int
	Sigma   float64
	Method  solver.Method
	Seed    uint64
}

// DefaultSpec is a two-dimensional problem sized like a small indirect plane.
func DefaultSpec() Spec {
	return Spec{
		Dims:    2,
		Size:    32,
		Density: 0.25,
		Iters:   50,
		Sigma:   0.01,
		Method:  solver.MethodBacktracking,
		Seed:    1,
	}
}

// Decay returns coefficient q of a decaying hypercomplex sinusoid at grid
// point p. Along every axis the signal is amp·exp((iω − r)·k); bit a of q
// selects the sine of axis a instead of its cosine.
func Decay(p []int, q int, amp, omega, rate float64) float64 {
	v := amp
	for a, k := range p {
		t := float64(k)
		v *= math.Exp(-rate * t)
		if q&(1<<a) != 0 {
			v *= math.Sin(omega * t)
		} else {
			v *= math.Cos(omega * t)
		}
	}

	return v
}

// Case is a prepared synthetic problem that can be solved repeatedly.
type Case struct {
	Spec     Spec
	Problem  *solver.Problem
	ws       *solver.Workspace
	measured *arr.Array
}

// NewCase draws a random schedule covering Density of the written grid,
// always including the origin, and samples a decaying sinusoid on it.
func NewCase(sp Spec) (*Case, error) {
	d, err := hx.ParseDim(sp.Dims)
	if err != nil {
		return nil, err
	}
	if sp.Size < sched.MinSize {
		return nil, fmt.Errorf("bench: size %d below %d", sp.Size, sched.MinSize)
	}
	if !(sp.Density > 0 && sp.Density <= 1) {
		return nil, fmt.Errorf("bench: density %g outside (0, 1]", sp.Density)
	}

	total := 1
	for range int(d) {
		total *= sp.Size
	}
	count := max(1, int(sp.Density*float64(total)))

	rng := rand.New(rand.NewPCG(sp.Seed, sp.Seed^0x9e3779b97f4a7c15))
	flat := rng.Perm(total - 1)[:count-1]

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(strings.Repeat("0 ", int(d))) + "\n")
	for _, f := range flat {
		f++
		for a := range int(d) {
			if a > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprint(&sb, f%sp.Size)
			f /= sp.Size
		}
		sb.WriteByte('\n')
	}

	s, err := sched.Parse(strings.NewReader(sb.String()))
	if err != nil {
		return nil, err
	}

	sizes := make([]int, d)
	for i := range sizes {
		sizes[i] = sp.Size
	}
	prep, err := batch.Prepare(s, batch.Setup{
		Sizes: sizes,
		Options: solver.Options{
			Method: sp.Method,
			Iters:  sp.Iters,
			Delta:  1,
			Sigma:  sp.Sigma,
		},
	})
	if err != nil {
		return nil, err
	}

	extents := prep.Problem.Plan.Extents()
	measured, err := arr.New(d, extents...)
	if err != nil {
		return nil, err
	}
	ws, err := solver.NewWorkspace(d, extents...)
	if err != nil {
		return nil, err
	}

	omega := 2 * math.Pi / 7
	for i, k := range s.Indices() {
		p, v := s.Point(i), measured.At(k)
		for q := range v {
			v[q] = Decay(p, q, 1, omega, 0.05)
		}
	}

	return &Case{Spec: sp, Problem: prep.Problem, ws: ws, measured: measured}, nil
}

// Points returns the number of sampled points.
func (c *Case) Points() int { return c.Problem.Schedule.Len() }

// Run solves the case once and reports its timing.
func (c *Case) Run(index int) (RunResult, error) {
	if c.ws == nil {
		return RunResult{}, errors.New("bench: case is closed")
	}
	if err := c.ws.Measured().CopyFrom(c.measured); err != nil {
		return RunResult{}, err
	}

	start := time.Now()
	res, err := solver.Solve(c.ws, c.Problem, index+1, nil)
	elapsed := time.Since(start)
	if err != nil {
		return RunResult{}, err
	}

	return RunResult{
		Index:      index,
		Cold:       index == 0,
		Duration:   elapsed,
		Iters:      res.Iters,
		Backtracks: res.Backtracks,
		Objective:  res.Objective,
	}, nil
}

// Close releases the workspace. Closing twice is a no-op.
func (c *Case) Close() {
	if c.ws == nil {
		return
	}
	c.ws.Release()
	c.ws = nil
}
