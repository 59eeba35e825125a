// Package solver reconstructs one slice of nonuniformly sampled data by
// minimizing an entropy functional of its spectrum subject to a
// data-consistency tolerance at the sampled points.
//
// Solve is sequential and reentrant: it touches only the workspace it is
// given and reads the schedule and transform plan, which may be shared.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/example/go-camera/internal/arr"
	"github.com/example/go-camera/internal/fft"
	"github.com/example/go-camera/internal/hx"
	"github.com/example/go-camera/internal/sched"
)

var (
	// ErrLineSearch is returned when the Lipschitz line search rejects more
	// steps than allowed in a single iteration.
	ErrLineSearch = errors.New("solver: line search did not converge")
	// ErrNonFinite is returned when the objective becomes NaN or infinite.
	ErrNonFinite = errors.New("solver: objective is not finite")
	// ErrShape is returned when workspace, schedule and plan disagree.
	ErrShape = errors.New("solver: shape mismatch")
)

// Record is one entry of the iteration log.
type Record struct {
	Slice     int
	Iter      int
	L         float64
	Lambda    float64
	Objective float64
}

// AppendText appends the fixed-width log line for r to b.
func (r Record) AppendText(b []byte) []byte {
	return fmt.Appendf(b, "%6d %6d %.4e %.4e %.4e\n", r.Slice, r.Iter, r.L, r.Lambda, r.Objective)
}

// Observer receives one Record per iteration.
type Observer interface {
	Observe(Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Record)

func (f ObserverFunc) Observe(r Record) { f(r) }

// Result summarizes a finished reconstruction.
type Result struct {
	Iters      int
	L          float64
	Lambda     float64
	Objective  float64
	Backtracks int
}

// Problem bundles the read-only inputs shared by every slice of a batch.
type Problem struct {
	Schedule *sched.Schedule
	Plan     *fft.Plan
	Params   Params
}

// Check verifies that the schedule and plan describe the same grid.
func (pr *Problem) Check() error {
	if pr.Schedule == nil || pr.Plan == nil {
		return fmt.Errorf("%w: missing schedule or plan", ErrShape)
	}
	if !pr.Schedule.Packed() {
		return fmt.Errorf("%w: %w", ErrShape, sched.ErrNotPacked)
	}
	if pr.Schedule.Dim() != pr.Plan.Dim() {
		return fmt.Errorf("%w: schedule is %s, plan is %s", ErrShape, pr.Schedule.Dim(), pr.Plan.Dim())
	}
	se, pe := pr.Schedule.Extents(), pr.Plan.Extents()
	for i := range pe {
		if se[i] != pe[i] {
			return fmt.Errorf("%w: schedule extents %v, plan extents %v", ErrShape, se, pe)
		}
	}

	return pr.Params.Validate()
}

// Solve reconstructs the slice loaded into ws.Measured(). The result is left
// in ws.Estimate(). slice identifies the slice in log records; obs may be nil.
func Solve(ws *Workspace, pr *Problem, slice int, obs Observer) (Result, error) {
	if err := pr.Check(); err != nil {
		return Result{}, err
	}
	if !pr.Plan.Matches(ws.b) {
		return Result{}, fmt.Errorf("%w: workspace %s%v, plan %s%v",
			ErrShape, ws.b.Dim(), ws.b.Extents(), pr.Plan.Dim(), pr.Plan.Extents())
	}

	s := state{
		ws:  ws,
		pr:  pr,
		d:   pr.Plan.Dim(),
		c:   pr.Plan.Dim().Coeffs(),
		idx: pr.Schedule.Indices(),
		w:   pr.Schedule.Weights(),
	}

	var (
		res Result
		err error
	)
	switch pr.Params.Method {
	case MethodDualAveraging:
		res, err = s.dualAveraging(slice, obs)
	default:
		res, err = s.backtracking(slice, obs)
	}
	if err != nil {
		return res, fmt.Errorf("slice %d: %w", slice, err)
	}

	return res, nil
}

type state struct {
	ws  *Workspace
	pr  *Problem
	d   hx.Dim
	c   int
	idx []int
	w   []float64
}

// objective transforms src into dst and returns the summed functional.
func (s *state) objective(dst, src *arr.Array) (float64, error) {
	copy(dst.Data(), src.Data())
	if err := s.pr.Plan.Forward(dst); err != nil {
		return 0, err
	}

	f := hx.Objective(dst.Data(), s.d, s.pr.Params.Lf)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f, ErrNonFinite
	}

	return f, nil
}

// gradient replaces the spectrum in spec by the time-domain gradient.
func (s *state) gradient(spec *arr.Array) error {
	hx.GradInPlace(spec.Data(), s.d, s.pr.Params.Lf)
	return s.pr.Plan.Inverse(spec)
}

// multiplier returns the Lagrange multiplier for step size 1/L. In
// constant-aim mode it is chosen so that the proximal step lands on the
// tolerance boundary: (L/eps)·sqrt(Σ sumsq(b_i − W_i·x_i + (1/L)·W_i·g_i)) − L.
func (s *state) multiplier(L float64, x, g []float64) float64 {
	p := s.pr.Params
	if p.Lambda > 0 {
		return p.Lambda
	}

	b := s.ws.b.Data()
	var (
		acc float64
		r   [hx.MaxCoeffs]float64
	)
	for i, k := range s.idx {
		wi := s.w[i]
		off := k * s.c
		for q := 0; q < s.c; q++ {
			r[q] = b[off+q] - wi*x[off+q] + wi*g[off+q]/L
		}
		acc += hx.SumSq(r[:s.c])
	}

	return (L/p.Eps)*math.Sqrt(acc) - L
}

// project applies the closed-form proximal correction at sampled points:
// z_i ← (z_i + k·W_i·b_i)/(1 + k·W_i²) with k = lz/L.
func (s *state) project(z []float64, L, lz float64) {
	if lz <= 0 {
		return
	}

	b := s.ws.b.Data()
	kf := lz / L
	for i, k := range s.idx {
		wi := s.w[i]
		den := 1 + kf*wi*wi
		off := k * s.c
		for q := 0; q < s.c; q++ {
			z[off+q] = (z[off+q] + kf*wi*b[off+q]) / den
		}
	}
}

func (s *state) backtracking(slice int, obs Observer) (Result, error) {
	ws, p := s.ws, s.pr.Params
	b, x, y, z := ws.b.Data(), ws.x.Data(), ws.y.Data(), ws.z.Data()
	g, spec := ws.g, ws.spec

	copy(x, b)
	copy(y, b)

	fobj, err := s.objective(spec, ws.b)
	if err != nil {
		return Result{}, err
	}

	res := Result{L: p.L0}
	L := p.L0
	limit := p.maxBacktracks()

	for t := 1; t <= p.Iters; t++ {
		beta := float64(t-1) / float64(t+2)

		if err := s.gradient(spec); err != nil {
			return res, err
		}
		g, spec = spec, g
		gd := g.Data()

		var (
			lz   float64
			fnew float64
		)
		for rejected := 0; ; rejected++ {
			lz = s.multiplier(L, x, gd)

			floats.AddScaledTo(z, x, -1/L, gd)
			s.project(z, L, lz)

			floats.Scale(1+beta, z)
			floats.AddScaled(z, -beta, y)

			fnew, err = s.objective(spec, ws.z)
			if err != nil {
				return res, fmt.Errorf("iteration %d: %w", t, err)
			}
			if L >= p.Lf || fnew <= fobj {
				break
			}
			if rejected >= limit {
				return res, fmt.Errorf("iteration %d: %w after %d rejected steps (L = %.4e)", t, ErrLineSearch, rejected, L)
			}

			L = math.Min(2*L, p.Lf)
			res.Backtracks++
		}

		floats.Scale(beta, y)
		floats.Add(y, z)
		floats.Scale(1/(1+beta), y)

		copy(x, z)
		fobj = fnew

		res.Iters, res.L, res.Lambda, res.Objective = t, L, lz, fobj
		if obs != nil {
			obs.Observe(Record{Slice: slice, Iter: t, L: L, Lambda: lz, Objective: fobj})
		}
	}

	return res, nil
}

// dualAveraging runs the fixed-step scheme at L = Lf. Each iteration mixes a
// projected gradient step from x with a projected step from b along the
// weighted sum of all gradients so far. The spectral buffer accumulates that
// sum.
func (s *state) dualAveraging(slice int, obs Observer) (Result, error) {
	ws, p := s.ws, s.pr.Params
	b, x, y, z, g := ws.b.Data(), ws.x.Data(), ws.y.Data(), ws.z.Data(), ws.g.Data()
	h := ws.spec.Data()
	L := p.Lf

	copy(x, b)
	clear(h)

	res := Result{L: L}
	for t := 1; t <= p.Iters; t++ {
		alpha := 0.5 * float64(t+1)
		tau := 2 / float64(t+3)

		fobj, err := s.objective(ws.g, ws.x)
		if err != nil {
			return res, fmt.Errorf("iteration %d: %w", t, err)
		}
		if err := s.gradient(ws.g); err != nil {
			return res, err
		}

		ly := s.multiplier(L, x, g)
		floats.AddScaledTo(y, x, -1/L, g)
		s.project(y, L, ly)

		floats.AddScaled(h, alpha, g)

		lz := s.dualMultiplier(L, h)
		floats.AddScaledTo(z, b, -1/L, h)
		s.project(z, L, lz)

		floats.ScaleTo(x, tau, z)
		floats.AddScaled(x, 1-tau, y)

		res.Iters, res.Lambda, res.Objective = t, lz, fobj
		if obs != nil {
			obs.Observe(Record{Slice: slice, Iter: t, L: L, Lambda: lz, Objective: fobj})
		}
	}

	return res, nil
}

// dualMultiplier is the constant-aim multiplier of the averaged step, whose
// residual at sampled points is (1−W_i)·b_i + (1/L)·W_i·h_i.
func (s *state) dualMultiplier(L float64, h []float64) float64 {
	p := s.pr.Params
	if p.Lambda > 0 {
		return p.Lambda
	}

	b := s.ws.b.Data()
	var (
		acc float64
		r   [hx.MaxCoeffs]float64
	)
	for i, k := range s.idx {
		wi := s.w[i]
		off := k * s.c
		for q := 0; q < s.c; q++ {
			r[q] = (1-wi)*b[off+q] + wi*h[off+q]/L
		}
		acc += hx.SumSq(r[:s.c])
	}

	return (L/p.Eps)*math.Sqrt(acc) - L
}
