package solver

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/example/go-camera/internal/fft"
	"github.com/example/go-camera/internal/hx"
	"github.com/example/go-camera/internal/sched"
)

func newProblem(t *testing.T, d hx.Dim, extents []int, points string, p Params) *Problem {
	t.Helper()

	s, err := sched.Parse(strings.NewReader(points))
	if err != nil {
		t.Fatalf("sched.Parse: %v", err)
	}
	if err := s.Pack(extents...); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	plan, err := fft.NewPlan(d, extents...)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	return &Problem{Schedule: s, Plan: plan, Params: p}
}

func fullSchedule(extents ...int) string {
	var sb strings.Builder
	total := 1
	for _, n := range extents {
		total *= n
	}
	for k := 0; k < total; k++ {
		rem := k
		for i, n := range extents {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%d", rem%n)
			rem /= n
		}
		sb.WriteByte('\n')
	}

	return sb.String()
}

// loadDecay fills the sampled points of ws with a decaying complex sinusoid
// plus noise, leaving all other points zero.
func loadDecay(ws *Workspace, s *sched.Schedule, rng *rand.Rand) {
	b := ws.Measured()
	b.Zero()
	c := b.Dim().Coeffs()
	for _, k := range s.Indices() {
		coord := s.Unpack(k)
		tt := float64(coord[0] + coord[1] + coord[2])
		amp := 20 * math.Exp(-tt/6)
		v := b.At(k)
		v[0] = amp*math.Cos(0.9*tt) + rng.NormFloat64()
		v[1] = amp*math.Sin(0.9*tt) + rng.NormFloat64()
		for q := 2; q < c; q++ {
			v[q] = rng.NormFloat64()
		}
	}
}

func sampledResidual(ws *Workspace, s *sched.Schedule) float64 {
	b, x := ws.Measured(), ws.Estimate()
	var acc float64
	r := make([]float64, b.Dim().Coeffs())
	for i, k := range s.Indices() {
		w := s.Weights()[i]
		bv, xv := b.At(k), x.At(k)
		for q := range r {
			r[q] = bv[q] - w*xv[q]
		}
		acc += hx.SumSq(r)
	}

	return math.Sqrt(acc)
}

type recorder struct{ recs []Record }

func (r *recorder) Observe(rec Record) { r.recs = append(r.recs, rec) }

// --- Params ---

func TestDerive(t *testing.T) {
	p, err := Derive(hx.D2, 9, Options{Iters: 5, Delta: 2, Sigma: 3, Accel: 4})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if p.Lf != 0.25 {
		t.Errorf("Lf = %v; want 0.25", p.Lf)
	}
	if p.L0 != 0.0625 {
		t.Errorf("L0 = %v; want 0.0625", p.L0)
	}
	if want := math.Sqrt(4*9) * 3; p.Eps != want {
		t.Errorf("Eps = %v; want %v", p.Eps, want)
	}
}

func TestDeriveRejects(t *testing.T) {
	tests := []struct {
		name string
		o    Options
	}{
		{"zero delta", Options{Iters: 1, Delta: 0, Sigma: 1}},
		{"negative sigma", Options{Iters: 1, Delta: 1, Sigma: -1}},
		{"zero iters", Options{Iters: 0, Delta: 1, Sigma: 1}},
		{"accel below one", Options{Iters: 1, Delta: 1, Sigma: 1, Accel: 0.5}},
		{"negative lambda", Options{Iters: 1, Delta: 1, Sigma: 1, Lambda: -1}},
		{"bad method", Options{Iters: 1, Delta: 1, Sigma: 1, Method: "newton"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Derive(hx.D1, 4, tt.o); !errors.Is(err, ErrParams) {
				t.Fatalf("err = %v; want ErrParams", err)
			}
		})
	}
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{
		"":               MethodBacktracking,
		"Backtracking":   MethodBacktracking,
		"dual-averaging": MethodDualAveraging,
	} {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

// --- Solve ---

func TestSolveFullySampledStaysFiniteAndConsistent(t *testing.T) {
	for _, tc := range []struct {
		d       hx.Dim
		extents []int
	}{
		{hx.D1, []int{32}},
		{hx.D2, []int{8, 8}},
		{hx.D3, []int{4, 4, 4}},
	} {
		t.Run(tc.d.String(), func(t *testing.T) {
			p, err := Derive(tc.d, 1, Options{Iters: 40, Delta: 0.5, Sigma: 1})
			if err != nil {
				t.Fatalf("Derive: %v", err)
			}
			pr := newProblem(t, tc.d, tc.extents, fullSchedule(tc.extents...), p)
			pr.Params.Eps = math.Sqrt(float64(tc.d.Coeffs()*pr.Schedule.Len())) * 1

			ws, err := NewWorkspace(tc.d, tc.extents...)
			if err != nil {
				t.Fatalf("NewWorkspace: %v", err)
			}
			loadDecay(ws, pr.Schedule, rand.New(rand.NewSource(3)))

			rec := &recorder{}
			res, err := Solve(ws, pr, 1, rec)
			if err != nil {
				t.Fatalf("Solve: %v", err)
			}
			if floats.HasNaN(ws.Estimate().Data()) {
				t.Fatal("estimate contains NaN")
			}
			for _, v := range ws.Estimate().Data() {
				if math.IsInf(v, 0) {
					t.Fatal("estimate contains Inf")
				}
			}
			if res.Iters != 40 || len(rec.recs) != 40 {
				t.Fatalf("iters = %d, records = %d; want 40", res.Iters, len(rec.recs))
			}
			if got := sampledResidual(ws, pr.Schedule); got > 3*pr.Params.Eps {
				t.Fatalf("residual %v exceeds 3·eps = %v", got, 3*pr.Params.Eps)
			}
			for i := 1; i < len(rec.recs); i++ {
				if rec.recs[i].Objective > rec.recs[i-1].Objective && rec.recs[i].L < pr.Params.Lf {
					t.Fatalf("objective rose at iter %d without L reaching Lf", rec.recs[i].Iter)
				}
			}
		})
	}
}

func TestSolvePartialScheduleKeepsTolerance(t *testing.T) {
	p, err := Derive(hx.D2, 1, Options{Iters: 60, Delta: 1, Sigma: 0.5, Accel: 8})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	points := "0 0\n1 0\n0 1\n3 2\n5 1\n2 4\n7 3\n1 6\n4 5\n6 7\n"
	pr := newProblem(t, hx.D2, []int{16, 16}, points, p)
	pr.Params.Eps = math.Sqrt(float64(4*pr.Schedule.Len())) * 0.5

	ws, err := NewWorkspace(hx.D2, 16, 16)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	loadDecay(ws, pr.Schedule, rand.New(rand.NewSource(5)))

	res, err := Solve(ws, pr, 7, nil)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.L < pr.Params.L0 || res.L > pr.Params.Lf {
		t.Fatalf("final L = %v outside [L0, Lf] = [%v, %v]", res.L, pr.Params.L0, pr.Params.Lf)
	}
	if got := sampledResidual(ws, pr.Schedule); got > 3*pr.Params.Eps {
		t.Fatalf("residual %v exceeds 3·eps = %v", got, 3*pr.Params.Eps)
	}
	if floats.HasNaN(ws.Estimate().Data()) {
		t.Fatal("estimate contains NaN")
	}
}

func TestSolveConstantLambda(t *testing.T) {
	p, err := Derive(hx.D1, 4, Options{Iters: 12, Delta: 1, Sigma: 1, Lambda: 0.75})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	pr := newProblem(t, hx.D1, []int{16}, "0\n1\n2\n5\n", p)

	ws, _ := NewWorkspace(hx.D1, 16)
	loadDecay(ws, pr.Schedule, rand.New(rand.NewSource(9)))

	rec := &recorder{}
	if _, err := Solve(ws, pr, 2, rec); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for _, r := range rec.recs {
		if r.Lambda != 0.75 {
			t.Fatalf("iter %d lambda = %v; want 0.75", r.Iter, r.Lambda)
		}
		if r.Slice != 2 {
			t.Fatalf("record slice = %d; want 2", r.Slice)
		}
	}
}

func TestSolveDualAveraging(t *testing.T) {
	p, err := Derive(hx.D1, 3, Options{Method: MethodDualAveraging, Iters: 25, Delta: 1, Sigma: 1})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	pr := newProblem(t, hx.D1, []int{16}, "0\n1\n3\n", p)

	ws, _ := NewWorkspace(hx.D1, 16)
	loadDecay(ws, pr.Schedule, rand.New(rand.NewSource(13)))

	rec := &recorder{}
	res, err := Solve(ws, pr, 1, rec)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Iters != 25 || len(rec.recs) != 25 {
		t.Fatalf("iters = %d, records = %d; want 25", res.Iters, len(rec.recs))
	}
	if floats.HasNaN(ws.Estimate().Data()) {
		t.Fatal("estimate contains NaN")
	}
	for _, r := range rec.recs {
		if r.L != pr.Params.Lf {
			t.Fatalf("dual averaging L = %v; want Lf = %v", r.L, pr.Params.Lf)
		}
	}
}

func TestSolveZeroDataStaysZero(t *testing.T) {
	p, _ := Derive(hx.D2, 2, Options{Iters: 5, Delta: 1, Sigma: 1})
	pr := newProblem(t, hx.D2, []int{4, 4}, "0 0\n1 1\n", p)

	ws, _ := NewWorkspace(hx.D2, 4, 4)
	if _, err := Solve(ws, pr, 1, nil); err != nil {
		t.Fatalf("Solve: %v", err)
	}
	for i, v := range ws.Estimate().Data() {
		if v != 0 {
			t.Fatalf("x[%d] = %v; want 0", i, v)
		}
	}
}

func TestSolveLineSearchCap(t *testing.T) {
	p, err := Derive(hx.D1, 2, Options{Iters: 3, Delta: 1, Sigma: 1e-3, Accel: 1 << 20, MaxBacktracks: 1})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	pr := newProblem(t, hx.D1, []int{8}, "0\n1\n", p)

	ws, _ := NewWorkspace(hx.D1, 8)
	b := ws.Measured()
	b.At(0)[0], b.At(1)[1] = 100, -100

	_, err = Solve(ws, pr, 4, nil)
	if !errors.Is(err, ErrLineSearch) {
		t.Fatalf("err = %v; want ErrLineSearch", err)
	}
	if !strings.Contains(err.Error(), "slice 4") {
		t.Fatalf("err = %q; want slice id", err)
	}
}

func TestSolveRejectsNonFiniteInput(t *testing.T) {
	p, _ := Derive(hx.D1, 1, Options{Iters: 2, Delta: 1, Sigma: 1})
	pr := newProblem(t, hx.D1, []int{4}, "0\n", p)

	ws, _ := NewWorkspace(hx.D1, 4)
	ws.Measured().At(0)[0] = math.NaN()

	if _, err := Solve(ws, pr, 1, nil); !errors.Is(err, ErrNonFinite) {
		t.Fatalf("err = %v; want ErrNonFinite", err)
	}
}

func TestSolveShapeMismatch(t *testing.T) {
	p, _ := Derive(hx.D1, 1, Options{Iters: 2, Delta: 1, Sigma: 1})
	pr := newProblem(t, hx.D1, []int{8}, "0\n", p)

	ws, _ := NewWorkspace(hx.D1, 16)
	if _, err := Solve(ws, pr, 1, nil); !errors.Is(err, ErrShape) {
		t.Fatalf("err = %v; want ErrShape", err)
	}

	other, _ := fft.NewPlan(hx.D1, 16)
	pr.Plan = other
	if _, err := Solve(ws, pr, 1, nil); !errors.Is(err, ErrShape) {
		t.Fatalf("err = %v; want ErrShape for schedule/plan mismatch", err)
	}
}

func TestRecordAppendText(t *testing.T) {
	r := Record{Slice: 3, Iter: 12, L: 0.5, Lambda: 1.25e-3, Objective: -42}
	got := string(r.AppendText(nil))
	want := "     3     12 5.0000e-01 1.2500e-03 -4.2000e+01\n"
	if got != want {
		t.Fatalf("AppendText = %q; want %q", got, want)
	}
}

func TestWorkspaceBytes(t *testing.T) {
	n, err := WorkspaceBytes(hx.D2, 8, 8)
	if err != nil {
		t.Fatalf("WorkspaceBytes: %v", err)
	}
	if n != 6*64*4*8 {
		t.Fatalf("WorkspaceBytes = %d; want %d", n, 6*64*4*8)
	}
}
