package solver

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/example/go-camera/internal/hx"
)

// DefaultMaxBacktracks bounds the rejected steps allowed in one iteration.
const DefaultMaxBacktracks = 64

// ErrParams is returned for inconsistent solver parameters.
var ErrParams = errors.New("solver: invalid parameters")

// Method selects the iteration scheme.
type Method string

const (
	// MethodBacktracking is the accelerated projected-gradient scheme with a
	// Lipschitz line search starting from L0.
	MethodBacktracking Method = "backtracking"
	// MethodDualAveraging is the fixed-step scheme that blends a gradient
	// step with a weighted average of all past gradients.
	MethodDualAveraging Method = "dual-averaging"
)

// ParseMethod converts a method name into a Method. The empty string selects
// MethodBacktracking.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodBacktracking:
		return MethodBacktracking, nil
	case MethodDualAveraging:
		return MethodDualAveraging, nil
	default:
		return "", fmt.Errorf("%w: unknown method %q", ErrParams, s)
	}
}

// Params drives one reconstruction.
type Params struct {
	Method Method
	Iters  int
	// L0 is the initial Lipschitz estimate and Lf its ceiling.
	L0, Lf float64
	// Eps is the data-consistency tolerance.
	Eps float64
	// Lambda fixes the Lagrange multiplier when positive.
	Lambda        float64
	MaxBacktracks int
}

// Options are the user-facing knobs Params are derived from.
type Options struct {
	Method        Method
	Iters         int
	Delta         float64
	Sigma         float64
	Lambda        float64
	Accel         float64
	MaxBacktracks int
}

// Derive computes solver parameters for a schedule of n points on a grid of
// dimensionality d: eps = sqrt(2^d·n)·sigma, Lf = 0.5/delta, L0 = Lf/accel.
func Derive(d hx.Dim, n int, o Options) (Params, error) {
	if o.Delta <= 0 {
		return Params{}, fmt.Errorf("%w: background %g must be positive", ErrParams, o.Delta)
	}
	if o.Sigma <= 0 {
		return Params{}, fmt.Errorf("%w: noise estimate %g must be positive", ErrParams, o.Sigma)
	}

	accel := o.Accel
	if accel == 0 {
		accel = 1
	}

	lf := 0.5 / o.Delta
	p := Params{
		Method:        o.Method,
		Iters:         o.Iters,
		L0:            lf / accel,
		Lf:            lf,
		Eps:           math.Sqrt(float64(d.Coeffs())*float64(n)) * o.Sigma,
		Lambda:        o.Lambda,
		MaxBacktracks: o.MaxBacktracks,
	}

	return p, p.Validate()
}

// Validate checks the invariants Solve relies on.
func (p Params) Validate() error {
	switch {
	case p.Iters < 1:
		return fmt.Errorf("%w: iteration count %d", ErrParams, p.Iters)
	case !(p.Lf > 0) || math.IsInf(p.Lf, 0):
		return fmt.Errorf("%w: Lf = %g", ErrParams, p.Lf)
	case !(p.L0 > 0) || p.L0 > p.Lf:
		return fmt.Errorf("%w: L0 = %g must lie in (0, Lf = %g]", ErrParams, p.L0, p.Lf)
	case !(p.Eps > 0):
		return fmt.Errorf("%w: eps = %g", ErrParams, p.Eps)
	case p.Lambda < 0 || math.IsNaN(p.Lambda):
		return fmt.Errorf("%w: lambda = %g", ErrParams, p.Lambda)
	case p.MaxBacktracks < 0:
		return fmt.Errorf("%w: max backtracks %d", ErrParams, p.MaxBacktracks)
	}
	if _, err := ParseMethod(string(p.Method)); err != nil {
		return err
	}

	return nil
}

func (p Params) maxBacktracks() int {
	if p.MaxBacktracks == 0 {
		return DefaultMaxBacktracks
	}

	return p.MaxBacktracks
}
