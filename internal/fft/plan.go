// Package fft implements the in-place, unnormalized radix-2 transform of
// hypercomplex arrays.
//
// Along axis k the transform treats coefficients c and c|1<<k of every scalar
// as the real and imaginary parts of one complex number; the coefficients
// that do not involve axis k ride along as independent pairs. A single engine
// therefore transforms all 2^D quadrature components of a D-axis grid.
package fft

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-camera/internal/arr"
	"github.com/example/go-camera/internal/hx"
)

// Direction selects the sign of the transform kernel exponent.
type Direction int

const (
	Forward Direction = -1
	Inverse Direction = 1
)

// ErrShape is returned when an array does not match the plan it is
// transformed with.
var ErrShape = errors.New("fft: array shape does not match plan")

// Plan holds everything a transform needs that depends only on the
// dimensionality and extents: bit-reversal swaps, fiber offsets and twiddle
// recurrence seeds for each axis. A Plan is immutable after NewPlan and may be
// shared by any number of goroutines.
type Plan struct {
	dim     hx.Dim
	extents []int
	points  int
	axes    []axisPlan
}

type axisPlan struct {
	n      int
	stride int
	// swaps lists bit-reversal exchange pairs as consecutive (i, j) positions
	// along the fiber.
	swaps []int
	// bases holds the point offset of every fiber along this axis.
	bases []int
	// sin and sin2 seed the twiddle recurrence of each pass, for the
	// Inverse direction. Forward negates sin.
	sin  []float64
	sin2 []float64
}

// NewPlan prepares a plan for arrays of dimensionality d over extents.
func NewPlan(d hx.Dim, extents ...int) (*Plan, error) {
	if _, err := arr.Bytes(d, extents...); err != nil {
		return nil, fmt.Errorf("fft: %w", err)
	}

	p := &Plan{
		dim:     d,
		extents: append([]int(nil), extents...),
		points:  1,
	}
	for _, n := range extents {
		p.points *= n
	}

	stride := 1
	for _, n := range extents {
		p.axes = append(p.axes, newAxisPlan(n, stride, p.points))
		stride *= n
	}

	return p, nil
}

func newAxisPlan(n, stride, points int) axisPlan {
	ap := axisPlan{n: n, stride: stride}

	for i, j := 0, 0; i < n-1; i++ {
		if i < j {
			ap.swaps = append(ap.swaps, i, j)
		}
		k := n >> 1
		for k <= j {
			j -= k
			k >>= 1
		}
		j += k
	}

	// A fiber starts at every point whose coordinate along this axis is
	// zero: the lower axes vary freely below stride, the higher axes step by
	// stride*n.
	span := stride * n
	ap.bases = make([]int, 0, points/n)
	for hi := 0; hi < points; hi += span {
		for lo := 0; lo < stride; lo++ {
			ap.bases = append(ap.bases, hi+lo)
		}
	}

	for dual := 1; dual < n; dual <<= 1 {
		phi := math.Pi / float64(dual)
		t := math.Sin(phi / 2)
		ap.sin = append(ap.sin, math.Sin(phi))
		ap.sin2 = append(ap.sin2, 2*t*t)
	}

	return ap
}

// Dim returns the dimensionality the plan was built for.
func (p *Plan) Dim() hx.Dim { return p.dim }

// Extents returns a copy of the planned extents.
func (p *Plan) Extents() []int { return append([]int(nil), p.extents...) }

// Points returns the number of grid points the plan transforms.
func (p *Plan) Points() int { return p.points }

// Matches reports whether a can be transformed with p.
func (p *Plan) Matches(a *arr.Array) bool {
	if a == nil || a.Dim() != p.dim {
		return false
	}
	for i, n := range p.extents {
		if a.Extent(i) != n {
			return false
		}
	}

	return true
}

// Forward applies the forward transform to a in place.
func (p *Plan) Forward(a *arr.Array) error { return p.Transform(a, Forward) }

// Inverse applies the inverse transform to a in place. Inverse(Forward(x))
// equals Points()·x.
func (p *Plan) Inverse(a *arr.Array) error { return p.Transform(a, Inverse) }

// Transform applies the transform in direction dir along every axis of a.
func (p *Plan) Transform(a *arr.Array, dir Direction) error {
	if !p.Matches(a) {
		return fmt.Errorf("%w: plan %s%v, array %s%v", ErrShape, p.dim, p.extents, a.Dim(), a.Extents())
	}

	data := a.Data()
	c := p.dim.Coeffs()
	sign := float64(dir)

	for axis := range p.axes {
		ap := &p.axes[axis]
		bit := 1 << uint(axis)
		for _, base := range ap.bases {
			ap.reverse(data, base, c)
			ap.butterflies(data, base, c, bit, sign)
		}
	}

	return nil
}

func (ap *axisPlan) reverse(data []float64, base, c int) {
	for k := 0; k < len(ap.swaps); k += 2 {
		i := (base + ap.swaps[k]*ap.stride) * c
		j := (base + ap.swaps[k+1]*ap.stride) * c
		for q := 0; q < c; q++ {
			data[i+q], data[j+q] = data[j+q], data[i+q]
		}
	}
}

func (ap *axisPlan) butterflies(data []float64, base, c, bit int, sign float64) {
	n := ap.n
	for pass, dual := 0, 1; dual < n; pass, dual = pass+1, dual<<1 {
		s := sign * ap.sin[pass]
		s2 := ap.sin2[pass]

		// Unit twiddle.
		for b := 0; b < n; b += 2 * dual {
			i := (base + b*ap.stride) * c
			j := (base + (b+dual)*ap.stride) * c
			for q := 0; q < c; q++ {
				z := data[j+q]
				data[j+q] = data[i+q] - z
				data[i+q] += z
			}
		}

		wr, wi := 1.0, 0.0
		for a := 1; a < dual; a++ {
			wr, wi = wr-s*wi-s2*wr, wi+s*wr-s2*wi
			for b := 0; b < n; b += 2 * dual {
				i := (base + (b+a)*ap.stride) * c
				j := (base + (b+a+dual)*ap.stride) * c
				for q := 0; q < c; q++ {
					if q&bit != 0 {
						continue
					}
					re, im := j+q, j+(q|bit)
					zr, zi := data[re], data[im]
					dr := wr*zr - wi*zi
					di := wr*zi + wi*zr
					data[re] = data[i+q] - dr
					data[im] = data[i+(q|bit)] - di
					data[i+q] += dr
					data[i+(q|bit)] += di
				}
			}
		}
	}
}
