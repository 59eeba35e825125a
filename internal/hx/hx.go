// Package hx implements the scalar algebra of hypercomplex values with 2^D
// real coefficients, D in {1, 2, 3}.
//
// Coefficient index bit k is set when axis k+1 is in its imaginary state, so
// index 0 is the fully real component and index 2^D-1 the fully imaginary one.
// Scalars are plain []float64 windows into an array buffer; nothing in this
// package allocates on the hot path.
package hx

import (
	"fmt"
	"math"
)

// MaxCoeffs is the coefficient count of the widest supported scalar.
const MaxCoeffs = 8

// Dim is the number of hypercomplex axes of a scalar.
type Dim int

const (
	D1 Dim = 1
	D2 Dim = 2
	D3 Dim = 3
)

// Valid reports whether d is a supported dimensionality.
func (d Dim) Valid() bool { return d >= D1 && d <= D3 }

// Coeffs returns the number of real coefficients of a scalar, 2^d.
func (d Dim) Coeffs() int { return 1 << uint(d) }

func (d Dim) String() string { return fmt.Sprintf("%dD", int(d)) }

// ParseDim converts an integer dimension count into a Dim.
func ParseDim(n int) (Dim, error) {
	d := Dim(n)
	if !d.Valid() {
		return 0, fmt.Errorf("hx: unsupported dimension count %d", n)
	}

	return d, nil
}

// SumSq returns the squared Euclidean norm of the scalar x.
//
// The squares are folded pairwise across index bits, one bit per axis, so the
// total ends up in coefficient 0. len(x) must be 2, 4 or 8.
func SumSq(x []float64) float64 {
	var sq [MaxCoeffs]float64

	n := len(x)
	for i, v := range x {
		sq[i] = v * v
	}

	for bit := 1; bit < n; bit <<= 1 {
		for i := 0; i < n; i++ {
			if i&bit == 0 {
				sq[i] += sq[i^bit]
			}
		}
	}

	return sq[0]
}

// Norm returns sqrt(SumSq(x)).
func Norm(x []float64) float64 {
	return math.Sqrt(SumSq(x))
}

// Func evaluates the entropy functional at x for Lipschitz bound L:
//
//	|x|·asinh(L|x|) − sqrt(|x|² + 1/L²) + 1/L
//
// The constant 1/L pins Func(0) to zero. It does not move any minimizer or
// change the outcome of objective comparisons.
func Func(x []float64, L float64) float64 {
	nrm := Norm(x)
	lx := L * nrm

	return nrm*math.Asinh(lx) - math.Sqrt(nrm*nrm+1/(L*L)) + 1/L
}

// Grad writes the gradient of Func at x into dst. dst may alias x.
// The gradient at the zero scalar is the zero scalar.
func Grad(dst, x []float64, L float64) {
	nrm := Norm(x)
	if nrm == 0 {
		for i := range dst[:len(x)] {
			dst[i] = 0
		}
		return
	}

	a := math.Asinh(L*nrm) / nrm
	for i, v := range x {
		dst[i] = a * v
	}
}

// Objective returns the sum of Func over every scalar in buf, which holds
// consecutive scalars of dimensionality d.
func Objective(buf []float64, d Dim, L float64) float64 {
	c := d.Coeffs()

	var f float64
	for p := 0; p+c <= len(buf); p += c {
		f += Func(buf[p:p+c], L)
	}

	return f
}

// GradInPlace replaces every scalar in buf by its gradient.
func GradInPlace(buf []float64, d Dim, L float64) {
	c := d.Coeffs()
	for p := 0; p+c <= len(buf); p += c {
		s := buf[p : p+c]
		Grad(s, s, L)
	}
}
