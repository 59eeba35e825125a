// Package arr holds dense grids of hypercomplex scalars.
package arr

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/example/go-camera/internal/hx"
)

var (
	// ErrNotPowerOfTwo is returned when an extent is not a power of two.
	ErrNotPowerOfTwo = errors.New("arr: extent is not a power of two")
	// ErrDimension is returned when the extent count does not match the
	// dimensionality, or the dimensionality is unsupported.
	ErrDimension = errors.New("arr: dimension mismatch")
)

// Array is a flat buffer of hypercomplex scalars over a 1, 2 or 3 axis grid.
//
// Point (i1, i2, i3) lives at linear index i1 + n1*i2 + n1*n2*i3 and its 2^D
// coefficients are stored contiguously starting at that index times 2^D.
type Array struct {
	dim    hx.Dim
	n      [3]int
	logn   [3]int
	points int
	data   []float64
}

// New allocates a zeroed array of dimensionality d over the given extents.
func New(d hx.Dim, extents ...int) (*Array, error) {
	points, logs, err := checkExtents(d, extents)
	if err != nil {
		return nil, err
	}

	a := &Array{
		dim:    d,
		logn:   logs,
		points: points,
		data:   make([]float64, points*d.Coeffs()),
	}
	copy(a.n[:], extents)

	return a, nil
}

// Bytes returns the buffer size in bytes of an array with the given shape,
// without allocating it.
func Bytes(d hx.Dim, extents ...int) (int64, error) {
	points, _, err := checkExtents(d, extents)
	if err != nil {
		return 0, err
	}

	return int64(points) * int64(d.Coeffs()) * 8, nil
}

func checkExtents(d hx.Dim, extents []int) (int, [3]int, error) {
	var logs [3]int

	if !d.Valid() {
		return 0, logs, fmt.Errorf("%w: unsupported dimensionality %d", ErrDimension, int(d))
	}
	if len(extents) != int(d) {
		return 0, logs, fmt.Errorf("%w: %d extents for %s array", ErrDimension, len(extents), d)
	}

	points := 1
	for i, n := range extents {
		if n < 1 || n&(n-1) != 0 {
			return 0, logs, fmt.Errorf("%w: axis %d has extent %d", ErrNotPowerOfTwo, i+1, n)
		}
		logs[i] = bits.TrailingZeros(uint(n))
		points *= n
	}

	return points, logs, nil
}

// Dim returns the dimensionality of the array.
func (a *Array) Dim() hx.Dim {
	if a == nil {
		return 0
	}

	return a.dim
}

// Extents returns a copy of the per-axis extents.
func (a *Array) Extents() []int {
	if a == nil {
		return nil
	}

	return append([]int(nil), a.n[:a.dim]...)
}

// Extent returns the extent of axis (0-based), or 1 for axes beyond Dim.
func (a *Array) Extent(axis int) int {
	if axis >= int(a.dim) {
		return 1
	}

	return a.n[axis]
}

// Log2 returns log2 of the extent of axis (0-based).
func (a *Array) Log2(axis int) int {
	if axis >= int(a.dim) {
		return 0
	}

	return a.logn[axis]
}

// Points returns the number of grid points.
func (a *Array) Points() int {
	if a == nil {
		return 0
	}

	return a.points
}

// Len returns the number of float64 values in the buffer.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}

	return len(a.data)
}

// Data returns the underlying buffer. Mutations are visible to the array.
func (a *Array) Data() []float64 {
	if a == nil {
		return nil
	}

	return a.data
}

// At returns the coefficients of point p as a window into the buffer.
func (a *Array) At(p int) []float64 {
	c := a.dim.Coeffs()
	return a.data[p*c : (p+1)*c : (p+1)*c]
}

// Index returns the linear point index of a grid coordinate. Missing trailing
// coordinates are treated as zero.
func (a *Array) Index(coord ...int) int {
	idx, stride := 0, 1
	for i, k := range coord {
		idx += k * stride
		stride *= a.Extent(i)
	}

	return idx
}

// SameShape reports whether a and b have the same dimensionality and extents.
func (a *Array) SameShape(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.dim == b.dim && a.n == b.n
}

// Zero clears every coefficient.
func (a *Array) Zero() {
	clear(a.data)
}

// CopyFrom overwrites a with the contents of src.
func (a *Array) CopyFrom(src *Array) error {
	if !a.SameShape(src) {
		return fmt.Errorf("%w: copy %s%v into %s%v", ErrDimension, src.Dim(), src.Extents(), a.Dim(), a.Extents())
	}
	copy(a.data, src.data)

	return nil
}

// Clone returns a deep copy of a.
func (a *Array) Clone() *Array {
	if a == nil {
		return nil
	}

	dup := *a
	dup.data = append([]float64(nil), a.data...)

	return &dup
}

// Release drops the buffer so it can be collected. The array must not be
// used afterwards.
func (a *Array) Release() {
	if a == nil {
		return
	}

	a.data = nil
	a.points = 0
}
