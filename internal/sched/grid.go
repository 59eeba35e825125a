package sched

import (
	"errors"
	"fmt"
)

// MinSize is the smallest written size of an axis.
const MinSize = 4

// ErrGridSize is returned for written sizes that are too small or not a
// power of two.
var ErrGridSize = errors.New("sched: invalid grid size")

// Grid resolves the written size of every axis and the working extents the
// schedule is packed against. The working grid is twice the written size
// along each axis so the reconstruction is zero-filled. A zero or missing
// size is inferred as the smallest power of two, at least MinSize, that
// covers the largest sampled index.
func (s *Schedule) Grid(sizes ...int) (out, extents []int, err error) {
	if len(sizes) > int(s.dim) {
		return nil, nil, fmt.Errorf("%w: %d sizes for a %s schedule", ErrArity, len(sizes), s.dim)
	}

	out = make([]int, s.dim)
	extents = make([]int, s.dim)
	for i := range out {
		n := 0
		if i < len(sizes) {
			n = sizes[i]
		}
		if n == 0 {
			n = max(MinSize, NextPow2(s.max[i]+1))
		}

		if n < MinSize || n&(n-1) != 0 {
			return nil, nil, fmt.Errorf("%w: %s-dimension length %d (expected a power of two >= %d)",
				ErrGridSize, axisNames[i], n, MinSize)
		}
		if s.max[i] >= 2*n {
			return nil, nil, fmt.Errorf("%w: %s-index %d does not fit %d points",
				ErrOutOfBounds, axisNames[i], s.max[i], 2*n)
		}

		out[i], extents[i] = n, 2*n
	}

	return out, extents, nil
}
