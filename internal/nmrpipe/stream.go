package nmrpipe

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/example/go-camera/internal/arr"
	"github.com/example/go-camera/internal/hx"
	"github.com/example/go-camera/internal/sched"
)

// Layout is the order of the float32 values of one input slice.
type Layout string

const (
	// LayoutPlanar stores coefficient q of every sample before coefficient
	// q+1: value (i, q) sits at q·n + i for n samples.
	LayoutPlanar Layout = "planar"
	// LayoutInterleaved stores the coefficients of each sample together:
	// value (i, q) sits at i·C + q.
	LayoutInterleaved Layout = "interleaved"
)

// ParseLayout converts a layout name. The empty string selects LayoutPlanar.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutPlanar:
		return LayoutPlanar, nil
	case LayoutInterleaved:
		return LayoutInterleaved, nil
	default:
		return "", fmt.Errorf("nmrpipe: unknown layout %q (want planar or interleaved)", s)
	}
}

// Reader yields the measured slices of an input stream. Each slice holds one
// hypercomplex value per schedule point, in schedule order.
type Reader struct {
	r      *bufio.Reader
	h      *Header
	s      *sched.Schedule
	layout Layout
	raw    []byte
	read   int
}

// NewReader consumes the header from r and prepares to read slices sampled
// on s. s must be packed against the working grid.
func NewReader(r io.Reader, s *sched.Schedule, layout Layout) (*Reader, error) {
	if !s.Packed() {
		return nil, fmt.Errorf("nmrpipe: %w", sched.ErrNotPacked)
	}
	if _, err := ParseLayout(string(layout)); err != nil {
		return nil, err
	}

	br := bufio.NewReaderSize(r, 1<<16)
	h, err := ReadHeader(br)
	if err != nil {
		return nil, err
	}

	return &Reader{
		r:      br,
		h:      h,
		s:      s,
		layout: layout,
		raw:    make([]byte, 4*s.Len()*s.Dim().Coeffs()),
	}, nil
}

// Header returns the decoded input header.
func (r *Reader) Header() *Header { return r.h }

// SliceBytes is the encoded size of one input slice.
func (r *Reader) SliceBytes() int { return len(r.raw) }

// Read returns the number of slices read so far.
func (r *Reader) Read() int { return r.read }

// ReadSlice zeroes dst and scatters the next slice into it at the schedule's
// grid positions. It returns io.EOF when the stream ends cleanly between
// slices and ErrShortRead when it ends inside one.
func (r *Reader) ReadSlice(dst *arr.Array) error {
	c := r.s.Dim().Coeffs()
	if dst.Dim() != r.s.Dim() || dst.Points() != pointsOf(r.s.Extents()) {
		return fmt.Errorf("nmrpipe: slice buffer %s%v does not match schedule grid %s%v",
			dst.Dim(), dst.Extents(), r.s.Dim(), r.s.Extents())
	}

	if _, err := io.ReadFull(r.r, r.raw); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("%w: slice %d", ErrShortRead, r.read+1)
		default:
			return fmt.Errorf("nmrpipe: read slice %d: %w", r.read+1, err)
		}
	}

	order := r.h.order
	n := r.s.Len()
	dst.Zero()
	data := dst.Data()
	for i, k := range r.s.Indices() {
		for q := 0; q < c; q++ {
			j := q*n + i
			if r.layout == LayoutInterleaved {
				j = i*c + q
			}
			data[k*c+q] = float64(math.Float32frombits(order.Uint32(r.raw[4*j:])))
		}
	}
	r.read++

	return nil
}

func pointsOf(extents []int) int {
	n := 1
	for _, e := range extents {
		n *= e
	}

	return n
}

// Writer emits an output header followed by reconstructed slices. Only the
// leading half of each axis of the working grid is written.
type Writer struct {
	w       *bufio.Writer
	order   binary.ByteOrder
	d       hx.Dim
	sizes   [3]int
	raw     []byte
	written int
}

// NewWriter writes h to w and prepares to emit slices of dimensionality d
// whose written sizes are sizes. h should already carry those sizes, see
// Header.SetOutputSize.
func NewWriter(w io.Writer, h *Header, d hx.Dim, sizes ...int) (*Writer, error) {
	if !d.Valid() || len(sizes) != int(d) {
		return nil, fmt.Errorf("nmrpipe: %d output sizes for %s data", len(sizes), d)
	}

	out := &Writer{
		w:     bufio.NewWriterSize(w, 1<<16),
		order: h.order,
		d:     d,
		sizes: [3]int{1, 1, 1},
	}
	total := d.Coeffs()
	for i, n := range sizes {
		if n < 1 {
			return nil, fmt.Errorf("nmrpipe: output size %d on axis %d", n, i)
		}
		out.sizes[i] = n
		total *= n
	}
	out.raw = make([]byte, 4*total)

	if _, err := h.WriteTo(out.w); err != nil {
		return nil, fmt.Errorf("nmrpipe: write header: %w", err)
	}

	return out, nil
}

// SliceBytes is the encoded size of one output slice.
func (w *Writer) SliceBytes() int { return len(w.raw) }

// Written returns the number of slices written so far.
func (w *Writer) Written() int { return w.written }

// WriteSlice encodes the leading sizes of src as float32. Each output row
// along x is written once per coefficient; in 3D the first four
// coefficients of every row in a y-plane precede the last four.
func (w *Writer) WriteSlice(src *arr.Array) error {
	if src.Dim() != w.d {
		return fmt.Errorf("nmrpipe: slice is %s, writer expects %s", src.Dim(), w.d)
	}
	for i := 0; i < int(w.d); i++ {
		if src.Extent(i) < w.sizes[i] {
			return fmt.Errorf("nmrpipe: slice extent %d on axis %d is below output size %d",
				src.Extent(i), i, w.sizes[i])
		}
	}

	c := w.d.Coeffs()
	group := min(c, 4)
	data := src.Data()
	h1, h2, h3 := w.sizes[0], w.sizes[1], w.sizes[2]

	j := 0
	for i3 := 0; i3 < h3; i3++ {
		for g := 0; g < c; g += group {
			for i2 := 0; i2 < h2; i2++ {
				for q := g; q < g+group; q++ {
					for i1 := 0; i1 < h1; i1++ {
						v := data[src.Index(i1, i2, i3)*c+q]
						w.order.PutUint32(w.raw[j:], math.Float32bits(float32(v)))
						j += 4
					}
				}
			}
		}
	}

	if _, err := w.w.Write(w.raw); err != nil {
		return fmt.Errorf("nmrpipe: write slice %d: %w", w.written+1, err)
	}
	w.written++

	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
