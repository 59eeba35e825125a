// Package sched reads nonuniform sampling schedules and derives the packed
// grid indices and deconvolution weights the solver consumes.
//
// A schedule file lists one sampled grid point per line as 1, 2 or 3
// whitespace-separated non-negative integers. The arity of the first record
// fixes the dimensionality; every later record must match it.
package sched

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	vecmath "github.com/cwbudde/algo-vecmath"
	"golang.org/x/crypto/sha3"

	"github.com/example/go-camera/internal/hx"
)

var (
	// ErrEmpty is returned when a schedule has no records.
	ErrEmpty = errors.New("sched: empty schedule")
	// ErrArity is returned for records with an unsupported or inconsistent
	// number of fields.
	ErrArity = errors.New("sched: record arity mismatch")
	// ErrOutOfBounds is returned by Pack when an index does not fit the grid.
	ErrOutOfBounds = errors.New("sched: grid index out of bounds")
	// ErrNotPacked is returned when an operation needs packed indices.
	ErrNotPacked = errors.New("sched: schedule is not packed")
)

var axisNames = [3]string{"x", "y", "z"}

// Schedule is an ordered list of sampled grid points with per-point weights.
//
// Parse, Pack and ComputeWeights mutate the schedule and must complete before
// it is shared. Afterwards a Schedule is read-only and safe for concurrent
// use.
type Schedule struct {
	dim     hx.Dim
	raw     [][3]int
	max     [3]int
	extents [3]int
	idx     []int
	w       []float64
}

// AxisKernel holds the physical parameters of one axis used to derive the
// deconvolution weights.
type AxisKernel struct {
	// J is the coupling constant in Hz.
	J float64 `mapstructure:"j" yaml:"j"`
	// W is the linewidth in Hz.
	W float64 `mapstructure:"w" yaml:"w"`
	// SW is the sweep width in Hz. Zero means a unit dwell time.
	SW float64 `mapstructure:"sw" yaml:"sw"`
}

// Dwell returns the dwell time 1/SW, or 1 when SW is zero.
func (k AxisKernel) Dwell() float64 {
	if k.SW == 0 {
		return 1
	}

	return 1 / k.SW
}

// Factor returns the weight contribution of grid index i along the axis.
func (k AxisKernel) Factor(i int) float64 {
	t := k.Dwell() * float64(i)
	return math.Cos(math.Pi*k.J*t) * math.Exp(-k.W*t)
}

// Load reads and parses the schedule file at path.
func Load(path string) (*Schedule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sched: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return s, nil
}

// Parse reads schedule records from r. Blank lines are skipped.
func Parse(r io.Reader) (*Schedule, error) {
	s := &Schedule{}

	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		if s.dim == 0 {
			d, err := hx.ParseDim(len(fields))
			if err != nil {
				return nil, fmt.Errorf("%w: line %d has %d fields", ErrArity, line, len(fields))
			}
			s.dim = d
		}
		if len(fields) != int(s.dim) {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrArity, line, len(fields), s.dim)
		}

		var rec [3]int
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("sched: line %d: %w", line, err)
			}
			if v < 0 {
				return nil, fmt.Errorf("sched: line %d: negative %s-index %d", line, axisNames[i], v)
			}
			rec[i] = v
			s.max[i] = max(s.max[i], v)
		}
		s.raw = append(s.raw, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("sched: read: %w", err)
	}
	if len(s.raw) == 0 {
		return nil, ErrEmpty
	}

	return s, nil
}

// NextPow2 returns the smallest power of two that is >= n, and 1 for n <= 1.
func NextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}

// Dim returns the dimensionality detected from the first record.
func (s *Schedule) Dim() hx.Dim { return s.dim }

// Len returns the number of sampled points.
func (s *Schedule) Len() int { return len(s.raw) }

// Point returns the raw multi-index of record i.
func (s *Schedule) Point(i int) []int {
	p := s.raw[i]
	return append([]int(nil), p[:s.dim]...)
}

// Max returns the largest observed index along each axis.
func (s *Schedule) Max() []int {
	return append([]int(nil), s.max[:s.dim]...)
}

// InferExtents returns nextpow2(max+1) for each axis.
func (s *Schedule) InferExtents() []int {
	ext := make([]int, s.dim)
	for i := range ext {
		ext[i] = NextPow2(s.max[i] + 1)
	}

	return ext
}

// Pack converts every record into a linear index i1 + n1*i2 + n1*n2*i3 on
// the grid with the given extents. A zero or missing extent is inferred from
// the observed maxima. Pack resets the weights to 1.
func (s *Schedule) Pack(extents ...int) error {
	if len(extents) > int(s.dim) {
		return fmt.Errorf("sched: %d extents for a %s schedule", len(extents), s.dim)
	}

	inferred := s.InferExtents()
	var ext [3]int
	for i := range int(s.dim) {
		ext[i] = inferred[i]
		if i < len(extents) && extents[i] > 0 {
			ext[i] = extents[i]
		}
	}

	idx := make([]int, len(s.raw))
	for k, rec := range s.raw {
		for i := range int(s.dim) {
			if rec[i] >= ext[i] {
				return fmt.Errorf("%w: %s-index %d >= %d (record %d)", ErrOutOfBounds, axisNames[i], rec[i], ext[i], k+1)
			}
		}
		idx[k] = rec[0] + ext[0]*rec[1] + ext[0]*ext[1]*rec[2]
	}

	s.extents = ext
	s.idx = idx
	s.w = make([]float64, len(idx))
	for i := range s.w {
		s.w[i] = 1
	}

	return nil
}

// Packed reports whether Pack has succeeded.
func (s *Schedule) Packed() bool { return s.idx != nil }

// Extents returns the grid extents the schedule was packed against.
func (s *Schedule) Extents() []int {
	if !s.Packed() {
		return nil
	}

	return append([]int(nil), s.extents[:s.dim]...)
}

// Indices returns the packed linear indices. Callers must not modify them.
func (s *Schedule) Indices() []int { return s.idx }

// Weights returns the per-point weights. Callers must not modify them.
func (s *Schedule) Weights() []float64 { return s.w }

// Unpack splits a packed linear index back into grid coordinates.
func (s *Schedule) Unpack(k int) [3]int {
	n1, n2 := s.extents[0], max(s.extents[1], 1)
	k1 := k % n1
	k2 := ((k - k1) / n1) % n2
	k3 := (k - k1 - n1*k2) / (n1 * n2)

	return [3]int{k1, k2, k3}
}

// Density returns the fraction of grid points that are sampled.
func (s *Schedule) Density() float64 {
	if !s.Packed() {
		return 0
	}

	total := 1
	for _, n := range s.extents[:s.dim] {
		total *= n
	}

	return float64(len(s.idx)) / float64(total)
}

// ComputeWeights derives the deconvolution weight of every sampled point as
// the product over axes of cos(π·J·dt·k)·exp(−W·dt·k), where k is the
// point's grid index along that axis. Axes without a kernel contribute 1.
func (s *Schedule) ComputeWeights(kernels []AxisKernel) error {
	if !s.Packed() {
		return ErrNotPacked
	}

	w := make([]float64, len(s.idx))
	for i := range w {
		w[i] = 1
	}

	factor := make([]float64, len(s.idx))
	for axis := 0; axis < int(s.dim) && axis < len(kernels); axis++ {
		for i, k := range s.idx {
			factor[i] = kernels[axis].Factor(s.Unpack(k)[axis])
		}
		vecmath.MulBlockInPlace(w, factor)
	}

	s.w = w

	return nil
}

// Digest returns a hex SHA3-256 fingerprint of the packed schedule: its
// dimensionality, extents and linear indices.
func (s *Schedule) Digest() (string, error) {
	if !s.Packed() {
		return "", ErrNotPacked
	}

	h := sha3.New256()
	buf := make([]byte, 8)
	put := func(v int) {
		binary.LittleEndian.PutUint64(buf, uint64(v))
		h.Write(buf)
	}

	put(int(s.dim))
	for _, n := range s.extents[:s.dim] {
		put(n)
	}
	for _, k := range s.idx {
		put(k)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
