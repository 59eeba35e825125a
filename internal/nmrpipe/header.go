// Package nmrpipe reads and writes the NMRPipe stream format: a fixed
// 2048-byte header of 512 float32 values followed by float32 sample data in
// the byte order the header declares.
package nmrpipe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/example/go-camera/internal/hx"
)

const (
	// HeaderFloats is the number of float32 slots in a header.
	HeaderFloats = 512
	// HeaderBytes is the encoded header size.
	HeaderBytes = 4 * HeaderFloats

	orderSentinel float32 = 2.345
)

// Field is the float32 slot index of a header parameter.
type Field int

// Header fields touched by the reconstruction pipeline.
const (
	FDMagic     Field = 0
	FDFltFormat Field = 1
	FDFltOrder  Field = 2
	FDDimCount  Field = 9
	FDF3SW      Field = 11
	FDF3Size    Field = 15
	FDF4SW      Field = 29
	FDF4Size    Field = 32
	FDF3Apod    Field = 50
	FDF3Quad    Field = 51
	FDF4Apod    Field = 53
	FDF4Quad    Field = 54
	FDF1Quad    Field = 55
	FDF2Quad    Field = 56
	FDF2Apod    Field = 95
	FDF2FTSize  Field = 96
	FDF1FTSize  Field = 98
	FDSize      Field = 99
	FDF2SW      Field = 100
	FDQuadFlag  Field = 106
	FDSpecNum   Field = 219
	FDF1SW      Field = 229
	FDF2X1      Field = 257
	FDF2XN      Field = 258
	FDF2TDSize  Field = 386
	FDF1TDSize  Field = 387
	FDF1Apod    Field = 428
)

// quadComplex marks a dimension as complex in the quadrature flags.
const quadComplex = 0

var (
	// ErrHeader is returned for a header that cannot be decoded.
	ErrHeader = errors.New("nmrpipe: invalid header")
	// ErrShortRead is returned when the stream ends inside a header or slice.
	ErrShortRead = errors.New("nmrpipe: short read")
)

// Header is a decoded NMRPipe header. The zero value is not usable; use
// NewHeader or ReadHeader.
type Header struct {
	v     [HeaderFloats]float32
	order binary.ByteOrder
}

// NewHeader returns an empty little-endian header with the byte-order
// sentinel set.
func NewHeader() *Header {
	h := &Header{order: binary.LittleEndian}
	h.v[FDFltOrder] = orderSentinel

	return h
}

// ReadHeader decodes a header from r. The byte order is detected from the
// sentinel slot; a stream whose sentinel matches in neither order is
// rejected.
func ReadHeader(r io.Reader) (*Header, error) {
	var raw [HeaderBytes]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header: %w", ErrShortRead, err)
		}
		return nil, fmt.Errorf("nmrpipe: read header: %w", err)
	}

	var order binary.ByteOrder
	off := 4 * int(FDFltOrder)
	switch orderSentinel {
	case math.Float32frombits(binary.LittleEndian.Uint32(raw[off:])):
		order = binary.LittleEndian
	case math.Float32frombits(binary.BigEndian.Uint32(raw[off:])):
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: byte-order sentinel not found", ErrHeader)
	}

	h := &Header{order: order}
	for i := range h.v {
		h.v[i] = math.Float32frombits(order.Uint32(raw[4*i:]))
	}

	return h, nil
}

// ByteOrder returns the order sample data is encoded in.
func (h *Header) ByteOrder() binary.ByteOrder { return h.order }

// Get returns the value of f.
func (h *Header) Get(f Field) float32 { return h.v[f] }

// Set stores v in f.
func (h *Header) Set(f Field, v float32) { h.v[f] = v }

// Clone returns an independent copy of h.
func (h *Header) Clone() *Header {
	c := *h
	return &c
}

// MarshalBinary encodes h in its own byte order.
func (h *Header) MarshalBinary() ([]byte, error) {
	raw := make([]byte, HeaderBytes)
	for i, v := range h.v {
		h.order.PutUint32(raw[4*i:], math.Float32bits(v))
	}

	return raw, nil
}

// WriteTo writes the encoded header to w.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	raw, _ := h.MarshalBinary()
	n, err := w.Write(raw)

	return int64(n), err
}

// SliceCount returns how many slices follow the header. An explicit
// direct-dimension extraction range takes precedence over the time-domain
// size, which counts complex points.
func (h *Header) SliceCount() int {
	x1, xn := h.v[FDF2X1], h.v[FDF2XN]
	if x1 != 0 && xn != 0 {
		return int(xn-x1) + 1
	}

	return int(h.v[FDF2FTSize]) / 2
}

// SweepWidth returns the spectral width in Hz of the indirect axis
// (0 = x, 1 = y, 2 = z).
func (h *Header) SweepWidth(axis int) float64 {
	switch axis {
	case 0:
		return float64(h.v[FDF1SW])
	case 1:
		return float64(h.v[FDF3SW])
	case 2:
		return float64(h.v[FDF4SW])
	default:
		return 0
	}
}

// SetOutputSize rewrites the size and quadrature fields for reconstructed
// slices of the given per-axis sizes. sizes are the written sizes, i.e. half
// of the working grid.
func (h *Header) SetOutputSize(d hx.Dim, sizes ...int) error {
	if !d.Valid() || len(sizes) != int(d) {
		return fmt.Errorf("%w: %d sizes for %s output", ErrHeader, len(sizes), d)
	}

	n1 := float32(sizes[0])
	h.v[FDSize] = n1
	if d == hx.D1 {
		h.v[FDF1TDSize] = n1
		return nil
	}

	n2 := float32(sizes[1])
	h.v[FDSpecNum] = 2 * n2
	h.v[FDF1Apod] = n1
	h.v[FDF3Apod] = n2
	h.v[FDQuadFlag] = quadComplex
	h.v[FDF1Quad] = quadComplex
	h.v[FDF3Quad] = quadComplex
	if d == hx.D2 {
		return nil
	}

	n3 := float32(sizes[2])
	h.v[FDF4Apod] = n3
	h.v[FDF3Size] = 2 * n3
	h.v[FDF4Quad] = quadComplex

	return nil
}
