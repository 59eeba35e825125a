package testutil

import (
	"bytes"
	"math"
	"testing"

	"github.com/example/go-camera/internal/nmrpipe"
)

// AssertValidPipe checks that data is an NMRPipe stream holding slices
// slices of sliceFloats values each, all finite, and returns its header.
func AssertValidPipe(tb testing.TB, data []byte, slices, sliceFloats int) *nmrpipe.Header {
	tb.Helper()

	h, err := nmrpipe.ReadHeader(bytes.NewReader(data))
	if err != nil {
		tb.Fatalf("pipe: %v", err)
	}

	want := nmrpipe.HeaderBytes + 4*slices*sliceFloats
	if len(data) != want {
		tb.Fatalf("pipe: %d bytes; want %d (%d slices of %d values)", len(data), want, slices, sliceFloats)
	}

	for i, v := range PipeBody(tb, data) {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			tb.Fatalf("pipe: value %d is %v", i, v)
		}
	}

	return h
}

// PipeBody decodes every float32 after the header of data.
func PipeBody(tb testing.TB, data []byte) []float32 {
	tb.Helper()

	h, err := nmrpipe.ReadHeader(bytes.NewReader(data))
	if err != nil {
		tb.Fatalf("pipe: %v", err)
	}

	body := data[nmrpipe.HeaderBytes:]
	if len(body)%4 != 0 {
		tb.Fatalf("pipe: body of %d bytes is not a whole number of floats", len(body))
	}

	out := make([]float32, len(body)/4)
	for i := range out {
		out[i] = math.Float32frombits(h.ByteOrder().Uint32(body[4*i:]))
	}

	return out
}
