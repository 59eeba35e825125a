// Package testutil provides fixture builders and assertions shared by the
// package and command tests.
//
// Typical usage:
//
//	func TestReconstruct(t *testing.T) {
//	    dir := t.TempDir()
//	    points := [][]int{{0}, {1}, {3}}
//	    sched := testutil.WriteSchedule(t, dir, points...)
//	    in := testutil.WritePipe(t, dir, "in.fid", testutil.Header(2), testutil.Decay(points, 1, 0.3, 0.05))
//	    ...
//	}
package testutil

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-camera/internal/bench"
	"github.com/example/go-camera/internal/nmrpipe"
)

// WriteSchedule writes points to dir/nuslist and returns the path.
func WriteSchedule(tb testing.TB, dir string, points ...[]int) string {
	tb.Helper()

	var sb strings.Builder
	for _, p := range points {
		for i, v := range p {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprint(&sb, v)
		}
		sb.WriteByte('\n')
	}

	path := filepath.Join(dir, "nuslist")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		tb.Fatalf("write schedule: %v", err)
	}

	return path
}

// Header returns a little-endian header declaring the given slice count.
func Header(slices int) *nmrpipe.Header {
	h := nmrpipe.NewHeader()
	h.Set(nmrpipe.FDF2FTSize, float32(2*slices))

	return h
}

// PipeBytes encodes h followed by the given slices.
func PipeBytes(tb testing.TB, h *nmrpipe.Header, slices ...[]float32) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if _, err := h.WriteTo(&buf); err != nil {
		tb.Fatalf("encode header: %v", err)
	}

	raw := make([]byte, 4)
	for _, s := range slices {
		for _, v := range s {
			h.ByteOrder().PutUint32(raw, math.Float32bits(v))
			buf.Write(raw)
		}
	}

	return buf.Bytes()
}

// WritePipe writes an NMRPipe stream to dir/name and returns the path.
func WritePipe(tb testing.TB, dir, name string, h *nmrpipe.Header, slices ...[]float32) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, PipeBytes(tb, h, slices...), 0o644); err != nil {
		tb.Fatalf("write pipe: %v", err)
	}

	return path
}

// Decay returns one planar input slice sampling a decaying hypercomplex
// sinusoid at the given points. Along every axis the signal is
// exp((iω − r)·k); coefficient q takes the sine of each axis whose bit is set
// in q and the cosine of the others.
func Decay(points [][]int, amp, omega, rate float64) []float32 {
	if len(points) == 0 {
		return nil
	}

	c := 1 << len(points[0])
	n := len(points)
	out := make([]float32, c*n)
	for i, p := range points {
		for q := 0; q < c; q++ {
			out[q*n+i] = float32(bench.Decay(p, q, amp, omega, rate))
		}
	}

	return out
}
