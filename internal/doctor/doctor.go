// Package doctor provides preflight checks for a reconstruction run.
package doctor

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	vmcpu "github.com/cwbudde/algo-vecmath/cpu"
	"golang.org/x/sys/cpu"

	"github.com/example/go-camera/internal/nmrpipe"
	"github.com/example/go-camera/internal/sched"
	"github.com/example/go-camera/internal/solver"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// CPUInfo summarizes the vector extensions available to the numeric kernels.
type CPUInfo struct {
	Arch string
	SIMD []string
}

// DetectCPU inspects the running processor.
func DetectCPU() CPUInfo {
	f := vmcpu.DetectFeatures()
	info := CPUInfo{Arch: f.Architecture}
	if info.Arch == "" {
		info.Arch = runtime.GOARCH
	}

	add := func(ok bool, name string) {
		if ok {
			info.SIMD = append(info.SIMD, name)
		}
	}
	add(f.HasSSE2, "SSE2")
	add(f.HasAVX, "AVX")
	add(f.HasAVX2, "AVX2")
	add(cpu.X86.HasFMA, "FMA")
	add(f.HasAVX512, "AVX-512")
	add(f.HasNEON || cpu.ARM64.HasASIMD, "NEON")

	return info
}

// Config holds the inputs and injectable dependencies of each check.
type Config struct {
	SchedulePath string
	// InputPath is the NMRPipe input. Empty or "-" skips the header check.
	InputPath string
	// Dims is the requested dimensionality; zero accepts the schedule's.
	Dims int
	// Sizes are the requested written sizes; zeros are inferred and entries
	// beyond the schedule's dimensionality are ignored.
	Sizes       []int
	Threads     int
	MemoryLimit int64
	// CPU reports processor features. Nil uses DetectCPU.
	CPU func() CPUInfo
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(w io.Writer, check string, err error) {
	r.failures = append(r.failures, fmt.Sprintf("%s: %v", check, err))
	fmt.Fprintf(w, "%s %s: %v\n", FailMark, check, err)
}

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- cpu --------------------------------------------------------------
	detect := cfg.CPU
	if detect == nil {
		detect = DetectCPU
	}
	info := detect()
	simd := "generic"
	if len(info.SIMD) > 0 {
		simd = strings.Join(info.SIMD, ", ")
	}
	fmt.Fprintf(w, "%s cpu: %s (%s)\n", PassMark, info.Arch, simd)

	// ---- schedule ---------------------------------------------------------
	s, err := sched.Load(cfg.SchedulePath)
	if err != nil {
		res.fail(w, "schedule", err)
		return res
	}
	fmt.Fprintf(w, "%s schedule %s: %s, %d points\n", PassMark, cfg.SchedulePath, s.Dim(), s.Len())

	if cfg.Dims != 0 && cfg.Dims != int(s.Dim()) {
		res.fail(w, "dimensionality", fmt.Errorf("requested %dD, schedule is %s", cfg.Dims, s.Dim()))
		return res
	}

	// ---- grid -------------------------------------------------------------
	want := cfg.Sizes
	if len(want) > int(s.Dim()) {
		want = want[:s.Dim()]
	}
	sizes, extents, err := s.Grid(want...)
	if err == nil {
		err = s.Pack(extents...)
	}
	if err != nil {
		res.fail(w, "grid", err)
		return res
	}
	fmt.Fprintf(w, "%s grid: output %s, working %s, density %.2f%%\n",
		PassMark, formatShape(sizes), formatShape(extents), 100*s.Density())

	// ---- memory -----------------------------------------------------------
	threads := max(cfg.Threads, 1)
	per, err := solver.WorkspaceBytes(s.Dim(), extents...)
	if err != nil {
		res.fail(w, "memory", err)
	} else {
		need := per * int64(threads)
		switch {
		case cfg.MemoryLimit > 0 && need > cfg.MemoryLimit:
			res.fail(w, "memory", fmt.Errorf("%d threads need %s, limit is %s",
				threads, formatBytes(need), formatBytes(cfg.MemoryLimit)))
		default:
			fmt.Fprintf(w, "%s memory: %s for %d threads\n", PassMark, formatBytes(need), threads)
		}
	}

	// ---- input header -----------------------------------------------------
	if cfg.InputPath == "" || cfg.InputPath == "-" {
		fmt.Fprintf(w, "%s input: skipped (stdin)\n", PassMark)
		return res
	}
	if err := checkInput(cfg.InputPath, s, w); err != nil {
		res.fail(w, "input", err)
	}

	return res
}

func checkInput(path string, s *sched.Schedule, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	h, err := nmrpipe.ReadHeader(f)
	if err != nil {
		return err
	}

	slices := h.SliceCount()
	if slices < 1 {
		return fmt.Errorf("header declares %d slices", slices)
	}

	sliceBytes := int64(4 * s.Len() * s.Dim().Coeffs())
	want := int64(nmrpipe.HeaderBytes) + int64(slices)*sliceBytes
	if st.Size() != want {
		return fmt.Errorf("%s is %d bytes; %d slices of %d points need %d",
			path, st.Size(), slices, s.Len(), want)
	}

	fmt.Fprintf(w, "%s input %s: %d slices, %s, sweep widths %g/%g/%g Hz\n",
		PassMark, path, slices, h.ByteOrder(), h.SweepWidth(0), h.SweepWidth(1), h.SweepWidth(2))

	return nil
}

func formatShape(n []int) string {
	parts := make([]string, len(n))
	for i, v := range n {
		parts[i] = fmt.Sprint(v)
	}

	return strings.Join(parts, "x")
}

func formatBytes(n int64) string {
	const unit = 1 << 20
	return fmt.Sprintf("%.1f MiB", float64(n)/unit)
}
