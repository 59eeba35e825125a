package doctor_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-camera/internal/doctor"
	"github.com/example/go-camera/internal/testutil"
)

func fixedCPU() doctor.CPUInfo {
	return doctor.CPUInfo{Arch: "amd64", SIMD: []string{"SSE2", "AVX2"}}
}

// ---------------------------------------------------------------------------
// all-pass scenario
// ---------------------------------------------------------------------------

func TestRun_AllChecksPass(t *testing.T) {
	dir := t.TempDir()
	points := [][]int{{0, 0}, {1, 2}, {3, 1}}
	in := testutil.WritePipe(t, dir, "in.fid", testutil.Header(2),
		testutil.Decay(points, 1, 0.3, 0.1), testutil.Decay(points, 2, 0.3, 0.1))

	cfg := doctor.Config{
		SchedulePath: testutil.WriteSchedule(t, dir, points...),
		InputPath:    in,
		Threads:      2,
		CPU:          fixedCPU,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Fatalf("expected all checks to pass; failures: %v\n%s", result.Failures(), out.String())
	}

	for _, want := range []string{"cpu: amd64 (SSE2, AVX2)", "2D, 3 points", "output 4x4, working 8x8", "2 slices"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

// ---------------------------------------------------------------------------
// schedule problems
// ---------------------------------------------------------------------------

func TestRun_MissingScheduleFails(t *testing.T) {
	cfg := doctor.Config{
		SchedulePath: filepath.Join(t.TempDir(), "nuslist"),
		CPU:          fixedCPU,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "schedule") {
		t.Fatalf("expected schedule failure, got: %v", result.Failures())
	}
}

func TestRun_DimensionMismatchFails(t *testing.T) {
	cfg := doctor.Config{
		SchedulePath: testutil.WriteSchedule(t, t.TempDir(), []int{0}, []int{2}),
		Dims:         2,
		CPU:          fixedCPU,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "dimensionality") {
		t.Fatalf("expected dimensionality failure, got: %v", result.Failures())
	}
}

func TestRun_GridTooSmallFails(t *testing.T) {
	cfg := doctor.Config{
		SchedulePath: testutil.WriteSchedule(t, t.TempDir(), []int{0}, []int{20}),
		Sizes:        []int{8},
		CPU:          fixedCPU,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "grid") {
		t.Fatalf("expected grid failure, got: %v", result.Failures())
	}
}

// ---------------------------------------------------------------------------
// memory budget
// ---------------------------------------------------------------------------

func TestRun_MemoryBudgetFails(t *testing.T) {
	cfg := doctor.Config{
		SchedulePath: testutil.WriteSchedule(t, t.TempDir(), []int{0, 0, 0}, []int{15, 15, 15}),
		Threads:      64,
		MemoryLimit:  1 << 20,
		CPU:          fixedCPU,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "memory") {
		t.Fatalf("expected memory failure, got: %v", result.Failures())
	}
	if !strings.Contains(out.String(), doctor.FailMark) {
		t.Errorf("output should contain %q:\n%s", doctor.FailMark, out.String())
	}
}

// ---------------------------------------------------------------------------
// input header
// ---------------------------------------------------------------------------

func TestRun_InputSizeMismatchFails(t *testing.T) {
	dir := t.TempDir()
	points := [][]int{{0}, {1}}
	in := testutil.WritePipe(t, dir, "in.fid", testutil.Header(3), testutil.Decay(points, 1, 0.2, 0))

	cfg := doctor.Config{
		SchedulePath: testutil.WriteSchedule(t, dir, points...),
		InputPath:    in,
		CPU:          fixedCPU,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "input") {
		t.Fatalf("expected input failure, got: %v", result.Failures())
	}
}

func TestRun_GarbageInputFails(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.fid")
	if err := os.WriteFile(in, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg := doctor.Config{
		SchedulePath: testutil.WriteSchedule(t, dir, []int{0}),
		InputPath:    in,
		CPU:          fixedCPU,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if !hasFailureContaining(result.Failures(), "input") {
		t.Fatalf("expected input failure, got: %v", result.Failures())
	}
}

func TestRun_StdinInputSkipped(t *testing.T) {
	cfg := doctor.Config{
		SchedulePath: testutil.WriteSchedule(t, t.TempDir(), []int{0}),
		InputPath:    "-",
		CPU:          fixedCPU,
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Fatalf("unexpected failures: %v", result.Failures())
	}
	if !strings.Contains(out.String(), "input: skipped") {
		t.Errorf("output should mention skipped input:\n%s", out.String())
	}
}

func TestResult_AddFailure(t *testing.T) {
	var r doctor.Result
	r.AddFailure("external")

	if !r.Failed() || r.Failures()[0] != "external" {
		t.Fatalf("Failures = %v; want [external]", r.Failures())
	}
}

func TestDetectCPU_ReportsArchitecture(t *testing.T) {
	if info := doctor.DetectCPU(); info.Arch == "" {
		t.Fatal("DetectCPU returned an empty architecture")
	}
}

func hasFailureContaining(failures []string, substr string) bool {
	for _, f := range failures {
		if strings.Contains(f, substr) {
			return true
		}
	}

	return false
}
