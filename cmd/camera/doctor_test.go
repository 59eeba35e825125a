package main

import (
	"path/filepath"
	"testing"

	"github.com/example/go-camera/internal/testutil"
)

func TestDoctorCmdPasses(t *testing.T) {
	dir := t.TempDir()
	points := [][]int{{0}, {1}}
	sched := testutil.WriteSchedule(t, dir, points...)
	in := testutil.WritePipe(t, dir, "in.fid", testutil.Header(1), testutil.Decay(points, 1, 0.3, 0.05))

	if _, err := execute(t, nil, "doctor", "--sched", sched, "--in", in, "--y-size", "8"); err != nil {
		t.Fatalf("doctor: %v", err)
	}
}

func TestDoctorCmdFailsOnMissingSchedule(t *testing.T) {
	_, err := execute(t, nil, "doctor", "--sched", filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("expected doctor failure")
	}
}

func TestDoctorCmdFailsOnInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	sched := testutil.WriteSchedule(t, dir, []int{0}, []int{1})

	if _, err := execute(t, nil, "doctor", "--sched", sched, "--delta", "-1"); err == nil {
		t.Fatal("expected doctor failure for invalid config")
	}
}
