package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/example/go-camera/internal/config"
)

// execute runs the root command with args and returns what it wrote to its
// output stream.
func execute(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()

	orig := activeCfg
	t.Cleanup(func() { activeCfg = orig })

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	if stdin != nil {
		root.SetIn(stdin)
	}
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

func TestNewRootCmd_HasExpectedSubcommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"reconstruct", "sched", "doctor", "bench", "config"}
	for _, name := range want {
		found := false

		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}

		if !found {
			t.Errorf("expected subcommand %q not found in root", name)
		}
	}
}

func TestNewRootCmd_HasPersistentConfigFlag(t *testing.T) {
	root := NewRootCmd()
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("expected --config persistent flag to be registered")
	}
	if root.PersistentFlags().Lookup("iters") == nil {
		t.Error("expected config flags to be registered as persistent flags")
	}
}

func TestSetupLogger_DoesNotPanic(_ *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		setupLogger(level)
	}
}

func TestSetupLogger_InvalidLevelFallsBackToInfo(_ *testing.T) {
	setupLogger("not-a-level")
}

func TestRequireConfig_FailsWhenNotInitialized(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.Config{}

	_, err := requireConfig()
	if err == nil {
		t.Fatal("expected error when config is not loaded")
	}
}

func TestRequireConfig_SucceedsWhenLoaded(t *testing.T) {
	orig := activeCfg

	t.Cleanup(func() { activeCfg = orig })

	activeCfg = config.DefaultConfig()

	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig returned unexpected error: %v", err)
	}

	if got.Paths.Schedule != "nuslist" {
		t.Errorf("unexpected schedule path: %q", got.Paths.Schedule)
	}
}

func TestRootLoadsFlagsIntoActiveConfig(t *testing.T) {
	dir := t.TempDir()
	sched := writeFile(t, dir, "nuslist", "0\n1\n2\n")

	if _, err := execute(t, nil, "sched", "--sched", sched, "--threads", "3", "--log-level", "debug"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if activeCfg.Runtime.Threads != 3 || activeCfg.LogLevel != "debug" {
		t.Errorf("activeCfg = %+v; want threads 3, log level debug", activeCfg)
	}
}
