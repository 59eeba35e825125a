package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-camera/internal/batch"
	"github.com/example/go-camera/internal/config"
	"github.com/example/go-camera/internal/nmrpipe"
	"github.com/example/go-camera/internal/report"
	"github.com/example/go-camera/internal/sched"
	"github.com/example/go-camera/internal/solver"
)

func newReconstructCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Reconstruct an NMRPipe stream sampled on a nonuniform schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runReconstruct(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), slog.Default())
		},
	}

	return cmd
}

func runReconstruct(ctx context.Context, cfg config.Config, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	method, err := solver.ParseMethod(cfg.Recon.Method)
	if err != nil {
		return err
	}
	layout, err := nmrpipe.ParseLayout(cfg.Recon.Layout)
	if err != nil {
		return err
	}

	s, err := sched.Load(cfg.Paths.Schedule)
	if err != nil {
		return err
	}
	d := s.Dim()
	if cfg.Grid.Dims != 0 && cfg.Grid.Dims != int(d) {
		return fmt.Errorf("schedule %s is %s, expected %dD", cfg.Paths.Schedule, d, cfg.Grid.Dims)
	}

	// The reader needs the packed grid before the header is available, and
	// the deconvolution kernels need the header's sweep widths.
	_, extents, err := s.Grid(cfg.Grid.Sizes(int(d))...)
	if err != nil {
		return err
	}
	if err := s.Pack(extents...); err != nil {
		return err
	}

	in, err := openInput(cfg.Paths.Input, stdin)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := nmrpipe.NewReader(in, s, layout)
	if err != nil {
		return err
	}
	hdr := r.Header()

	kernels := make([]sched.AxisKernel, d)
	for a, k := range cfg.Deconv.Axes()[:d] {
		sw := k.SW
		if sw == 0 {
			sw = hdr.SweepWidth(a)
		}
		kernels[a] = sched.AxisKernel{J: k.J, W: k.W, SW: sw}
	}

	prep, err := batch.Prepare(s, batch.Setup{
		Sizes:   cfg.Grid.Sizes(int(d)),
		Kernels: kernels,
		Options: solver.Options{
			Method:        method,
			Iters:         cfg.Recon.Iters,
			Delta:         cfg.Recon.Delta,
			Sigma:         cfg.Recon.Sigma,
			Lambda:        cfg.Recon.Lambda,
			Accel:         cfg.Recon.Accel,
			MaxBacktracks: cfg.Recon.MaxBacktracks,
		},
	})
	if err != nil {
		return err
	}

	slices := hdr.SliceCount()
	if slices < 1 {
		return fmt.Errorf("input header declares %d slices", slices)
	}

	outHdr := hdr.Clone()
	if err := outHdr.SetOutputSize(d, prep.Sizes...); err != nil {
		return err
	}

	out, err := openOutput(cfg.Paths.Output, stdout)
	if err != nil {
		return err
	}
	defer out.discard()

	w, err := nmrpipe.NewWriter(out, outHdr, d, prep.Sizes...)
	if err != nil {
		return err
	}

	var iterLog io.Writer
	if cfg.Paths.IterLog != "" {
		f, err := os.Create(cfg.Paths.IterLog)
		if err != nil {
			return fmt.Errorf("create iteration log: %w", err)
		}
		defer f.Close()
		iterLog = f
	}

	sum, err := batch.Run(ctx, r, w, batch.Config{
		Problem:     prep.Problem,
		Threads:     cfg.Runtime.Threads,
		Slices:      slices,
		MemoryLimit: cfg.Runtime.MemoryLimit(),
		IterLog:     iterLog,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if err := out.commit(); err != nil {
		return err
	}

	if cfg.Paths.Report == "" {
		return nil
	}

	return writeReport(cfg, prep, sum)
}

func writeReport(cfg config.Config, prep *batch.Prepared, sum batch.Summary) error {
	s, p := prep.Problem.Schedule, prep.Problem.Params

	digest, err := s.Digest()
	if err != nil {
		return err
	}

	rep := report.Report{
		Created: time.Now().UTC(),
		Input:   cfg.Paths.Input,
		Output:  cfg.Paths.Output,
		Threads: cfg.Runtime.Threads,
		Elapsed: report.FormatDuration(sum.Elapsed),
		Schedule: report.Schedule{
			Path:    cfg.Paths.Schedule,
			Dims:    int(s.Dim()),
			Points:  s.Len(),
			Grid:    prep.Sizes,
			Density: s.Density(),
			Digest:  digest,
		},
		Params: report.Params{
			Method: string(p.Method),
			Iters:  p.Iters,
			Delta:  cfg.Recon.Delta,
			Sigma:  cfg.Recon.Sigma,
			Lambda: p.Lambda,
			Accel:  cfg.Recon.Accel,
			L0:     p.L0,
			Lf:     p.Lf,
			Eps:    p.Eps,
		},
		Slices: sum.Slices,
	}

	return rep.Save(cfg.Paths.Report)
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}

	return f, nil
}

// output writes either to stdout or to a temporary file next to its
// destination that replaces the destination on commit.
type output struct {
	io.Writer
	f    *os.File
	path string
	done bool
}

func openOutput(path string, stdout io.Writer) (*output, error) {
	if path == "" || path == "-" {
		return &output{Writer: stdout}, nil
	}

	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	return &output{Writer: f, f: f, path: path}, nil
}

func (o *output) commit() error {
	o.done = true
	if o.f == nil {
		return nil
	}

	tmp := o.f.Name()
	if err := o.f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp, o.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move output into place: %w", err)
	}

	return nil
}

// discard removes the temporary file unless commit ran.
func (o *output) discard() {
	if o.done || o.f == nil {
		return
	}
	_ = o.f.Close()
	_ = os.Remove(o.f.Name())
}
