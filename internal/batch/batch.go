// Package batch drives the reconstruction of a stream of slices. Slices are
// read sequentially in chunks of one per worker, solved concurrently and
// written back in input order.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-camera/internal/arr"
	"github.com/example/go-camera/internal/report"
	"github.com/example/go-camera/internal/solver"
)

var (
	// ErrMemoryBudget is returned before any allocation when the workspaces
	// for the requested thread count would exceed the memory limit.
	ErrMemoryBudget = errors.New("batch: memory budget exceeded")
	// ErrTruncated is returned when the input ends before the expected
	// number of slices.
	ErrTruncated = errors.New("batch: input ended early")
)

// Source yields measured slices. ReadSlice returns io.EOF once the input is
// exhausted.
type Source interface {
	ReadSlice(dst *arr.Array) error
}

// Sink consumes reconstructed slices in input order.
type Sink interface {
	WriteSlice(src *arr.Array) error
}

// Config controls a batch run.
type Config struct {
	Problem *solver.Problem
	// Threads is the number of slices solved concurrently.
	Threads int
	// Slices is the number of slices to process. Zero reads until EOF.
	Slices int
	// MemoryLimit caps workspace memory in bytes. Zero disables the check.
	MemoryLimit int64
	// IterLog receives one line per solver iteration. Lines of a slice are
	// contiguous and slices appear in input order.
	IterLog io.Writer
	Logger  *slog.Logger
}

// Summary describes a finished run.
type Summary struct {
	Slices  []report.Slice
	Elapsed time.Duration
}

type worker struct {
	ws  *solver.Workspace
	log []byte
	res solver.Result
	id  int
}

// Run reconstructs every slice of src into dst.
func Run(ctx context.Context, src Source, dst Sink, cfg Config) (Summary, error) {
	start := time.Now()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Threads < 1 {
		return Summary{}, fmt.Errorf("batch: thread count %d must be positive", cfg.Threads)
	}
	if cfg.Problem == nil {
		return Summary{}, errors.New("batch: missing problem")
	}
	if err := cfg.Problem.Check(); err != nil {
		return Summary{}, err
	}

	plan := cfg.Problem.Plan
	d, extents := plan.Dim(), plan.Extents()

	threads := cfg.Threads
	if cfg.Slices > 0 {
		threads = min(threads, cfg.Slices)
	}

	need, err := Footprint(cfg.Problem, threads)
	if err != nil {
		return Summary{}, err
	}
	if cfg.MemoryLimit > 0 && need > cfg.MemoryLimit {
		return Summary{}, fmt.Errorf("%w: %d workspaces need %d bytes, limit is %d",
			ErrMemoryBudget, threads, need, cfg.MemoryLimit)
	}

	workers := make([]*worker, threads)
	for i := range workers {
		ws, err := solver.NewWorkspace(d, extents...)
		if err != nil {
			return Summary{}, err
		}
		workers[i] = &worker{ws: ws}
	}
	defer func() {
		for _, w := range workers {
			w.ws.Release()
		}
	}()

	logger.Info("batch started",
		"dims", int(d),
		"grid", extents,
		"threads", threads,
		"slices", cfg.Slices,
		"workspace_bytes", need,
	)

	var sum Summary
	done := 0
	for cfg.Slices == 0 || done < cfg.Slices {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		want := threads
		if cfg.Slices > 0 {
			want = min(want, cfg.Slices-done)
		}

		n, eof, err := fill(src, workers[:want], done)
		if err != nil {
			return sum, err
		}
		if eof && cfg.Slices > 0 {
			return sum, fmt.Errorf("%w: failed to read slice %d of %d", ErrTruncated, done+n+1, cfg.Slices)
		}
		if n == 0 {
			break
		}

		if err := solveChunk(cfg.Problem, workers[:n], cfg.IterLog != nil); err != nil {
			return sum, err
		}

		for _, w := range workers[:n] {
			if err := dst.WriteSlice(w.ws.Estimate()); err != nil {
				return sum, fmt.Errorf("batch: failed to write slice %d: %w", w.id, err)
			}
			if cfg.IterLog != nil {
				if _, err := cfg.IterLog.Write(w.log); err != nil {
					return sum, fmt.Errorf("batch: write iteration log: %w", err)
				}
			}

			entry := report.NewSlice(w.id, w.res, report.Measure(w.ws.Estimate()))
			sum.Slices = append(sum.Slices, entry)
			logger.Debug("slice reconstructed",
				"slice", w.id,
				"iters", w.res.Iters,
				"objective", w.res.Objective,
				"backtracks", w.res.Backtracks,
			)
		}
		done += n

		if eof {
			break
		}
	}

	sum.Elapsed = time.Since(start)
	logger.Info("batch finished", "slices", done, "elapsed", sum.Elapsed)

	return sum, nil
}

// Footprint returns the workspace memory a run with the given thread count
// allocates.
func Footprint(pr *solver.Problem, threads int) (int64, error) {
	per, err := solver.WorkspaceBytes(pr.Plan.Dim(), pr.Plan.Extents()...)
	if err != nil {
		return 0, err
	}

	return per * int64(threads), nil
}

// fill reads up to len(workers) slices. eof reports that the source ended
// before the chunk was full.
func fill(src Source, workers []*worker, done int) (n int, eof bool, err error) {
	for i, w := range workers {
		err := src.ReadSlice(w.ws.Measured())
		if errors.Is(err, io.EOF) {
			return i, true, nil
		}
		if err != nil {
			return i, false, fmt.Errorf("batch: failed to read slice %d: %w", done+i+1, err)
		}
		w.id = done + i + 1
	}

	return len(workers), false, nil
}

func solveChunk(pr *solver.Problem, workers []*worker, record bool) error {
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			w.log = w.log[:0]

			var obs solver.Observer
			if record {
				obs = solver.ObserverFunc(func(r solver.Record) {
					w.log = r.AppendText(w.log)
				})
			}

			res, err := solver.Solve(w.ws, pr, w.id, obs)
			w.res = res

			return err
		})
	}

	return g.Wait()
}
