package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-camera/internal/bench"
	"github.com/example/go-camera/internal/config"
	"github.com/example/go-camera/internal/solver"
)

func newBenchCmd() *cobra.Command {
	var (
		opts      benchOptions
		maxIterMS float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark reconstruction of a synthetic slice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if opts.Runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if opts.Format != "table" && opts.Format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			sp, err := benchSpec(cfg, opts)
			if err != nil {
				return err
			}

			results, err := runBench(cmd.Context(), sp, opts)
			if err != nil {
				return err
			}

			durations := make([]time.Duration, len(results))
			var total time.Duration
			iters := 0
			for i, r := range results {
				durations[i] = r.Duration
				total += r.Duration
				iters += r.Iters
			}
			stats := bench.ComputeStats(durations)

			writeBench(cmd.OutOrStdout(), opts.Format, results, stats)

			var perIter time.Duration
			if iters > 0 {
				perIter = total / time.Duration(iters)
			}

			return bench.CheckIterThreshold(perIter, time.Duration(maxIterMS*float64(time.Millisecond)))
		},
	}

	cmd.Flags().IntVar(&opts.Runs, "runs", 5, "Number of reconstruction runs")
	cmd.Flags().StringVar(&opts.Format, "format", "table", "Output format: table|json")
	cmd.Flags().IntVar(&opts.Size, "size", bench.DefaultSpec().Size, "Written size of every axis")
	cmd.Flags().Float64Var(&opts.Density, "density", bench.DefaultSpec().Density, "Sampled fraction of the grid")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", bench.DefaultSpec().Seed, "Schedule random seed")
	cmd.Flags().StringVar(&opts.CPUProfile, "cpuprofile", "", "Write a CPU profile of all runs to this file")
	cmd.Flags().Float64Var(&maxIterMS, "max-iter-ms", 0, "Exit non-zero if the mean iteration time exceeds this many ms (0 = disabled)")

	return cmd
}

type benchOptions struct {
	Runs       int
	Format     string
	Size       int
	Density    float64
	Seed       uint64
	CPUProfile string
}

// benchSpec takes dimensionality, iterations and method from the loaded
// configuration and the problem shape from the bench flags.
func benchSpec(cfg config.Config, opts benchOptions) (bench.Spec, error) {
	sp := bench.DefaultSpec()
	if cfg.Grid.Dims != 0 {
		sp.Dims = cfg.Grid.Dims
	}
	sp.Size = opts.Size
	sp.Density = opts.Density
	sp.Seed = opts.Seed
	sp.Iters = cfg.Recon.Iters

	method, err := solver.ParseMethod(cfg.Recon.Method)
	if err != nil {
		return bench.Spec{}, err
	}
	sp.Method = method

	return sp, nil
}

func runBench(ctx context.Context, sp bench.Spec, opts benchOptions) ([]bench.RunResult, error) {
	c, err := bench.NewCase(sp)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if opts.CPUProfile != "" {
		f, err := os.Create(opts.CPUProfile)
		if err != nil {
			return nil, fmt.Errorf("create cpuprofile: %w", err)
		}
		defer f.Close()

		if err := pprof.StartCPUProfile(f); err != nil {
			return nil, fmt.Errorf("start cpuprofile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	results := make([]bench.RunResult, 0, opts.Runs)
	for i := range opts.Runs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			r      bench.RunResult
			runErr error
		)
		pprof.Do(ctx, pprof.Labels("run", strconv.Itoa(i+1)), func(context.Context) {
			r, runErr = c.Run(i)
		})
		if runErr != nil {
			return nil, fmt.Errorf("run %d failed: %w", i+1, runErr)
		}

		results = append(results, r)
	}

	return results, nil
}

func writeBench(w io.Writer, format string, results []bench.RunResult, stats bench.Stats) {
	switch format {
	case "json":
		bench.FormatJSON(results, stats, w)
	default:
		bench.FormatTable(results, stats, w)
	}
}
