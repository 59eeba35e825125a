package batch

import (
	"fmt"

	"github.com/example/go-camera/internal/fft"
	"github.com/example/go-camera/internal/sched"
	"github.com/example/go-camera/internal/solver"
)

// Setup describes how a schedule becomes a solvable problem.
type Setup struct {
	// Sizes are the written sizes per axis; zeros are inferred.
	Sizes []int
	// Kernels are the per-axis deconvolution parameters. Missing axes
	// contribute a factor of one.
	Kernels []sched.AxisKernel
	Options solver.Options
}

// Prepared is a packed schedule with its transform plan and parameters.
type Prepared struct {
	Problem *solver.Problem
	// Sizes are the resolved written sizes.
	Sizes []int
}

// Prepare packs s against the doubled working grid, applies the
// deconvolution weights and derives solver parameters.
func Prepare(s *sched.Schedule, su Setup) (*Prepared, error) {
	sizes, extents, err := s.Grid(su.Sizes...)
	if err != nil {
		return nil, err
	}
	if err := s.Pack(extents...); err != nil {
		return nil, err
	}

	if len(su.Kernels) > 0 {
		if err := s.ComputeWeights(su.Kernels); err != nil {
			return nil, err
		}
	}

	plan, err := fft.NewPlan(s.Dim(), extents...)
	if err != nil {
		return nil, fmt.Errorf("batch: plan: %w", err)
	}

	params, err := solver.Derive(s.Dim(), s.Len(), su.Options)
	if err != nil {
		return nil, err
	}

	return &Prepared{
		Problem: &solver.Problem{Schedule: s, Plan: plan, Params: params},
		Sizes:   sizes,
	}, nil
}
