package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-camera/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the schedule, input and memory budget before a run",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			result := doctor.Run(doctor.Config{
				SchedulePath: cfg.Paths.Schedule,
				InputPath:    cfg.Paths.Input,
				Dims:         cfg.Grid.Dims,
				Sizes:        []int{cfg.Grid.X, cfg.Grid.Y, cfg.Grid.Z},
				Threads:      cfg.Runtime.Threads,
				MemoryLimit:  cfg.Runtime.MemoryLimit(),
			}, os.Stdout)

			if err := cfg.Validate(); err != nil {
				result.AddFailure(fmt.Sprintf("config: %v", err))
				_, _ = fmt.Fprintf(os.Stdout, "%s config: %v\n", doctor.FailMark, err)
			} else {
				_, _ = fmt.Fprintf(os.Stdout, "%s config: ok\n", doctor.PassMark)
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}
