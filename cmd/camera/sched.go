package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-camera/internal/config"
	"github.com/example/go-camera/internal/sched"
)

func newSchedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sched",
		Short: "Describe a sampling schedule on its working grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			return describeSchedule(cfg, cmd.OutOrStdout())
		},
	}
}

func describeSchedule(cfg config.Config, w io.Writer) error {
	s, err := sched.Load(cfg.Paths.Schedule)
	if err != nil {
		return err
	}

	d := s.Dim()
	sizes, extents, err := s.Grid(cfg.Grid.Sizes(int(d))...)
	if err != nil {
		return err
	}
	if err := s.Pack(extents...); err != nil {
		return err
	}

	digest, err := s.Digest()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "schedule:  %s\n", cfg.Paths.Schedule)
	fmt.Fprintf(w, "dims:      %d\n", int(d))
	fmt.Fprintf(w, "points:    %d\n", s.Len())
	fmt.Fprintf(w, "max index: %s\n", joinInts(s.Max()))
	fmt.Fprintf(w, "output:    %s\n", joinInts(sizes))
	fmt.Fprintf(w, "working:   %s\n", joinInts(extents))
	fmt.Fprintf(w, "density:   %.2f%%\n", 100*s.Density())
	fmt.Fprintf(w, "sha3-256:  %s\n", digest)

	return nil
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}

	return strings.Join(parts, "x")
}
