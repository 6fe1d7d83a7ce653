// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/gomlx/graphfuse/fusion"
	"github.com/gomlx/graphfuse/graph"
	"github.com/gomlx/graphfuse/graphio"
	"github.com/gomlx/graphfuse/internal/telemetry"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// ValidFormats are the accepted values of the run --format flag.
var ValidFormats = []string{"text", "yaml"}

// RunOptions holds the flags of the run command.
type RunOptions struct {
	Passes  []string
	Format  string
	Metrics bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run <graph.yaml>",
		Short: "Apply fusion passes to a graph",
		Long: `Apply fusion passes to the graph read from a YAML file, and print the rewritten
graph on stdout. A summary of each pass is printed on stderr.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasses(cmd, rootOpts, opts, args[0])
		},
	}
	cmd.Flags().StringSliceVar(&opts.Passes, "passes", fusion.DefaultPassNames, "passes to run, in order")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|yaml)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print the pass and matcher counters on stderr")
	return cmd
}

func runPasses(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions, path string) error {
	if !slices.Contains(ValidFormats, opts.Format) {
		return errors.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
	}
	g, err := graphio.ReadFile(path)
	if err != nil {
		return err
	}

	logger := newLogger(rootOpts, cmd.ErrOrStderr())
	fusionOpts := fusion.DefaultOptions()
	fusionOpts.PassNames = opts.Passes
	fusionOpts.Logger = logger
	if rootOpts.Verbose {
		fusionOpts.Tracer = telemetry.LogTracer{Logger: logger}
	}
	reg := prometheus.NewRegistry()
	if opts.Metrics {
		metrics, err := telemetry.NewMetrics(reg)
		if err != nil {
			return err
		}
		fusionOpts.Tracer = telemetry.Tracers(fusionOpts.Tracer, metrics)
		fusionOpts.Observer = metrics
	}

	manager, err := fusion.NewManager(fusionOpts)
	if err != nil {
		return err
	}
	report, err := manager.Run(g)
	if report != nil {
		for _, p := range report.Passes {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: rewrites=%d skipped=%d\n", p.Name, p.Rewrites, p.Skipped)
		}
	}
	if err != nil {
		return err
	}

	if err := writeGraph(cmd.OutOrStdout(), g, opts.Format); err != nil {
		return err
	}
	if opts.Metrics {
		return writeMetrics(cmd.ErrOrStderr(), reg)
	}
	return nil
}

func writeGraph(w io.Writer, g *graph.Graph, format string) error {
	if format == "yaml" {
		return graphio.Encode(w, g)
	}
	return g.Dump(w)
}

// writeMetrics prints the gathered counters in the Prometheus text format, e.g.
// `graphfuse_rewrites_total{pass="rnn-mat"} 2`.
func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return errors.Wrapf(err, "writing metric %s", family.GetName())
		}
	}
	return nil
}
