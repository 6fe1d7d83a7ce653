// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fusion rewrites recognized subgraphs of a graph.Graph into fused equivalents.
//
// Each Pass scans the graph once, read-only, then applies its rewrites with
// graph.ReplaceNode. The passes available are:
//
//   - "rnn-mat": merges the per time step matrix products of an unrolled recurrent layer
//     sharing the same data, weights and bias into a single product over all time steps.
//   - "batch-dot": replaces the concatenation of per-batch matrix products by a BatchDot.
//   - "sigmoid-multiply": replaces the product of two activations by a SigmoidMultiply.
//
// A Manager runs a list of passes in order:
//
//	m, err := fusion.NewManager(fusion.DefaultOptions())
//	if err != nil { ... }
//	report, err := m.Run(g)
package fusion

import (
	"io"

	"github.com/gomlx/graphfuse/graph"
	"github.com/gomlx/graphfuse/pattern"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Pass is one graph rewrite.
type Pass interface {
	Name() string

	// Run rewrites g in place. An error means the graph can no longer be trusted.
	Run(g *graph.Graph) (Result, error)
}

// Result summarizes one pass invocation.
type Result struct {
	// Modified is true if at least one rewrite was applied.
	Modified bool

	// Rewrites counts the nodes replaced.
	Rewrites int

	// Skipped counts the candidates abandoned because rewriting them failed.
	Skipped int
}

// Observer is notified after each pass run by a Manager.
type Observer interface {
	PassFinished(pass string, result Result)
}

// Options configures the passes and the Manager.
type Options struct {
	// PassNames lists the passes a Manager runs, in order.
	PassNames []string

	// Logger receives pass progress. Skipped candidates are logged at warning level, rewrites at
	// debug level.
	Logger logrus.FieldLogger

	// Tracer, if not nil, is given to every matcher created by the passes.
	Tracer pattern.Tracer

	// Observer, if not nil, is notified after every pass run.
	Observer Observer
}

// DefaultPassNames is the pass pipeline used by DefaultOptions.
var DefaultPassNames = []string{RNNMatName, BatchDotName, SigmoidMultiplyName}

// DefaultOptions returns the default pipeline with logging disabled.
func DefaultOptions() Options {
	return Options{
		PassNames: append([]string(nil), DefaultPassNames...),
		Logger:    discardLogger(),
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// logger returns the configured logger, or one discarding everything.
func (o Options) logger() logrus.FieldLogger {
	if o.Logger == nil {
		return discardLogger()
	}
	return o.Logger
}

// matcherOptions returns the matcher options for a matcher of the given name.
func (o Options) matcherOptions(name string) []pattern.Option {
	opts := []pattern.Option{pattern.WithName(name)}
	if o.Tracer != nil {
		opts = append(opts, pattern.WithTracer(o.Tracer))
	}
	return opts
}

// PassByName creates the pass with the given name.
func PassByName(name string, opts Options) (Pass, error) {
	switch name {
	case RNNMatName:
		return NewRNNMatFusion(opts), nil
	case BatchDotName:
		return NewBatchDotFusion(opts), nil
	case SigmoidMultiplyName:
		return NewSigmoidMultiplyFusion(opts), nil
	}
	return nil, errors.Errorf("unknown pass %q, known passes are %v", name, DefaultPassNames)
}

// Manager runs a sequence of passes.
type Manager struct {
	passes   []Pass
	logger   logrus.FieldLogger
	observer Observer
}

// NewManager creates the passes named in opts.PassNames.
func NewManager(opts Options) (*Manager, error) {
	passes := make([]Pass, 0, len(opts.PassNames))
	for _, name := range opts.PassNames {
		p, err := PassByName(name, opts)
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	return NewManagerWithPasses(opts, passes...), nil
}

// NewManagerWithPasses creates a Manager running the given passes, in order. opts.PassNames is
// ignored.
func NewManagerWithPasses(opts Options, passes ...Pass) *Manager {
	return &Manager{passes: passes, logger: opts.logger(), observer: opts.Observer}
}

// Passes returns the names of the passes run, in order.
func (m *Manager) Passes() []string {
	names := make([]string, len(m.passes))
	for i, p := range m.passes {
		names[i] = p.Name()
	}
	return names
}

// PassReport is the result of one pass within a Manager run.
type PassReport struct {
	Name string
	Result
}

// Report is the outcome of a Manager run.
type Report struct {
	// RunID identifies the run in the logs.
	RunID  string
	Graph  string
	Passes []PassReport
}

// Modified reports whether any pass modified the graph.
func (r *Report) Modified() bool {
	for _, p := range r.Passes {
		if p.Modified {
			return true
		}
	}
	return false
}

// Rewrites returns the total number of rewrites over all passes.
func (r *Report) Rewrites() int {
	total := 0
	for _, p := range r.Passes {
		total += p.Rewrites
	}
	return total
}

// Run applies the passes to g in order. It stops at the first pass returning an error, and
// returns the report of the passes run so far along with it.
func (m *Manager) Run(g *graph.Graph) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Graph: g.Name()}
	log := m.logger.WithFields(logrus.Fields{"run_id": report.RunID, "graph": g.Name()})
	for _, p := range m.passes {
		result, err := p.Run(g)
		report.Passes = append(report.Passes, PassReport{Name: p.Name(), Result: result})
		if m.observer != nil {
			m.observer.PassFinished(p.Name(), result)
		}
		passLog := log.WithFields(logrus.Fields{
			"pass":     p.Name(),
			"rewrites": result.Rewrites,
			"skipped":  result.Skipped,
		})
		if err != nil {
			passLog.WithError(err).Error("pass failed")
			return report, errors.Wrapf(err, "pass %q on graph %q", p.Name(), g.Name())
		}
		passLog.Info("pass finished")
	}
	return report, nil
}
