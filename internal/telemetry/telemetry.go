// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package telemetry exports matcher and pass activity as Prometheus metrics and log entries.
package telemetry

import (
	"github.com/gomlx/graphfuse/fusion"
	"github.com/gomlx/graphfuse/graph"
	"github.com/gomlx/graphfuse/pattern"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const namespace = "graphfuse"

// Metrics counts match attempts and pass results. It implements both pattern.Tracer and
// fusion.Observer.
type Metrics struct {
	matchAttempts prometheus.Counter
	matches       *prometheus.CounterVec
	passRuns      *prometheus.CounterVec
	rewrites      *prometheus.CounterVec
	skipped       *prometheus.CounterVec
}

var (
	_ pattern.Tracer  = (*Metrics)(nil)
	_ fusion.Observer = (*Metrics)(nil)
)

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		matchAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_attempts_total",
			Help:      "Number of pattern match attempts.",
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Number of successful pattern matches, by matcher.",
		}, []string{"matcher"}),
		passRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_runs_total",
			Help:      "Number of fusion pass runs, by pass.",
		}, []string{"pass"}),
		rewrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewrites_total",
			Help:      "Number of nodes replaced by fusion passes, by pass.",
		}, []string{"pass"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_groups_total",
			Help:      "Number of fusion candidates abandoned because their rewrite failed, by pass.",
		}, []string{"pass"}),
	}
	for _, c := range []prometheus.Collector{m.matchAttempts, m.matches, m.passRuns, m.rewrites, m.skipped} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering graphfuse metrics")
		}
	}
	return m, nil
}

// MatchAttempted implements pattern.Tracer.
func (m *Metrics) MatchAttempted(string, *graph.Node) {
	m.matchAttempts.Inc()
}

// MatchSucceeded implements pattern.Tracer.
func (m *Metrics) MatchSucceeded(matcher string, _ *pattern.MatchResult) {
	m.matches.WithLabelValues(matcher).Inc()
}

// PassFinished implements fusion.Observer.
func (m *Metrics) PassFinished(pass string, result fusion.Result) {
	m.passRuns.WithLabelValues(pass).Inc()
	m.rewrites.WithLabelValues(pass).Add(float64(result.Rewrites))
	m.skipped.WithLabelValues(pass).Add(float64(result.Skipped))
}

// LogTracer logs successful matches at debug level.
type LogTracer struct {
	Logger logrus.FieldLogger
}

var _ pattern.Tracer = LogTracer{}

// MatchAttempted implements pattern.Tracer. Attempts are too frequent to be logged.
func (LogTracer) MatchAttempted(string, *graph.Node) {}

// MatchSucceeded implements pattern.Tracer.
func (t LogTracer) MatchSucceeded(matcher string, result *pattern.MatchResult) {
	t.Logger.WithFields(logrus.Fields{
		"matcher": matcher,
		"root":    result.Root.String(),
		"peeled":  result.Peeled,
	}).Debug("pattern matched")
}

// Tracers combines several tracers into one. Nil entries are ignored; it returns nil if none
// is left.
func Tracers(tracers ...pattern.Tracer) pattern.Tracer {
	var list multiTracer
	for _, t := range tracers {
		if t != nil {
			list = append(list, t)
		}
	}
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return list
}

type multiTracer []pattern.Tracer

func (m multiTracer) MatchAttempted(matcher string, root *graph.Node) {
	for _, t := range m {
		t.MatchAttempted(matcher, root)
	}
}

func (m multiTracer) MatchSucceeded(matcher string, result *pattern.MatchResult) {
	for _, t := range m {
		t.MatchSucceeded(matcher, result)
	}
}
