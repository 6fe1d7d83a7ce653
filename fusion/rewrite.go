// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"fmt"

	"github.com/gomlx/graphfuse/graph"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// record accounts for one rewrite attempt of a candidate replacing count nodes. Corruption is
// returned, and must abort the pass. Any other error only skips the candidate.
func (r *Result) record(log logrus.FieldLogger, candidate string, count int, err error) error {
	if err != nil {
		if graph.IsCorruption(err) {
			return err
		}
		log.WithError(err).Warnf("%s not fused", candidate)
		r.Skipped++
		return nil
	}
	log.Debugf("%s fused", candidate)
	r.Modified = true
	r.Rewrites += count
	return nil
}

// pending records the nodes built for one rewrite, so they can be dropped if the rewrite is
// abandoned before any replacement.
type pending struct {
	g     *graph.Graph
	nodes []*graph.Node
}

// add records n if it was built, and passes n and err through.
func (p *pending) add(n *graph.Node, err error) (*graph.Node, error) {
	if err != nil {
		return nil, err
	}
	p.nodes = append(p.nodes, n)
	return n, nil
}

// discard drops the recorded nodes, latest first so consumers go before their producers.
func (p *pending) discard() error {
	for i := len(p.nodes) - 1; i >= 0; i-- {
		n := p.nodes[i]
		if n.IsDead() {
			continue
		}
		if err := p.g.Discard(n); err != nil {
			return err
		}
	}
	p.nodes = nil
	return nil
}

// structuralErrorf creates a graph.StructuralError reported by the pass op.
func structuralErrorf(code graph.ErrorCode, op, format string, args ...any) error {
	return errors.WithStack(&graph.StructuralError{Code: code, Op: op, Message: fmt.Sprintf(format, args...)})
}

// replaceAll replaces olds[i] by news[i]. A failure after the first replacement leaves the
// rewrite half applied and is reported as corruption.
func replaceAll(g *graph.Graph, op string, olds, news []*graph.Node) error {
	for i := range olds {
		if err := g.ReplaceNode(olds[i], news[i]); err != nil {
			if i == 0 {
				return err
			}
			return structuralErrorf(graph.Corrupt, op, "rewrite left half applied after %d of %d replacements: %v",
				i, len(olds), err)
		}
	}
	return nil
}
