// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/graphfuse/graph"
	"github.com/gomlx/graphfuse/pattern"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SigmoidMultiplyName is the name of the SigmoidMultiplyFusion pass.
const SigmoidMultiplyName = "sigmoid-multiply"

// SigmoidMultiplyFusion replaces Multiply(act(x), act(y)), where each act is Sigmoid or Tanh,
// by SigmoidMultiply(x, y). The activations themselves are kept if anything else reads them.
type SigmoidMultiplyFusion struct {
	logger   logrus.FieldLogger
	matcher  *pattern.Matcher
	lhs, rhs *pattern.Label
}

var _ Pass = (*SigmoidMultiplyFusion)(nil)

// NewSigmoidMultiplyFusion creates the pass.
func NewSigmoidMultiplyFusion(opts Options) *SigmoidMultiplyFusion {
	isActivation := pattern.KindIs(graph.KindSigmoid, graph.KindTanh)
	lhs := pattern.Where(isActivation).Named("lhs")
	rhs := pattern.Where(isActivation).Named("rhs")
	return &SigmoidMultiplyFusion{
		logger:  opts.logger(),
		matcher: pattern.MustNewMatcher(pattern.Exact(graph.KindMultiply, lhs, rhs), opts.matcherOptions(SigmoidMultiplyName)...),
		lhs:     lhs,
		rhs:     rhs,
	}
}

// Name implements Pass.
func (p *SigmoidMultiplyFusion) Name() string {
	return SigmoidMultiplyName
}

// Run implements Pass.
func (p *SigmoidMultiplyFusion) Run(g *graph.Graph) (Result, error) {
	var matches []*pattern.MatchResult
	for _, n := range g.OrderedNodes() {
		if n.Kind() != graph.KindMultiply {
			continue
		}
		if r := p.matcher.TryMatch(n); r.Matched {
			matches = append(matches, r)
		}
	}

	var result Result
	for _, r := range matches {
		log := p.logger.WithFields(logrus.Fields{"pass": SigmoidMultiplyName, "node": r.Root.String()})
		if err := result.record(log, "multiply", 1, p.rewrite(g, r)); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (p *SigmoidMultiplyFusion) rewrite(g *graph.Graph, r *pattern.MatchResult) error {
	lhs, rhs := r.MustBound(p.lhs), r.MustBound(p.rhs)
	if r.Root.IsDead() || lhs.IsDead() || rhs.IsDead() {
		return errors.Errorf("%s was removed by an earlier rewrite", r.Root)
	}
	fused, err := g.SigmoidMultiply(lhs.Input(0), rhs.Input(0), activationOf(lhs), activationOf(rhs))
	if err != nil {
		return err
	}
	if err := g.ReplaceNode(r.Root, fused); err != nil {
		if !graph.IsCorruption(err) {
			if discardErr := g.Discard(fused); discardErr != nil {
				return errors.Wrapf(discardErr, "dropping %s after %v", fused, err)
			}
		}
		return err
	}
	return nil
}

func activationOf(n *graph.Node) graph.Activation {
	if n.Kind() == graph.KindTanh {
		return graph.ActivationTanh
	}
	return graph.ActivationSigmoid
}
