// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/graphfuse/graph"
	"github.com/gomlx/graphfuse/pattern"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BatchDotName is the name of the BatchDotFusion pass.
const BatchDotName = "batch-dot"

// BatchDotFusion replaces the concatenation on axis 0 of two per-batch matrix products by a
// single BatchDot.
//
// Each concatenated operand k must be
//
//	Reshape(Dot(Reshape(Transpose*(Slice(lhs, batch k))), Reshape(Transpose*(Slice(rhs, batch k)))))
//
// where the inner reshapes drop the unit batch axis, the outer one restores it, and every
// Transpose swaps the last two axes. An odd number of transposes on one side sets the matching
// transpose flag of the BatchDot.
type BatchDotFusion struct {
	logger   logrus.FieldLogger
	matcher  *pattern.Matcher
	lhs, rhs *pattern.Label
}

var _ Pass = (*BatchDotFusion)(nil)

// NewBatchDotFusion creates the pass.
func NewBatchDotFusion(opts Options) *BatchDotFusion {
	rank3 := []int{pattern.AnyDim, pattern.AnyDim, pattern.AnyDim}
	lhs := pattern.NewLabel(dtypes.InvalidDType, rank3, nil).Named("lhs")
	rhs := pattern.NewLabel(dtypes.InvalidDType, rank3, nil).Named("rhs")
	operand := func(param *pattern.Label) pattern.Pattern {
		return pattern.Exact(graph.KindReshape,
			pattern.Skip(pattern.Exact(graph.KindSlice, param), isInnerSwap))
	}
	p := pattern.Exact(graph.KindReshape, pattern.Exact(graph.KindDot, operand(lhs), operand(rhs)))
	return &BatchDotFusion{
		logger:  opts.logger(),
		matcher: pattern.MustNewMatcher(p, opts.matcherOptions(BatchDotName)...),
		lhs:     lhs,
		rhs:     rhs,
	}
}

// Name implements Pass.
func (p *BatchDotFusion) Name() string {
	return BatchDotName
}

// batchDotPlan is a concatenation found to be a BatchDot.
type batchDotPlan struct {
	concat                     *graph.Node
	lhs, rhs                   *graph.Node
	transposeLHS, transposeRHS bool
}

func (plan *batchDotPlan) stale() bool {
	return plan.concat.IsDead() || plan.lhs.IsDead() || plan.rhs.IsDead()
}

// Run implements Pass.
func (p *BatchDotFusion) Run(g *graph.Graph) (Result, error) {
	var plans []*batchDotPlan
	for _, n := range g.OrderedNodes() {
		if n.Kind() != graph.KindConcatenate || n.Attrs().(graph.ConcatAttrs).Axis != 0 {
			continue
		}
		if plan := p.identify(n); plan != nil {
			plans = append(plans, plan)
		}
	}

	var result Result
	for _, plan := range plans {
		if plan.concat.IsDead() {
			continue
		}
		if plan.stale() {
			// An earlier rewrite replaced one of the operands: check again against the current graph.
			if plan = p.identify(plan.concat); plan == nil {
				continue
			}
		}
		log := p.logger.WithFields(logrus.Fields{"pass": BatchDotName, "node": plan.concat.String()})
		if err := result.record(log, "concatenation", 1, p.rewrite(g, plan)); err != nil {
			return result, err
		}
	}
	return result, nil
}

// identify returns the BatchDot equivalent to concat, or nil.
//
// Both operands of the concatenation must match, read the same lhs and rhs, select their batch
// at the operand's position, and agree on the transpose flags.
func (p *BatchDotFusion) identify(concat *graph.Node) *batchDotPlan {
	if concat.NumInputs() != 2 {
		return nil
	}
	var plans []*batchDotPlan
	for k, operand := range concat.Inputs() {
		r := p.matcher.TryMatch(operand)
		if !r.Matched || !isBatchRestore(r.Root) {
			continue
		}
		dot := r.Root.Input(0)
		lhsSlice, lhsWrappers := unwrapToSlice(dot.Input(0))
		rhsSlice, rhsWrappers := unwrapToSlice(dot.Input(1))
		if !selectsBatch(lhsSlice, k) || !selectsBatch(rhsSlice, k) ||
			!isBatchDrop(dot.Input(0)) || !isBatchDrop(dot.Input(1)) {
			continue
		}
		plans = append(plans, &batchDotPlan{
			concat:       concat,
			lhs:          r.MustBound(p.lhs),
			rhs:          r.MustBound(p.rhs),
			transposeLHS: transposedByWrappers(lhsWrappers),
			transposeRHS: transposedByWrappers(rhsWrappers),
		})
	}
	if len(plans) != 2 {
		return nil
	}
	first, second := plans[0], plans[1]
	if first.lhs != second.lhs || first.rhs != second.rhs ||
		first.transposeLHS != second.transposeLHS || first.transposeRHS != second.transposeRHS {
		return nil
	}
	return first
}

func (p *BatchDotFusion) rewrite(g *graph.Graph, plan *batchDotPlan) error {
	fused, err := g.BatchDot(plan.lhs, plan.rhs, plan.transposeLHS, plan.transposeRHS)
	if err != nil {
		return err
	}
	if err := g.ReplaceNode(plan.concat, fused); err != nil {
		if !graph.IsCorruption(err) {
			if discardErr := g.Discard(fused); discardErr != nil {
				return errors.Wrapf(discardErr, "dropping %s after %v", fused, err)
			}
		}
		return err
	}
	return nil
}

// isInnerSwap accepts a Transpose swapping the last two axes of a rank-3 value.
func isInnerSwap(n *graph.Node) bool {
	return n.Kind() == graph.KindTranspose && n.Shape().Rank() == 3 &&
		n.Attrs().(graph.TransposeAttrs).IsSwapLastTwo()
}

// unwrapToSlice follows the first operand of Reshape and Transpose nodes, starting at n, and
// returns the node reached along with the number of wrappers passed.
func unwrapToSlice(n *graph.Node) (*graph.Node, int) {
	count := 0
	for n.Kind() == graph.KindReshape || n.Kind() == graph.KindTranspose {
		count++
		n = n.Input(0)
	}
	return n, count
}

// transposedByWrappers tells whether the wrappers counted by unwrapToSlice transpose the matrix.
// The first one is the reshape dropping the batch axis; each one after it swaps the matrix axes.
func transposedByWrappers(count int) bool {
	return (count-1)%2 == 1
}

// selectsBatch reports whether slice reads all of batch k of a rank-3 value.
func selectsBatch(slice *graph.Node, k int) bool {
	if slice.Kind() != graph.KindSlice {
		return false
	}
	dims := slice.Input(0).Shape().Dimensions
	if len(dims) != 3 {
		return false
	}
	a := slice.Attrs().(graph.SliceAttrs)
	return slices.Equal(a.Starts, []int{k, 0, 0}) &&
		slices.Equal(a.Limits, []int{k + 1, dims[1], dims[2]}) &&
		slices.Equal(a.Strides, []int{1, 1, 1})
}

// isBatchDrop reports whether reshape turns [1, M, N] into [M, N].
func isBatchDrop(reshape *graph.Node) bool {
	in := reshape.Input(0).Shape().Dimensions
	return len(in) == 3 && in[0] == 1 && slices.Equal(reshape.Shape().Dimensions, in[1:])
}

// isBatchRestore reports whether reshape turns [M, N] into [1, M, N].
func isBatchRestore(reshape *graph.Node) bool {
	in := reshape.Input(0).Shape().Dimensions
	out := reshape.Shape().Dimensions
	return len(out) == len(in)+1 && out[0] == 1 && slices.Equal(out[1:], in)
}
