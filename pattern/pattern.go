// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pattern describes subgraph shapes and finds them in a graph.
//
// A pattern is a tree built from three kinds of nodes:
//
//   - Exact(kind, children...) matches a node of that kind whose operands match the children,
//     in order.
//   - Label matches any node satisfying its dtype/shape constraints and optional predicate, and
//     binds it. A label used twice in one pattern must bind the same node both times.
//   - Skip(inner, pred) matches inner, possibly after going through any number of wrapper nodes
//     accepted by pred (following each wrapper's first operand).
//
// Example, a dot product followed by a bias addition, with the bias possibly reshaped first:
//
//	w := pattern.NewLabel(dtypes.Float32, []int{4, 1}, nil)
//	bias := pattern.Any().Named("bias")
//	p := pattern.Exact(graph.KindAdd,
//	    pattern.Exact(graph.KindDot, pattern.Any(), w),
//	    pattern.Skip(bias, pattern.KindIs(graph.KindReshape)))
//	m, err := pattern.NewMatcher(p)
//	...
//	if r := m.TryMatch(node); r.Matched {
//	    fmt.Println("bias:", r.MustBound(bias))
//	}
//
// Patterns never reference graph nodes, and matching never modifies the graph.
package pattern

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/graphfuse/graph"
)

// Pattern is one node of a pattern tree: *ExactPattern, *Label or *SkipPattern.
type Pattern interface {
	fmt.Stringer
	isPattern()
}

// Predicate is an extra condition on a graph node.
type Predicate func(n *graph.Node) bool

// KindIs returns a predicate accepting nodes of any of the given kinds.
func KindIs(kinds ...graph.Kind) Predicate {
	return func(n *graph.Node) bool {
		return slices.Contains(kinds, n.Kind())
	}
}

// And returns a predicate accepting nodes accepted by all preds.
func And(preds ...Predicate) Predicate {
	return func(n *graph.Node) bool {
		for _, pred := range preds {
			if !pred(n) {
				return false
			}
		}
		return true
	}
}

// ExactPattern matches a node of a given kind with matching operands.
type ExactPattern struct {
	kind     graph.Kind
	children []Pattern
}

// Exact creates a pattern matching nodes of the given kind whose operands match children, in order.
func Exact(kind graph.Kind, children ...Pattern) *ExactPattern {
	return &ExactPattern{kind: kind, children: children}
}

func (*ExactPattern) isPattern() {}

// Kind returns the kind matched.
func (p *ExactPattern) Kind() graph.Kind {
	return p.kind
}

// String implements fmt.Stringer.
func (p *ExactPattern) String() string {
	parts := make([]string, len(p.children))
	for i, c := range p.children {
		parts[i] = fmt.Sprint(c)
	}
	return fmt.Sprintf("%s(%s)", p.kind, strings.Join(parts, ", "))
}

// Label is a pattern variable. Its identity is the pointer: reusing the same *Label in several
// places of a pattern requires all places to bind the same node.
type Label struct {
	name  string
	dtype dtypes.DType
	dims  []int
	pred  Predicate
}

// AnyDim in a label's dimensions matches any size on that axis.
const AnyDim = -1

// NewLabel creates a label constrained by dtype (dtypes.InvalidDType for any), dims (nil for any
// shape, AnyDim for any size on one axis) and pred (nil for none).
func NewLabel(dtype dtypes.DType, dims []int, pred Predicate) *Label {
	return &Label{dtype: dtype, dims: slices.Clone(dims), pred: pred}
}

// Any creates an unconstrained label.
func Any() *Label {
	return &Label{}
}

// Where creates a label accepting nodes satisfying pred.
func Where(pred Predicate) *Label {
	return &Label{pred: pred}
}

// Named sets the name used when printing the label, and returns it.
func (l *Label) Named(name string) *Label {
	l.name = name
	return l
}

// Name returns the label name, possibly empty.
func (l *Label) Name() string {
	return l.name
}

func (*Label) isPattern() {}

// String implements fmt.Stringer.
func (l *Label) String() string {
	s := "?" + l.name
	if l.dtype != dtypes.InvalidDType {
		s += ":" + l.dtype.String()
	}
	if l.dims != nil {
		s += fmt.Sprint(l.dims)
	}
	return s
}

// Accepts reports whether n satisfies the label constraints and predicate. Bindings are not
// considered.
func (l *Label) Accepts(n *graph.Node) bool {
	if l.dtype != dtypes.InvalidDType && n.DType() != l.dtype {
		return false
	}
	if l.dims != nil {
		dims := n.Shape().Dimensions
		if len(dims) != len(l.dims) {
			return false
		}
		for i, d := range l.dims {
			if d != AnyDim && d != dims[i] {
				return false
			}
		}
	}
	return l.pred == nil || l.pred(n)
}

// concreteDims returns the label dimensions if all of them are fixed.
func (l *Label) concreteDims() ([]int, bool) {
	if l.dims == nil || slices.Contains(l.dims, AnyDim) {
		return nil, false
	}
	return l.dims, true
}

// SkipPattern matches an inner pattern behind zero or more wrapper nodes.
type SkipPattern struct {
	inner Pattern
	pred  Predicate
}

// Skip creates a pattern matching inner directly, or a node accepted by pred whose first operand
// matches Skip(inner, pred).
func Skip(inner Pattern, pred Predicate) *SkipPattern {
	return &SkipPattern{inner: inner, pred: pred}
}

func (*SkipPattern) isPattern() {}

// String implements fmt.Stringer.
func (p *SkipPattern) String() string {
	return fmt.Sprintf("Skip(%s)", p.inner)
}
