// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/graphfuse/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f32(dims ...int) shapes.Shape {
	return shapes.Make(dtypes.Float32, dims...)
}

// must fails t if a node could not be built, e.g. must(t)(g.Parameter("x", shape)).
func must(t *testing.T) func(*graph.Node, error) *graph.Node {
	return func(n *graph.Node, err error) *graph.Node {
		t.Helper()
		require.NoError(t, err)
		return n
	}
}

// denseGraph builds add = Dot(x, w) + b.
func denseGraph(t *testing.T) (g *graph.Graph, x, w, b, dot, add *graph.Node) {
	g = graph.New("dense")
	x = must(t)(g.Parameter("x", f32(2, 4)))
	w = must(t)(g.Parameter("w", f32(4, 1)))
	b = must(t)(g.Parameter("b", f32(2, 1)))
	dot = must(t)(g.Dot(x, w))
	add = must(t)(g.Add(dot, b))
	require.NoError(t, g.Output(add))
	return
}

func TestExactMatch(t *testing.T) {
	g, x, w, b, dot, add := denseGraph(t)
	lx, lw, lb := Any().Named("x"), Any().Named("w"), Any().Named("b")
	m, err := NewMatcher(Exact(graph.KindAdd, Exact(graph.KindDot, lx, lw), lb))
	require.NoError(t, err)

	r := m.TryMatch(add)
	require.True(t, r.Matched)
	assert.Same(t, add, r.Root)
	assert.Same(t, x, r.MustBound(lx))
	assert.Same(t, w, r.MustBound(lw))
	assert.Same(t, b, r.MustBound(lb))
	assert.Len(t, r.Bindings(), 3)

	assert.False(t, m.TryMatch(dot).Matched, "kind mismatch at the root")

	swapped := must(t)(g.Add(b, dot))
	assert.False(t, m.TryMatch(swapped).Matched, "operand order is fixed")
}

func TestLabelConstraints(t *testing.T) {
	g := graph.New("labels")
	x := must(t)(g.Parameter("x", f32(2, 4)))
	i := must(t)(g.Parameter("i", shapes.Make(dtypes.Int32, 2, 4)))

	assert.True(t, NewLabel(dtypes.Float32, []int{2, 4}, nil).Accepts(x))
	assert.True(t, NewLabel(dtypes.InvalidDType, []int{AnyDim, 4}, nil).Accepts(i))
	assert.False(t, NewLabel(dtypes.Float32, nil, nil).Accepts(i))
	assert.False(t, NewLabel(dtypes.Float32, []int{4, 2}, nil).Accepts(x))
	assert.False(t, NewLabel(dtypes.Float32, []int{2, 4, 1}, nil).Accepts(x))
	assert.False(t, Where(KindIs(graph.KindSlice)).Accepts(x))
	assert.True(t, Where(And(KindIs(graph.KindParameter), func(n *graph.Node) bool {
		return n.Shape().Rank() == 2
	})).Accepts(x))
}

// TestBindingConsistency checks that a repeated label must resolve to the very same node.
func TestBindingConsistency(t *testing.T) {
	g := graph.New("binding")
	x := must(t)(g.Parameter("x", f32(3)))
	y := must(t)(g.Parameter("y", f32(3)))
	same := must(t)(g.Multiply(x, x))
	different := must(t)(g.Multiply(x, y))
	require.NoError(t, g.Output(same, different))

	l := NewLabel(dtypes.Float32, []int{3}, nil)
	m := MustNewMatcher(Exact(graph.KindMultiply, l, l))

	r := m.TryMatch(same)
	require.True(t, r.Matched)
	assert.Same(t, x, r.MustBound(l))

	r = m.TryMatch(different)
	assert.False(t, r.Matched, "x and y are equal in shape but not the same node")
	_, bound := r.Bound(l)
	assert.False(t, bound, "failed matches carry no bindings")
}

// TestSkipSemantics matches A -> W -> B and A -> B' with the same pattern.
func TestSkipSemantics(t *testing.T) {
	g := graph.New("skip")
	a := must(t)(g.Parameter("a", f32(4)))
	wrapper := must(t)(g.Reshape(a, 2, 2))
	wrapped := must(t)(g.Tanh(wrapper))
	direct := must(t)(g.Tanh(a))
	require.NoError(t, g.Output(wrapped, direct))

	inner := Where(KindIs(graph.KindParameter)).Named("a")
	m := MustNewMatcher(Exact(graph.KindTanh, Skip(inner, KindIs(graph.KindReshape))))

	r := m.TryMatch(direct)
	require.True(t, r.Matched)
	assert.Equal(t, 0, r.Peeled)
	assert.Same(t, a, r.MustBound(inner))

	r = m.TryMatch(wrapped)
	require.True(t, r.Matched)
	assert.Equal(t, 1, r.Peeled)
	assert.Same(t, a, r.MustBound(inner))

	double := must(t)(g.Tanh(must(t)(g.Reshape(wrapper, 4))))
	r = m.TryMatch(double)
	require.True(t, r.Matched)
	assert.Equal(t, 2, r.Peeled)

	notWrapper := must(t)(g.Tanh(must(t)(g.Sigmoid(a))))
	assert.False(t, m.TryMatch(notWrapper).Matched, "Sigmoid is not accepted by the skip predicate")

	// Skip as the root pattern.
	rootSkip := MustNewMatcher(Skip(Exact(graph.KindTanh, inner), KindIs(graph.KindReshape)))
	outer := must(t)(g.Reshape(direct, 2, 2))
	r = rootSkip.TryMatch(outer)
	require.True(t, r.Matched)
	assert.Equal(t, 1, r.Peeled)
	assert.Same(t, outer, r.Root)
}

// TestSkipBacktracks checks that a binding made in the zero-peel branch is undone when a later
// operand contradicts it.
func TestSkipBacktracks(t *testing.T) {
	g := graph.New("backtrack")
	a := must(t)(g.Parameter("a", f32(4)))
	r4 := must(t)(g.Reshape(a, 4))
	sum := must(t)(g.Add(r4, a))
	require.NoError(t, g.Output(sum))

	l := Any().Named("l")
	m := MustNewMatcher(Exact(graph.KindAdd, Skip(l, KindIs(graph.KindReshape)), l))
	r := m.TryMatch(sum)
	require.True(t, r.Matched)
	assert.Same(t, a, r.MustBound(l))
	assert.Equal(t, 1, r.Peeled)
}

func TestDeadNodesNeverMatch(t *testing.T) {
	g := graph.New("dead")
	x := must(t)(g.Parameter("x", f32(3)))
	sig := must(t)(g.Sigmoid(x))
	require.NoError(t, g.Output(sig))
	before := g.String()

	m := MustNewMatcher(Exact(graph.KindSigmoid, Any()))
	require.True(t, m.TryMatch(sig).Matched)
	assert.Equal(t, before, g.String(), "matching must not modify the graph")

	require.NoError(t, g.ReplaceNode(sig, must(t)(g.Sigmoid(x))))
	assert.False(t, m.TryMatch(sig).Matched)
}

func TestNewMatcherValidation(t *testing.T) {
	testCases := []struct {
		name    string
		pattern Pattern
		wantErr bool
	}{
		{"valid", Exact(graph.KindAdd, Any(), Any()), false},
		{"missing operand", Exact(graph.KindAdd, Any()), true},
		{"extra operand", Exact(graph.KindTanh, Any(), Any()), true},
		{"empty concat", Exact(graph.KindConcatenate), true},
		{"nil child", Exact(graph.KindTanh, nil), true},
		{"nil pattern", nil, true},
		{"skip without predicate", Skip(Any(), nil), true},
		{"invalid kind", Exact(graph.KindInvalid), true},
		{"elementwise shape mismatch", Exact(graph.KindAdd,
			NewLabel(dtypes.Float32, []int{2, 3}, nil), NewLabel(dtypes.Float32, []int{3, 2}, nil)), true},
		{"elementwise dtype mismatch", Exact(graph.KindMultiply,
			NewLabel(dtypes.Float32, nil, nil), NewLabel(dtypes.Int32, nil, nil)), true},
		{"elementwise wildcard", Exact(graph.KindAdd,
			NewLabel(dtypes.Float32, []int{2, AnyDim}, nil), NewLabel(dtypes.Float32, []int{3, 2}, nil)), false},
		{"dot contracting mismatch", Exact(graph.KindDot,
			NewLabel(dtypes.Float32, []int{2, 4}, nil), NewLabel(dtypes.Float32, []int{3, 1}, nil)), true},
		{"dot valid", Exact(graph.KindDot,
			NewLabel(dtypes.Float32, []int{2, 4}, nil), NewLabel(dtypes.Float32, []int{4, 1}, nil)), false},
		{"nested error", Exact(graph.KindAdd, Exact(graph.KindDot, Any()), Any()), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMatcher(tc.pattern)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.Panics(t, func() { MustNewMatcher(Exact(graph.KindAdd)) })
}

func TestMustBoundPanicsOnUnboundLabel(t *testing.T) {
	_, _, _, _, _, add := denseGraph(t)
	m := MustNewMatcher(Exact(graph.KindAdd, Any(), Any()))
	r := m.TryMatch(add)
	require.True(t, r.Matched)
	assert.Panics(t, func() { r.MustBound(Any()) })
}

type countingTracer struct {
	attempts, successes int
	names               []string
}

func (c *countingTracer) MatchAttempted(matcher string, _ *graph.Node) {
	c.attempts++
	c.names = append(c.names, matcher)
}

func (c *countingTracer) MatchSucceeded(_ string, r *MatchResult) {
	if r.Matched {
		c.successes++
	}
}

func TestTracer(t *testing.T) {
	_, _, _, _, dot, add := denseGraph(t)
	tracer := &countingTracer{}
	m := MustNewMatcher(Exact(graph.KindAdd, Any(), Any()), WithName("add"), WithTracer(tracer))
	assert.Equal(t, "add", m.Name())
	m.TryMatch(add)
	m.TryMatch(dot)
	assert.Equal(t, 2, tracer.attempts)
	assert.Equal(t, 1, tracer.successes)
	assert.Equal(t, []string{"add", "add"}, tracer.names)
}

func TestPatternString(t *testing.T) {
	p := Exact(graph.KindAdd,
		Exact(graph.KindDot, Any().Named("x"), NewLabel(dtypes.Float32, []int{4, 1}, nil).Named("w")),
		Skip(Any().Named("b"), KindIs(graph.KindReshape)))
	assert.Equal(t, "Add(Dot(?x, ?w:Float32[4 1]), Skip(?b))", p.String())
}
