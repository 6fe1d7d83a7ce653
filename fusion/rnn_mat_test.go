// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"testing"

	"github.com/gomlx/graphfuse/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rnnSteps adds the unrolled time steps at the given offsets of a recurrent layer reading data
// [batch, steps, features], weights [features*units] and bias [units], and returns the Add node
// of each step. The three parameters are created first, in that order.
func rnnSteps(t *testing.T, g *graph.Graph, batch, steps, features, units int, offsets ...int) []*graph.Node {
	t.Helper()
	data := must(t)(g.Parameter("data", f32(batch, steps, features)))
	weights := must(t)(g.Parameter("weights", f32(features*units)))
	bias := must(t)(g.Parameter("bias", f32(units)))
	adds := make([]*graph.Node, len(offsets))
	for i, step := range offsets {
		slice := must(t)(g.Slice(data, []int{0, step, 0}, []int{batch, step + 1, features}, nil))
		x := must(t)(g.Reshape(slice, batch, features))
		w := must(t)(g.Reshape(weights, features, units))
		dot := must(t)(g.Dot(x, w))
		b := must(t)(g.BroadcastInDim(bias, []int{batch, units}, []int{1}))
		adds[i] = must(t)(g.Add(dot, b))
	}
	return adds
}

// TestRNNMatFusesTwoSteps checks the rewrite of a layer unrolled over two time steps.
func TestRNNMatFusesTwoSteps(t *testing.T) {
	g := graph.New("rnn")
	adds := rnnSteps(t, g, 2, 2, 4, 1, 0, 1)
	require.NoError(t, g.Output(adds...))
	data, weights, bias := g.Node(0), g.Node(1), g.Node(2)
	slices := []*graph.Node{adds[0].Input(0).Input(0).Input(0), adds[1].Input(0).Input(0).Input(0)}

	result := runTwice(t, NewRNNMatFusion(DefaultOptions()), g)
	assert.Equal(t, Result{Modified: true, Rewrites: 2}, result)

	outputs := g.Outputs()
	require.Len(t, outputs, 2)
	for step, out := range outputs {
		require.Equal(t, graph.KindSlice, out.Kind())
		assert.Equal(t, graph.SliceAttrs{
			Starts:  []int{step, 0},
			Limits:  []int{4, 1},
			Strides: []int{2, 1},
		}, out.Attrs())
		assert.Equal(t, []int{2, 1}, out.Shape().Dimensions)
		assert.True(t, adds[step].IsDead())
		assert.True(t, slices[step].IsDead())
	}

	sum := outputs[0].Input(0)
	assert.Same(t, sum, outputs[1].Input(0), "both steps read the same fused product")
	require.Equal(t, graph.KindAdd, sum.Kind())
	assert.Equal(t, []int{4, 1}, sum.Shape().Dimensions)

	dot := sum.Input(0)
	require.Equal(t, graph.KindDot, dot.Kind())
	flatData, reshapedWeights := dot.Input(0), dot.Input(1)
	assert.Same(t, data, flatData.Input(0))
	assert.Equal(t, []int{4, 4}, flatData.Shape().Dimensions)
	assert.Same(t, weights, reshapedWeights.Input(0))
	assert.Equal(t, []int{4, 1}, reshapedWeights.Shape().Dimensions)

	broadcast := sum.Input(1)
	require.Equal(t, graph.KindBroadcastInDim, broadcast.Kind())
	assert.Same(t, bias, broadcast.Input(0))
	assert.Equal(t, graph.BroadcastAttrs{Dimensions: []int{4, 1}, Axes: []int{1}}, broadcast.Attrs())

	assert.Equal(t, []*graph.Node{flatData}, data.Consumers(), "the per step slices are gone")
}

func TestRNNMatStridesByTimeSteps(t *testing.T) {
	g := graph.New("rnn3")
	adds := rnnSteps(t, g, 2, 3, 4, 5, 0, 2)
	require.NoError(t, g.Output(adds...))

	result := runTwice(t, NewRNNMatFusion(DefaultOptions()), g)
	assert.Equal(t, 2, result.Rewrites)
	last := g.Outputs()[1]
	assert.Equal(t, graph.SliceAttrs{Starts: []int{2, 0}, Limits: []int{6, 5}, Strides: []int{3, 1}}, last.Attrs())
	assert.Equal(t, []int{2, 5}, last.Shape().Dimensions)
}

func TestRNNMatLeavesSingleStepAlone(t *testing.T) {
	g := graph.New("single")
	adds := rnnSteps(t, g, 2, 2, 4, 1, 1)
	require.NoError(t, g.Output(adds...))
	before := g.String()

	result, err := NewRNNMatFusion(DefaultOptions()).Run(g)
	require.NoError(t, err)
	assert.False(t, result.Modified)
	assert.Equal(t, before, g.String())
}

func TestRNNMatRequiresSingleTimeStepSlices(t *testing.T) {
	g := graph.New("wide")
	data := must(t)(g.Parameter("data", f32(2, 4, 4)))
	weights := must(t)(g.Parameter("weights", f32(4)))
	bias := must(t)(g.Parameter("bias", f32(1)))
	for step := 0; step < 2; step++ {
		// Two time steps per slice, folded into the batch.
		slice := must(t)(g.Slice(data, []int{0, 2 * step, 0}, []int{2, 2*step + 2, 4}, nil))
		x := must(t)(g.Reshape(slice, 4, 4))
		dot := must(t)(g.Dot(x, must(t)(g.Reshape(weights, 4, 1))))
		require.NoError(t, g.Output(must(t)(g.Add(dot, must(t)(g.BroadcastInDim(bias, []int{4, 1}, []int{1}))))))
	}
	result, err := NewRNNMatFusion(DefaultOptions()).Run(g)
	require.NoError(t, err)
	assert.False(t, result.Modified)
}

func TestScanGroups(t *testing.T) {
	g := graph.New("groups")
	first := rnnSteps(t, g, 2, 2, 4, 1, 0, 1)
	second := rnnSteps(t, g, 3, 2, 4, 1, 0, 1)
	single := rnnSteps(t, g, 1, 2, 4, 1, 0)
	require.NoError(t, g.Output(append(append(first, second...), single...)...))

	p := NewRNNMatFusion(DefaultOptions())
	groups := ScanGroups(g, p.roles, acceptRNNStep)
	require.Len(t, groups, 2, "the single step layer forms no group")

	assert.Equal(t, RoleKey("0,1,2"), groups[0].Key)
	require.Len(t, groups[0].Members, 2)
	assert.Same(t, first[0], groups[0].Members[0].Node)
	assert.Same(t, first[1], groups[0].Members[1].Node)
	assert.Equal(t, graph.KindSlice, groups[0].Members[0].Matched[roleData].Kind())
	assert.Equal(t, graph.KindReshape, groups[0].Members[0].Matched[roleWeights].Kind())
	assert.Equal(t, graph.KindBroadcastInDim, groups[0].Members[0].Matched[roleBias].Kind())

	secondDot := second[0].Input(0)
	assert.Equal(t, []*graph.Node{
		secondDot.Input(0).Input(0).Input(0),
		secondDot.Input(1).Input(0),
		second[0].Input(1).Input(0),
	}, groups[1].Params)
	assert.Equal(t, RoleKey("15,16,17"), groups[1].Key)

	result, err := p.Run(g)
	require.NoError(t, err)
	assert.Equal(t, Result{Modified: true, Rewrites: 4}, result)
}

// TestRNNMatSkipsInconsistentGroup checks that a group whose extractors cannot replace its
// members is abandoned without leaving anything behind.
func TestRNNMatSkipsInconsistentGroup(t *testing.T) {
	g := graph.New("inconsistent")
	narrow := rnnSteps(t, g, 2, 2, 4, 1, 0, 1)
	wide := rnnSteps(t, g, 2, 2, 4, 3, 0, 1)
	require.NoError(t, g.Output(append(narrow, wide...)...))
	before := g.String()
	numNodes := g.NumNodes()

	p := NewRNNMatFusion(DefaultOptions())
	groups := ScanGroups(g, p.roles, acceptRNNStep)
	require.Len(t, groups, 2)
	mixed := &Group{
		Key:     groups[0].Key,
		Params:  groups[0].Params,
		Members: []Member{groups[0].Members[0], groups[1].Members[1]},
	}
	err := p.fuseGroup(g, mixed)
	require.Error(t, err)
	assert.True(t, graph.IsCode(err, graph.ShapeMismatch), "got %v", err)
	assert.Equal(t, before, g.String(), "abandoned group must leave the graph unchanged")
	for id := numNodes; id < g.NumNodes(); id++ {
		assert.True(t, g.Node(graph.NodeID(id)).IsDead(), "node #%d built for the abandoned group", id)
	}
	for _, n := range append(narrow, wide...) {
		assert.False(t, n.IsDead())
	}

	// The consistent groups still fuse.
	result, err := p.Run(g)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Rewrites)
}
