// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"testing"

	"github.com/gomlx/graphfuse/graph"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// activationPair builds Add(Sigmoid(x), Tanh(x)) with x of shape [2].
func activationPair(t *testing.T) (g *graph.Graph, x, sigmoid, tanh, sum *graph.Node) {
	g = graph.New("pair")
	x = must(t)(g.Parameter("x", f32(2)))
	sigmoid = must(t)(g.Sigmoid(x))
	tanh = must(t)(g.Tanh(x))
	sum = must(t)(g.Add(sigmoid, tanh))
	require.NoError(t, g.Output(sum))
	return
}

func TestReplaceAll(t *testing.T) {
	t.Run("all replaced", func(t *testing.T) {
		g, x, sigmoid, tanh, sum := activationPair(t)
		first := must(t)(g.Tanh(x))
		second := must(t)(g.Sigmoid(x))
		require.NoError(t, replaceAll(g, "test", []*graph.Node{sigmoid, tanh}, []*graph.Node{first, second}))
		assert.Equal(t, []*graph.Node{first, second}, sum.Inputs())
	})

	t.Run("first replacement fails", func(t *testing.T) {
		g, x, sigmoid, tanh, sum := activationPair(t)
		wrong := must(t)(g.Reshape(x, 1, 2))
		other := must(t)(g.Sigmoid(x))
		err := replaceAll(g, "test", []*graph.Node{sigmoid, tanh}, []*graph.Node{wrong, other})
		require.Error(t, err)
		assert.True(t, graph.IsCode(err, graph.ShapeMismatch))
		assert.False(t, graph.IsCorruption(err), "nothing was replaced yet")
		assert.Equal(t, []*graph.Node{sigmoid, tanh}, sum.Inputs())
	})

	t.Run("later replacement fails", func(t *testing.T) {
		g, x, sigmoid, tanh, sum := activationPair(t)
		first := must(t)(g.Tanh(x))
		wrong := must(t)(g.Reshape(x, 1, 2))
		err := replaceAll(g, "test", []*graph.Node{sigmoid, tanh}, []*graph.Node{first, wrong})
		require.Error(t, err)
		assert.True(t, graph.IsCorruption(err))
		assert.ErrorContains(t, err, "after 1 of 2")
		assert.Equal(t, first, sum.Input(0), "the first replacement stays applied")
		assert.Equal(t, tanh, sum.Input(1))
	})
}

func TestResultRecord(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	var result Result

	require.NoError(t, result.record(logger, "group", 3, nil))
	assert.Equal(t, Result{Modified: true, Rewrites: 3}, result)
	assert.Equal(t, "group fused", hook.LastEntry().Message)

	mismatch := structuralErrorf(graph.ShapeMismatch, "test", "wrong shape")
	require.NoError(t, result.record(logger, "group", 3, mismatch))
	assert.Equal(t, Result{Modified: true, Rewrites: 3, Skipped: 1}, result)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "group not fused", hook.LastEntry().Message)

	require.NoError(t, result.record(logger, "group", 3, errors.New("member removed")))
	assert.Equal(t, 2, result.Skipped)

	corrupt := structuralErrorf(graph.Corrupt, "test", "lost track of consumers")
	err := result.record(logger, "group", 3, corrupt)
	assert.Equal(t, corrupt, err)
	assert.Equal(t, Result{Modified: true, Rewrites: 3, Skipped: 2}, result, "corruption is not counted")
}
