// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"slices"

	"github.com/gomlx/graphfuse/graph"
	"github.com/gomlx/graphfuse/pattern"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RNNMatName is the name of the RNNMatFusion pass.
const RNNMatName = "rnn-mat"

// Role indices of RNNMatFusion, also the order its matchers are tried in.
const (
	roleData = iota
	roleWeights
	roleBias
)

// RNNMatFusion merges the per time step products of an unrolled recurrent layer.
//
// Each time step t of the layer computes, for data D of shape [B, T, Z], weights W and bias b:
//
//	Add(Dot(Reshape(Slice(D, time step t), [B, Z]), Reshape(W)), BroadcastInDim(b, [B, V], axes=[1]))
//
// Time steps sharing the same D, W and b are replaced by slices of one product computed for all
// time steps at once:
//
//	sum := Add(Dot(Reshape(D, [B*T, Z]), Reshape(W)), BroadcastInDim(b, [B*T, V], axes=[1]))
//	step t := Slice(sum, starts=[t, 0], limits=[B*T, V], strides=[T, 1])
//
// Rows of sum are ordered batch major, so striding by T from row t picks the B rows of step t.
type RNNMatFusion struct {
	logger logrus.FieldLogger
	roles  []Role
}

var _ Pass = (*RNNMatFusion)(nil)

// NewRNNMatFusion creates the pass.
func NewRNNMatFusion(opts Options) *RNNMatFusion {
	dataSlice := pattern.Where(isTimeStepSlice).Named("data")
	weightsReshape := pattern.Where(isMatrixReshape).Named("weights")
	biasBroadcast := pattern.Where(isBiasBroadcast).Named("bias")

	dataPattern := pattern.Exact(graph.KindAdd,
		pattern.Exact(graph.KindDot, pattern.Exact(graph.KindReshape, dataSlice), pattern.Any()),
		pattern.Any())
	weightsPattern := pattern.Exact(graph.KindAdd,
		pattern.Exact(graph.KindDot, pattern.Any(), weightsReshape),
		pattern.Any())
	biasPattern := pattern.Exact(graph.KindAdd, pattern.Any(), biasBroadcast)

	return &RNNMatFusion{
		logger: opts.logger(),
		roles: []Role{
			roleData: {
				Name:    "data",
				Matcher: pattern.MustNewMatcher(dataPattern, opts.matcherOptions(RNNMatName+"/data")...),
				Label:   dataSlice,
			},
			roleWeights: {
				Name:    "weights",
				Matcher: pattern.MustNewMatcher(weightsPattern, opts.matcherOptions(RNNMatName+"/weights")...),
				Label:   weightsReshape,
			},
			roleBias: {
				Name:    "bias",
				Matcher: pattern.MustNewMatcher(biasPattern, opts.matcherOptions(RNNMatName+"/bias")...),
				Label:   biasBroadcast,
			},
		},
	}
}

// Name implements Pass.
func (p *RNNMatFusion) Name() string {
	return RNNMatName
}

// Run implements Pass.
func (p *RNNMatFusion) Run(g *graph.Graph) (Result, error) {
	var result Result
	for _, group := range ScanGroups(g, p.roles, acceptRNNStep) {
		log := p.logger.WithFields(logrus.Fields{
			"pass":    RNNMatName,
			"group":   group.Key,
			"members": len(group.Members),
		})
		if err := result.record(log, "group", len(group.Members), p.fuseGroup(g, group)); err != nil {
			return result, err
		}
	}
	return result, nil
}

// fuseGroup builds the fused product for group and replaces every member by its extractor.
// Nothing is replaced unless every extractor could be built with the right shape.
func (p *RNNMatFusion) fuseGroup(g *graph.Graph, group *Group) (err error) {
	members := make([]*graph.Node, len(group.Members))
	for i, m := range group.Members {
		if m.Node.IsDead() {
			return errors.Errorf("member %s was removed by an earlier rewrite", m.Node)
		}
		members[i] = m.Node
	}

	built := &pending{g: g}
	defer func() {
		if err != nil && !graph.IsCorruption(err) {
			if discardErr := built.discard(); discardErr != nil {
				err = discardErr
			}
		}
	}()

	data, weights, bias := group.Params[roleData], group.Params[roleWeights], group.Params[roleBias]
	dataDims := data.Shape().Dimensions
	batch, steps, features := dataDims[0], dataDims[1], dataDims[2]

	flatData, err := built.add(g.Reshape(data, batch*steps, features))
	if err != nil {
		return err
	}
	weightsDims := group.Members[0].Matched[roleWeights].Shape().Dimensions
	reshapedWeights, err := built.add(g.Reshape(weights, weightsDims...))
	if err != nil {
		return err
	}
	dot, err := built.add(g.Dot(flatData, reshapedWeights))
	if err != nil {
		return err
	}
	sumDims := dot.Shape().Dimensions
	broadcastBias, err := built.add(g.BroadcastInDim(bias, sumDims, []int{1}))
	if err != nil {
		return err
	}
	sum, err := built.add(g.Add(dot, broadcastBias))
	if err != nil {
		return err
	}

	extractors := make([]*graph.Node, len(group.Members))
	for i, m := range group.Members {
		step := m.Matched[roleData].Attrs().(graph.SliceAttrs).Starts[1]
		extractors[i], err = built.add(g.Slice(sum, []int{step, 0}, sumDims, []int{steps, 1}))
		if err != nil {
			return err
		}
		if !extractors[i].Shape().Equal(m.Node.Shape()) {
			return structuralErrorf(graph.ShapeMismatch, RNNMatName, "extractor %s has shape %s, member %s has shape %s",
				extractors[i], extractors[i].Shape(), m.Node, m.Node.Shape())
		}
	}
	return replaceAll(g, RNNMatName, members, extractors)
}

// isTimeStepSlice accepts a Slice of a rank-3 value selecting a single index of axis 1 and all
// of axes 0 and 2.
func isTimeStepSlice(n *graph.Node) bool {
	if n.Kind() != graph.KindSlice || n.Input(0).Shape().Rank() != 3 {
		return false
	}
	a := n.Attrs().(graph.SliceAttrs)
	dims := n.Input(0).Shape().Dimensions
	if slices.ContainsFunc(a.Strides, func(s int) bool { return s != 1 }) {
		return false
	}
	return a.Starts[0] == 0 && a.Limits[0] == dims[0] &&
		a.Limits[1]-a.Starts[1] == 1 &&
		a.Starts[2] == 0 && a.Limits[2] == dims[2]
}

// isMatrixReshape accepts a Reshape producing a matrix.
func isMatrixReshape(n *graph.Node) bool {
	return n.Kind() == graph.KindReshape && n.Shape().Rank() == 2
}

// isBiasBroadcast accepts a vector broadcast along the rows of a matrix.
func isBiasBroadcast(n *graph.Node) bool {
	if n.Kind() != graph.KindBroadcastInDim || n.Input(0).Shape().Rank() != 1 || n.Shape().Rank() != 2 {
		return false
	}
	return slices.Equal(n.Attrs().(graph.BroadcastAttrs).Axes, []int{1})
}

// acceptRNNStep checks the shapes the role patterns leave open: the time step slice must be
// reshaped to [B, Z] and the bias broadcast to the product's shape.
func acceptRNNStep(n *graph.Node, matched []*graph.Node) bool {
	slice := matched[roleData]
	dataDims := slice.Input(0).Shape().Dimensions
	dot := n.Input(0)
	reshaped := dot.Input(0).Shape().Dimensions
	if !slices.Equal(reshaped, []int{dataDims[0], dataDims[2]}) {
		return false
	}
	return dot.Shape().Rank() == 2 && matched[roleBias].Shape().Equal(dot.Shape())
}
