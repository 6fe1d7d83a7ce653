// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/shapeinference"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
)

// This file contains the typed node factories and the shape inference behind Build.
// Where GoMLX defines the op, its shape inference rules are used as is.

// Parameter adds a graph input.
func (g *Graph) Parameter(name string, shape shapes.Shape) (*Node, error) {
	return g.Build(KindParameter, ParameterAttrs{Name: name, Shape: shape})
}

// Slice extracts the sub-array [starts, limits) of x, stepping by strides.
// A nil strides means unit strides.
func (g *Graph) Slice(x *Node, starts, limits, strides []int) (*Node, error) {
	return g.Build(KindSlice, SliceAttrs{Starts: starts, Limits: limits, Strides: strides}, x)
}

// Reshape reinterprets x with the given dimensions. The total size cannot change.
func (g *Graph) Reshape(x *Node, dimensions ...int) (*Node, error) {
	return g.Build(KindReshape, ReshapeAttrs{Dimensions: dimensions}, x)
}

// Transpose permutes the axes of x: output axis i is x's axis permutation[i].
func (g *Graph) Transpose(x *Node, permutation ...int) (*Node, error) {
	return g.Build(KindTranspose, TransposeAttrs{Permutation: permutation}, x)
}

// BroadcastInDim broadcasts x to dimensions, mapping x's axis i to output axis axes[i].
//
// Examples:
//   - x: [3], dimensions: [2, 3], axes: [1]
//   - x: [2, 3], dimensions: [2, 3, 4], axes: [0, 1]
func (g *Graph) BroadcastInDim(x *Node, dimensions []int, axes []int) (*Node, error) {
	return g.Build(KindBroadcastInDim, BroadcastAttrs{Dimensions: dimensions, Axes: axes}, x)
}

// Dot contracts the last axis of lhs with the first axis of rhs, for operands of rank 1 or 2.
func (g *Graph) Dot(lhs, rhs *Node) (*Node, error) {
	return g.Build(KindDot, nil, lhs, rhs)
}

// Add performs element-wise addition.
func (g *Graph) Add(lhs, rhs *Node) (*Node, error) {
	return g.Build(KindAdd, nil, lhs, rhs)
}

// Subtract performs element-wise subtraction.
func (g *Graph) Subtract(lhs, rhs *Node) (*Node, error) {
	return g.Build(KindSubtract, nil, lhs, rhs)
}

// Multiply performs element-wise multiplication.
func (g *Graph) Multiply(lhs, rhs *Node) (*Node, error) {
	return g.Build(KindMultiply, nil, lhs, rhs)
}

// Sigmoid applies the logistic function element-wise.
func (g *Graph) Sigmoid(x *Node) (*Node, error) {
	return g.Build(KindSigmoid, nil, x)
}

// Tanh applies the hyperbolic tangent element-wise.
func (g *Graph) Tanh(x *Node) (*Node, error) {
	return g.Build(KindTanh, nil, x)
}

// Concatenate joins operands along axis.
func (g *Graph) Concatenate(axis int, operands ...*Node) (*Node, error) {
	return g.Build(KindConcatenate, ConcatAttrs{Axis: axis}, operands...)
}

// BatchDot multiplies matrices batched on axis 0: lhs [B, M, K] and rhs [B, K, N] give [B, M, N].
// The transpose flags swap the two inner axes of the corresponding operand first.
func (g *Graph) BatchDot(lhs, rhs *Node, transposeLHS, transposeRHS bool) (*Node, error) {
	return g.Build(KindBatchDot, BatchDotAttrs{TransposeLHS: transposeLHS, TransposeRHS: transposeRHS}, lhs, rhs)
}

// SigmoidMultiply computes act(lhs) * act(rhs) with the activation chosen per operand.
func (g *Graph) SigmoidMultiply(lhs, rhs *Node, lhsAct, rhsAct Activation) (*Node, error) {
	return g.Build(KindSigmoidMultiply, SigmoidMultiplyAttrs{LHS: lhsAct, RHS: rhsAct}, lhs, rhs)
}

// attrsAs returns attrs as T, or an error naming the kind.
func attrsAs[T any](kind Kind, attrs any) (T, error) {
	a, ok := attrs.(T)
	if !ok {
		var zero T
		return zero, errors.Errorf("%s: expected attributes of type %T, got %T", kind, zero, attrs)
	}
	return a, nil
}

// binaryOpTypes maps element-wise kinds to the GoMLX op type sharing their shape rules.
var binaryOpTypes = map[Kind]backends.OpType{
	KindAdd:             backends.OpTypeAdd,
	KindSubtract:        backends.OpTypeSub,
	KindMultiply:        backends.OpTypeMul,
	KindSigmoidMultiply: backends.OpTypeMul,
}

// inferShape computes the output shape of a node of the given kind.
func inferShape(kind Kind, attrs any, inputs []*Node) (shapes.Shape, error) {
	switch kind {
	case KindParameter:
		a, err := attrsAs[ParameterAttrs](kind, attrs)
		if err != nil {
			return shapes.Shape{}, err
		}
		if a.Shape.DType == dtypes.InvalidDType || !a.Shape.Ok() {
			return shapes.Shape{}, errors.Errorf("invalid shape %s for Parameter %q", a.Shape, a.Name)
		}
		return a.Shape.Clone(), nil

	case KindSlice:
		a, err := attrsAs[SliceAttrs](kind, attrs)
		if err != nil {
			return shapes.Shape{}, err
		}
		return shapeinference.SliceOp(inputs[0].shape, a.Starts, a.Limits, a.Strides)

	case KindReshape:
		a, err := attrsAs[ReshapeAttrs](kind, attrs)
		if err != nil {
			return shapes.Shape{}, err
		}
		return shapeinference.ReshapeOp(inputs[0].shape, a.Dimensions)

	case KindTranspose:
		a, err := attrsAs[TransposeAttrs](kind, attrs)
		if err != nil {
			return shapes.Shape{}, err
		}
		return shapeinference.TransposeOp(inputs[0].shape, a.Permutation)

	case KindBroadcastInDim:
		a, err := attrsAs[BroadcastAttrs](kind, attrs)
		if err != nil {
			return shapes.Shape{}, err
		}
		return broadcastInDimShape(inputs[0].shape, a)

	case KindDot:
		return dotShape(inputs[0].shape, inputs[1].shape)

	case KindAdd, KindSubtract, KindMultiply:
		return shapeinference.BinaryOp(binaryOpTypes[kind], inputs[0].shape, inputs[1].shape)

	case KindSigmoid:
		return shapeinference.UnaryOp(backends.OpTypeLogistic, inputs[0].shape)

	case KindTanh:
		return shapeinference.UnaryOp(backends.OpTypeTanh, inputs[0].shape)

	case KindConcatenate:
		a, err := attrsAs[ConcatAttrs](kind, attrs)
		if err != nil {
			return shapes.Shape{}, err
		}
		inputShapes := make([]shapes.Shape, len(inputs))
		for i, in := range inputs {
			inputShapes[i] = in.shape
		}
		return shapeinference.ConcatenateOp(inputShapes, a.Axis)

	case KindBatchDot:
		a, err := attrsAs[BatchDotAttrs](kind, attrs)
		if err != nil {
			return shapes.Shape{}, err
		}
		return batchDotShape(inputs[0].shape, inputs[1].shape, a)

	case KindSigmoidMultiply:
		if _, err := attrsAs[SigmoidMultiplyAttrs](kind, attrs); err != nil {
			return shapes.Shape{}, err
		}
		return shapeinference.BinaryOp(binaryOpTypes[kind], inputs[0].shape, inputs[1].shape)
	}
	return shapes.Shape{}, errors.Errorf("no shape inference for kind %s", kind)
}

func broadcastInDimShape(operand shapes.Shape, a BroadcastAttrs) (shapes.Shape, error) {
	if len(a.Axes) != operand.Rank() {
		return shapes.Shape{}, errors.Errorf("BroadcastInDim: axes length (%d) must match operand rank (%d)",
			len(a.Axes), operand.Rank())
	}
	used := make([]bool, len(a.Dimensions))
	for i, outAxis := range a.Axes {
		if outAxis < 0 || outAxis >= len(a.Dimensions) {
			return shapes.Shape{}, errors.Errorf("BroadcastInDim: axes[%d]=%d out of bounds [0, %d)",
				i, outAxis, len(a.Dimensions))
		}
		if used[outAxis] {
			return shapes.Shape{}, errors.Errorf("BroadcastInDim: output axis %d used twice", outAxis)
		}
		used[outAxis] = true
		inputDim := operand.Dimensions[i]
		outputDim := a.Dimensions[outAxis]
		if inputDim != outputDim && inputDim != 1 {
			return shapes.Shape{}, errors.Errorf("BroadcastInDim: dimension mismatch at axes[%d]=%d: operand dim=%d, output dim=%d (must be equal or operand=1)",
				i, outAxis, inputDim, outputDim)
		}
	}
	return shapes.Make(operand.DType, a.Dimensions...), nil
}

func dotShape(lhsShape, rhsShape shapes.Shape) (shapes.Shape, error) {
	if lhsShape.DType != rhsShape.DType {
		return shapes.Shape{}, errors.Errorf("Dot: operands dtypes differ, got %s and %s", lhsShape.DType, rhsShape.DType)
	}
	switch {
	case lhsShape.Rank() == 1 && rhsShape.Rank() == 1:
		// Inner product: [N] dot [N] -> scalar
		if lhsShape.Dimensions[0] != rhsShape.Dimensions[0] {
			return shapes.Shape{}, errors.Errorf("Dot: vector lengths must match, got %d and %d",
				lhsShape.Dimensions[0], rhsShape.Dimensions[0])
		}
		return shapes.Make(lhsShape.DType), nil
	case lhsShape.Rank() == 2 && rhsShape.Rank() == 2:
		// Matrix multiplication: [M, K] dot [K, N] -> [M, N]
		if lhsShape.Dimensions[1] != rhsShape.Dimensions[0] {
			return shapes.Shape{}, errors.Errorf("Dot: matrix inner dimensions must match, got %v and %v",
				lhsShape.Dimensions, rhsShape.Dimensions)
		}
		return shapes.Make(lhsShape.DType, lhsShape.Dimensions[0], rhsShape.Dimensions[1]), nil
	case lhsShape.Rank() == 2 && rhsShape.Rank() == 1:
		// Matrix-vector: [M, K] dot [K] -> [M]
		if lhsShape.Dimensions[1] != rhsShape.Dimensions[0] {
			return shapes.Shape{}, errors.Errorf("Dot: matrix column count must match vector length, got %d and %d",
				lhsShape.Dimensions[1], rhsShape.Dimensions[0])
		}
		return shapes.Make(lhsShape.DType, lhsShape.Dimensions[0]), nil
	case lhsShape.Rank() == 1 && rhsShape.Rank() == 2:
		// Vector-matrix: [K] dot [K, N] -> [N]
		if lhsShape.Dimensions[0] != rhsShape.Dimensions[0] {
			return shapes.Shape{}, errors.Errorf("Dot: vector length must match matrix row count, got %d and %d",
				lhsShape.Dimensions[0], rhsShape.Dimensions[0])
		}
		return shapes.Make(lhsShape.DType, rhsShape.Dimensions[1]), nil
	}
	return shapes.Shape{}, errors.Errorf("Dot: only supports 1D and 2D operands, got ranks %d and %d",
		lhsShape.Rank(), rhsShape.Rank())
}

func batchDotShape(lhsShape, rhsShape shapes.Shape, a BatchDotAttrs) (shapes.Shape, error) {
	if lhsShape.Rank() != 3 || rhsShape.Rank() != 3 {
		return shapes.Shape{}, errors.Errorf("BatchDot: operands must have rank 3, got ranks %d and %d",
			lhsShape.Rank(), rhsShape.Rank())
	}
	if lhsShape.DType != rhsShape.DType {
		return shapes.Shape{}, errors.Errorf("BatchDot: operands dtypes differ, got %s and %s", lhsShape.DType, rhsShape.DType)
	}
	if lhsShape.Dimensions[0] != rhsShape.Dimensions[0] {
		return shapes.Shape{}, errors.Errorf("BatchDot: batch sizes differ, got %d and %d",
			lhsShape.Dimensions[0], rhsShape.Dimensions[0])
	}
	m, lhsK := lhsShape.Dimensions[1], lhsShape.Dimensions[2]
	if a.TransposeLHS {
		m, lhsK = lhsK, m
	}
	rhsK, n := rhsShape.Dimensions[1], rhsShape.Dimensions[2]
	if a.TransposeRHS {
		rhsK, n = n, rhsK
	}
	if lhsK != rhsK {
		return shapes.Shape{}, errors.Errorf("BatchDot: contracting dimensions differ, got %d and %d", lhsK, rhsK)
	}
	return shapes.Make(lhsShape.DType, lhsShape.Dimensions[0], m, n), nil
}
