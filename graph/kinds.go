// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// Kind is the operation a Node performs. It is a closed set: matchers and passes dispatch on it.
type Kind int

const (
	KindInvalid Kind = iota
	KindParameter
	KindSlice
	KindReshape
	KindTranspose
	KindBroadcastInDim
	KindDot
	KindAdd
	KindSubtract
	KindMultiply
	KindSigmoid
	KindTanh
	KindConcatenate
	KindBatchDot
	KindSigmoidMultiply

	numKinds
)

var kindNames = [numKinds]string{
	KindInvalid:         "Invalid",
	KindParameter:       "Parameter",
	KindSlice:           "Slice",
	KindReshape:         "Reshape",
	KindTranspose:       "Transpose",
	KindBroadcastInDim:  "BroadcastInDim",
	KindDot:             "Dot",
	KindAdd:             "Add",
	KindSubtract:        "Subtract",
	KindMultiply:        "Multiply",
	KindSigmoid:         "Sigmoid",
	KindTanh:            "Tanh",
	KindConcatenate:     "Concatenate",
	KindBatchDot:        "BatchDot",
	KindSigmoidMultiply: "SigmoidMultiply",
}

// Variadic is returned by Kind.Arity for kinds taking any positive number of operands.
const Variadic = -1

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k > KindInvalid && k < numKinds
}

// Arity returns the number of operands nodes of this kind take, or Variadic.
func (k Kind) Arity() int {
	switch k {
	case KindParameter:
		return 0
	case KindSlice, KindReshape, KindTranspose, KindBroadcastInDim, KindSigmoid, KindTanh:
		return 1
	case KindDot, KindAdd, KindSubtract, KindMultiply, KindBatchDot, KindSigmoidMultiply:
		return 2
	case KindConcatenate:
		return Variadic
	}
	return 0
}

// IsElementwiseBinary reports whether k combines two operands of the same shape element by element.
func (k Kind) IsElementwiseBinary() bool {
	switch k {
	case KindAdd, KindSubtract, KindMultiply, KindSigmoidMultiply:
		return true
	}
	return false
}

// KindFromString returns the kind with the given name (as returned by Kind.String).
func KindFromString(name string) (Kind, bool) {
	for k := KindParameter; k < numKinds; k++ {
		if kindNames[k] == name {
			return k, true
		}
	}
	return KindInvalid, false
}

// ParameterAttrs names a graph input and gives its shape.
type ParameterAttrs struct {
	Name  string
	Shape shapes.Shape
}

// SliceAttrs holds the per-axis bounds of a Slice: output axis i reads
// Starts[i], Starts[i]+Strides[i], ... up to (excluding) Limits[i].
type SliceAttrs struct {
	Starts, Limits, Strides []int
}

// ReshapeAttrs holds the target dimensions of a Reshape.
type ReshapeAttrs struct {
	Dimensions []int
}

// TransposeAttrs holds the axes permutation: output axis i is operand axis Permutation[i].
type TransposeAttrs struct {
	Permutation []int
}

// IsSwapLastTwo reports whether the permutation only swaps the two innermost axes.
func (a TransposeAttrs) IsSwapLastTwo() bool {
	rank := len(a.Permutation)
	if rank < 2 {
		return false
	}
	for i := 0; i < rank-2; i++ {
		if a.Permutation[i] != i {
			return false
		}
	}
	return a.Permutation[rank-2] == rank-1 && a.Permutation[rank-1] == rank-2
}

// BroadcastAttrs gives the output dimensions of a BroadcastInDim and maps operand axis i to
// output axis Axes[i].
type BroadcastAttrs struct {
	Dimensions []int
	Axes       []int
}

// ConcatAttrs holds the concatenation axis.
type ConcatAttrs struct {
	Axis int
}

// BatchDotAttrs configures a batched matrix multiplication.
type BatchDotAttrs struct {
	TransposeLHS, TransposeRHS bool
}

// Activation selects the function applied to one operand of a SigmoidMultiply.
type Activation int

const (
	ActivationSigmoid Activation = iota
	ActivationTanh
)

// String implements fmt.Stringer.
func (a Activation) String() string {
	switch a {
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationTanh:
		return "tanh"
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}

// SigmoidMultiplyAttrs records which activation each operand goes through before the product.
type SigmoidMultiplyAttrs struct {
	LHS, RHS Activation
}

// cloneAttrs copies slices held by attrs, so nodes never alias caller memory. Missing slice
// strides are filled in.
func cloneAttrs(attrs any) any {
	switch a := attrs.(type) {
	case ParameterAttrs:
		return ParameterAttrs{Name: a.Name, Shape: a.Shape.Clone()}
	case SliceAttrs:
		strides := slices.Clone(a.Strides)
		if strides == nil {
			// Unit strides by default.
			strides = make([]int, len(a.Starts))
			for i := range strides {
				strides[i] = 1
			}
		}
		return SliceAttrs{Starts: slices.Clone(a.Starts), Limits: slices.Clone(a.Limits), Strides: strides}
	case ReshapeAttrs:
		return ReshapeAttrs{Dimensions: slices.Clone(a.Dimensions)}
	case TransposeAttrs:
		return TransposeAttrs{Permutation: slices.Clone(a.Permutation)}
	case BroadcastAttrs:
		return BroadcastAttrs{Dimensions: slices.Clone(a.Dimensions), Axes: slices.Clone(a.Axes)}
	}
	return attrs
}
