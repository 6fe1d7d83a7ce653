// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Dump writes the live part of the graph, one node per line in OrderedNodes order, followed by
// the outputs. Identical graphs produce identical bytes.
//
// Example:
//
//	graph "main"
//	#0 = Parameter() name="x" : (Float32)[2 3]
//	#1 = Parameter() name="w" : (Float32)[3 4]
//	#2 = Dot(#0, #1) : (Float32)[2 4]
//	outputs: #2
func (g *Graph) Dump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "graph %q\n", g.name); err != nil {
		return err
	}
	for _, n := range g.OrderedNodes() {
		line := fmt.Sprintf("#%d = %s(%s)", n.id, n.kind, joinIDs(n.inputs))
		if attrs := AttrsString(n); attrs != "" {
			line += " " + attrs
		}
		if _, err := fmt.Fprintf(w, "%s : %s\n", line, n.shape); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "outputs: %s\n", joinIDs(g.outputs))
	return err
}

// String returns the Dump of the graph.
func (g *Graph) String() string {
	var buf bytes.Buffer
	_ = g.Dump(&buf)
	return buf.String()
}

// AttrsString formats the node attributes as space separated key=value pairs.
func AttrsString(n *Node) string {
	switch a := n.attrs.(type) {
	case ParameterAttrs:
		return fmt.Sprintf("name=%q", a.Name)
	case SliceAttrs:
		return fmt.Sprintf("starts=%v limits=%v strides=%v", a.Starts, a.Limits, a.Strides)
	case ReshapeAttrs:
		return fmt.Sprintf("dims=%v", a.Dimensions)
	case TransposeAttrs:
		return fmt.Sprintf("perm=%v", a.Permutation)
	case BroadcastAttrs:
		return fmt.Sprintf("dims=%v axes=%v", a.Dimensions, a.Axes)
	case ConcatAttrs:
		return fmt.Sprintf("axis=%d", a.Axis)
	case BatchDotAttrs:
		return fmt.Sprintf("transpose_lhs=%t transpose_rhs=%t", a.TransposeLHS, a.TransposeRHS)
	case SigmoidMultiplyAttrs:
		return fmt.Sprintf("lhs=%s rhs=%s", a.LHS, a.RHS)
	}
	return ""
}

func joinIDs(nodes []*Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = fmt.Sprintf("#%d", n.id)
	}
	return strings.Join(parts, ", ")
}
