// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph holds the dataflow graph rewritten by the fusion passes.
//
// A Graph is an arena of nodes. Each Node performs one operation (its Kind) on an ordered list
// of operands produced by other nodes of the same graph, and yields one value described by a
// shapes.Shape (dimensions and dtype) fixed at construction. Node identities (NodeID) are arena
// indices: they are assigned in construction order and never reused, so they are stable across
// rewrites.
//
// Example usage:
//
//	g := graph.New("main")
//	x, _ := g.Parameter("x", shapes.Make(dtypes.Float32, 2, 3))
//	w, _ := g.Parameter("w", shapes.Make(dtypes.Float32, 3, 4))
//	y, _ := g.Dot(x, w)
//	g.Output(y)
//	for _, n := range g.OrderedNodes() {
//	    fmt.Println(n)
//	}
//
// Rewrites go through ReplaceNode, which repoints every consumer of a node to its replacement
// and drops whatever became unreachable. A Graph is not safe for concurrent use.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
)

// NodeID identifies a node within its graph.
type NodeID int

// Node is one operation of the graph.
type Node struct {
	id     NodeID
	kind   Kind
	inputs []*Node
	shape  shapes.Shape
	attrs  any
	graph  *Graph

	// consumers holds each live node reading this node's output once, in the order the edges
	// were created.
	consumers []*Node

	// dead is set when the node was replaced, discarded or left without consumers by a rewrite.
	dead bool
}

// ID returns the node's stable identity.
func (n *Node) ID() NodeID {
	return n.id
}

// Kind returns the operation the node performs.
func (n *Node) Kind() Kind {
	return n.kind
}

// Shape returns the node's output shape.
func (n *Node) Shape() shapes.Shape {
	return n.shape
}

// DType returns the node's output dtype.
func (n *Node) DType() dtypes.DType {
	return n.shape.DType
}

// Attrs returns the kind-specific attributes (e.g. SliceAttrs), or nil.
func (n *Node) Attrs() any {
	return n.attrs
}

// NumInputs returns the number of operands.
func (n *Node) NumInputs() int {
	return len(n.inputs)
}

// Input returns operand i.
func (n *Node) Input(i int) *Node {
	return n.inputs[i]
}

// Inputs returns a copy of the operands.
func (n *Node) Inputs() []*Node {
	return slices.Clone(n.inputs)
}

// Consumers returns a copy of the live nodes reading this node.
func (n *Node) Consumers() []*Node {
	return slices.Clone(n.consumers)
}

// IsDead reports whether the node was removed from the graph by a rewrite.
func (n *Node) IsDead() bool {
	return n.dead
}

// Graph returns the graph owning the node.
func (n *Node) Graph() *Graph {
	return n.graph
}

// String returns a one line description, e.g. "#3 Dot(#1, #2)".
func (n *Node) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d %s(", n.id, n.kind)
	for i, in := range n.inputs {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "#%d", in.id)
	}
	sb.WriteString(")")
	return sb.String()
}

func (n *Node) addConsumer(c *Node) {
	if !slices.Contains(n.consumers, c) {
		n.consumers = append(n.consumers, c)
	}
}

func (n *Node) removeConsumer(c *Node) {
	n.consumers = slices.DeleteFunc(n.consumers, func(x *Node) bool { return x == c })
}

// Graph is an arena of nodes plus the list of outputs rooting the live part of it.
type Graph struct {
	name    string
	nodes   []*Node
	outputs []*Node
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{name: name}
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// NumNodes returns the number of nodes ever created in the graph, dead ones included.
func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

// Output appends nodes to the graph outputs.
func (g *Graph) Output(nodes ...*Node) error {
	for i, n := range nodes {
		if err := g.checkLive("Output", n, fmt.Sprintf("output #%d", i)); err != nil {
			return err
		}
	}
	g.outputs = append(g.outputs, nodes...)
	return nil
}

// Outputs returns a copy of the graph outputs.
func (g *Graph) Outputs() []*Node {
	return slices.Clone(g.outputs)
}

func (g *Graph) isOutput(n *Node) bool {
	return slices.Contains(g.outputs, n)
}

// checkLive validates that n is a live node of g.
func (g *Graph) checkLive(op string, n *Node, what string) error {
	if n == nil {
		return structuralErrorf(Corrupt, op, "%s is nil", what)
	}
	if n.graph != g {
		return structuralErrorf(Corrupt, op, "%s %s belongs to another graph", what, n)
	}
	if n.dead {
		return structuralErrorf(Corrupt, op, "%s %s was already removed from graph %q", what, n, g.name)
	}
	return nil
}

// Build creates a node of the given kind. Typed factories (Slice, Dot, ...) are thin wrappers
// around it.
//
// It returns an *ArityError if the number of inputs does not fit the kind, and a
// *StructuralError with code InvalidOperand if an input is unusable or the output shape cannot
// be inferred from the attributes.
func (g *Graph) Build(kind Kind, attrs any, inputs ...*Node) (*Node, error) {
	if !kind.Valid() {
		return nil, structuralErrorf(InvalidOperand, "Build", "unknown kind %s", kind)
	}
	want := kind.Arity()
	if (want == Variadic && len(inputs) == 0) || (want != Variadic && len(inputs) != want) {
		return nil, errors.WithStack(&ArityError{Kind: kind, Want: want, Got: len(inputs)})
	}
	for i, in := range inputs {
		if in == nil || in.graph != g || in.dead {
			return nil, structuralErrorf(InvalidOperand, kind.String(), "operand #%d is nil, dead or from another graph", i)
		}
	}
	attrs = cloneAttrs(attrs)
	shape, err := inferShape(kind, attrs, inputs)
	if err != nil {
		var se *StructuralError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, errors.WithStack(&StructuralError{Code: InvalidOperand, Op: kind.String(), Message: err.Error()})
	}
	return g.newNode(kind, shape, attrs, inputs...), nil
}

// newNode appends a node to the arena and registers it with its producers.
func (g *Graph) newNode(kind Kind, shape shapes.Shape, attrs any, inputs ...*Node) *Node {
	n := &Node{
		id:     NodeID(len(g.nodes)),
		kind:   kind,
		inputs: slices.Clone(inputs),
		shape:  shape,
		attrs:  attrs,
		graph:  g,
	}
	g.nodes = append(g.nodes, n)
	for _, in := range inputs {
		in.addConsumer(n)
	}
	return n
}

// OrderedNodes returns the live nodes reachable from the outputs, each after all of its
// operands. The order is a depth-first post-order over the outputs and then the operands, in
// order, so it only depends on the graph state.
//
// It is recomputed on every call: any rewrite invalidates previously returned orders.
func (g *Graph) OrderedNodes() []*Node {
	visited := make([]bool, len(g.nodes))
	order := make([]*Node, 0, len(g.nodes))
	var visit func(n *Node)
	visit = func(n *Node) {
		if visited[n.id] {
			return
		}
		visited[n.id] = true
		for _, in := range n.inputs {
			visit(in)
		}
		order = append(order, n)
	}
	for _, out := range g.outputs {
		visit(out)
	}
	return order
}

// ReplaceNode repoints every consumer edge and output slot using old to replacement.
//
// Afterwards old is dead, and so is every producer of old left without consumers (parameters and
// outputs excepted). The replacement must have exactly old's shape (code ShapeMismatch otherwise);
// replacing a node by itself, using dead or foreign nodes, or a replacement computed from old
// itself are reported with code Corrupt.
//
// Callers must not be iterating a previous OrderedNodes result whose positions they still rely on.
func (g *Graph) ReplaceNode(old, replacement *Node) error {
	const op = "ReplaceNode"
	if err := g.checkLive(op, old, "old node"); err != nil {
		return err
	}
	if err := g.checkLive(op, replacement, "replacement"); err != nil {
		return err
	}
	if old == replacement {
		return structuralErrorf(Corrupt, op, "cannot replace %s by itself", old)
	}
	if !old.shape.Equal(replacement.shape) {
		return structuralErrorf(ShapeMismatch, op, "replacement %s has shape %s, consumers of %s expect %s",
			replacement, replacement.shape, old, old.shape)
	}
	if dependsOn(replacement, old) {
		return structuralErrorf(Corrupt, op, "replacement %s is computed from %s, replacing would create a cycle",
			replacement, old)
	}

	for _, c := range old.consumers {
		for i, in := range c.inputs {
			if in == old {
				c.inputs[i] = replacement
			}
		}
		replacement.addConsumer(c)
	}
	old.consumers = nil
	for i, out := range g.outputs {
		if out == old {
			g.outputs[i] = replacement
		}
	}
	g.kill(old)
	return nil
}

// Discard drops a node built for a rewrite that was abandoned. The node must be live, unused and
// not an output. Producers left without consumers are dropped as well.
func (g *Graph) Discard(n *Node) error {
	const op = "Discard"
	if err := g.checkLive(op, n, "node"); err != nil {
		return err
	}
	if len(n.consumers) > 0 || g.isOutput(n) {
		return structuralErrorf(Corrupt, op, "%s is still in use", n)
	}
	g.kill(n)
	return nil
}

// kill marks n dead and cascades to producers that no longer have a reason to exist.
func (g *Graph) kill(n *Node) {
	n.dead = true
	for _, in := range n.inputs {
		if in.dead {
			continue
		}
		in.removeConsumer(n)
		if len(in.consumers) == 0 && in.kind != KindParameter && !g.isOutput(in) {
			g.kill(in)
		}
	}
}

// dependsOn reports whether target is n or one of its transitive operands.
func dependsOn(n, target *Node) bool {
	seen := make(map[*Node]bool)
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, cur.inputs...)
	}
	return false
}
