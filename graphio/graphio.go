// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphio reads and writes graphs as YAML documents.
//
// A document lists the nodes in dependency order, each referring to its operands by name:
//
//	name: rnn
//	nodes:
//	  - {name: data, op: parameter, dtype: float32, shape: [2, 2, 4]}
//	  - {name: s0, op: slice, inputs: [data], starts: [0, 0, 0], limits: [2, 1, 4]}
//	  - {name: r0, op: reshape, inputs: [s0], shape: [2, 4]}
//	outputs: [r0]
//
// The "shape" field holds the parameter shape, or the target dimensions of reshape and
// broadcast_in_dim nodes.
package graphio

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/graphfuse/graph"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the YAML document.
type File struct {
	Name    string     `yaml:"name"`
	Nodes   []NodeSpec `yaml:"nodes"`
	Outputs []string   `yaml:"outputs,flow"`
}

// NodeSpec describes one node. Only the fields used by its op are set.
type NodeSpec struct {
	Name         string   `yaml:"name"`
	Op           string   `yaml:"op"`
	Inputs       []string `yaml:"inputs,omitempty,flow"`
	DType        string   `yaml:"dtype,omitempty"`
	Shape        []int    `yaml:"shape,omitempty,flow"`
	Starts       []int    `yaml:"starts,omitempty,flow"`
	Limits       []int    `yaml:"limits,omitempty,flow"`
	Strides      []int    `yaml:"strides,omitempty,flow"`
	Permutation  []int    `yaml:"permutation,omitempty,flow"`
	Axes         []int    `yaml:"axes,omitempty,flow"`
	Axis         int      `yaml:"axis,omitempty"`
	TransposeLHS bool     `yaml:"transpose_lhs,omitempty"`
	TransposeRHS bool     `yaml:"transpose_rhs,omitempty"`
	Activations  []string `yaml:"activations,omitempty,flow"`
}

// opName returns the op of kind in documents: Kind.String in snake case, e.g. "broadcast_in_dim".
func opName(kind graph.Kind) string {
	var b strings.Builder
	for i, r := range kind.String() {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// kindOf is the inverse of opName.
func kindOf(op string) (graph.Kind, bool) {
	var b strings.Builder
	for _, word := range strings.Split(op, "_") {
		if word == "" {
			return graph.KindInvalid, false
		}
		b.WriteString(strings.ToUpper(word[:1]) + word[1:])
	}
	kind, ok := graph.KindFromString(b.String())
	if !ok || opName(kind) != op {
		return graph.KindInvalid, false
	}
	return kind, true
}

// supportedDTypes are the dtypes accepted for parameters, by lower case name.
var supportedDTypes = []dtypes.DType{
	dtypes.Bool,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8,
	dtypes.Float16, dtypes.Float32, dtypes.Float64,
}

func parseDType(name string) (dtypes.DType, error) {
	for _, dt := range supportedDTypes {
		if strings.EqualFold(dt.String(), name) {
			return dt, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unsupported dtype %q", name)
}

func dtypeName(dt dtypes.DType) string {
	return strings.ToLower(dt.String())
}

func parseActivation(name string) (graph.Activation, error) {
	for _, act := range []graph.Activation{graph.ActivationSigmoid, graph.ActivationTanh} {
		if act.String() == name {
			return act, nil
		}
	}
	return 0, errors.Errorf("unknown activation %q, want sigmoid or tanh", name)
}

// Decode reads a YAML document from r and builds the graph. Unknown fields are rejected.
func Decode(r io.Reader) (*graph.Graph, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decoding graph")
	}
	return Build(&f)
}

// ReadFile decodes the graph stored at path.
func ReadFile(path string) (*graph.Graph, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() { _ = file.Close() }()
	g, err := Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return g, nil
}

// Build creates the graph described by f. Operands must be defined before use, and names must
// be unique.
func Build(f *File) (*graph.Graph, error) {
	g := graph.New(f.Name)
	byName := make(map[string]*graph.Node, len(f.Nodes))
	for i := range f.Nodes {
		spec := &f.Nodes[i]
		if spec.Name == "" {
			return nil, errors.Errorf("node #%d (%s) has no name", i, spec.Op)
		}
		if _, found := byName[spec.Name]; found {
			return nil, errors.Errorf("duplicate node name %q", spec.Name)
		}
		n, err := buildNode(g, spec, byName)
		if err != nil {
			return nil, errors.Wrapf(err, "node %q", spec.Name)
		}
		byName[spec.Name] = n
	}
	if len(f.Outputs) == 0 {
		return nil, errors.Errorf("graph %q has no outputs", f.Name)
	}
	for _, name := range f.Outputs {
		n, found := byName[name]
		if !found {
			return nil, errors.Errorf("unknown output %q", name)
		}
		if err := g.Output(n); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func buildNode(g *graph.Graph, spec *NodeSpec, byName map[string]*graph.Node) (*graph.Node, error) {
	kind, ok := kindOf(spec.Op)
	if !ok {
		return nil, errors.Errorf("unknown op %q", spec.Op)
	}
	inputs := make([]*graph.Node, len(spec.Inputs))
	for i, name := range spec.Inputs {
		in, found := byName[name]
		if !found {
			return nil, errors.Errorf("unknown input %q", name)
		}
		inputs[i] = in
	}

	var attrs any
	switch kind {
	case graph.KindParameter:
		dt, err := parseDType(spec.DType)
		if err != nil {
			return nil, err
		}
		attrs = graph.ParameterAttrs{Name: spec.Name, Shape: shapes.Make(dt, spec.Shape...)}
	case graph.KindSlice:
		attrs = graph.SliceAttrs{Starts: spec.Starts, Limits: spec.Limits, Strides: spec.Strides}
	case graph.KindReshape:
		attrs = graph.ReshapeAttrs{Dimensions: spec.Shape}
	case graph.KindTranspose:
		attrs = graph.TransposeAttrs{Permutation: spec.Permutation}
	case graph.KindBroadcastInDim:
		attrs = graph.BroadcastAttrs{Dimensions: spec.Shape, Axes: spec.Axes}
	case graph.KindConcatenate:
		attrs = graph.ConcatAttrs{Axis: spec.Axis}
	case graph.KindBatchDot:
		attrs = graph.BatchDotAttrs{TransposeLHS: spec.TransposeLHS, TransposeRHS: spec.TransposeRHS}
	case graph.KindSigmoidMultiply:
		if len(spec.Activations) != 2 {
			return nil, errors.Errorf("sigmoid_multiply needs 2 activations, got %d", len(spec.Activations))
		}
		lhs, err := parseActivation(spec.Activations[0])
		if err != nil {
			return nil, err
		}
		rhs, err := parseActivation(spec.Activations[1])
		if err != nil {
			return nil, err
		}
		attrs = graph.SigmoidMultiplyAttrs{LHS: lhs, RHS: rhs}
	}
	return g.Build(kind, attrs, inputs...)
}

// FromGraph describes the live nodes of g, in OrderedNodes order. Parameters keep their names;
// other nodes are named after their id ("n7").
func FromGraph(g *graph.Graph) *File {
	f := &File{Name: g.Name()}
	names := make(map[graph.NodeID]string)
	used := make(map[string]bool)
	unique := func(name string) string {
		for used[name] {
			name += "_"
		}
		used[name] = true
		return name
	}
	ordered := g.OrderedNodes()
	for _, n := range ordered {
		if a, ok := n.Attrs().(graph.ParameterAttrs); ok {
			names[n.ID()] = unique(a.Name)
		}
	}
	for _, n := range ordered {
		if _, found := names[n.ID()]; !found {
			names[n.ID()] = unique(fmt.Sprintf("n%d", n.ID()))
		}
		f.Nodes = append(f.Nodes, describe(n, names))
	}
	for _, out := range g.Outputs() {
		f.Outputs = append(f.Outputs, names[out.ID()])
	}
	return f
}

func describe(n *graph.Node, names map[graph.NodeID]string) NodeSpec {
	spec := NodeSpec{Name: names[n.ID()], Op: opName(n.Kind())}
	for _, in := range n.Inputs() {
		spec.Inputs = append(spec.Inputs, names[in.ID()])
	}
	switch a := n.Attrs().(type) {
	case graph.ParameterAttrs:
		spec.DType = dtypeName(a.Shape.DType)
		spec.Shape = a.Shape.Dimensions
	case graph.SliceAttrs:
		spec.Starts, spec.Limits, spec.Strides = a.Starts, a.Limits, a.Strides
	case graph.ReshapeAttrs:
		spec.Shape = a.Dimensions
	case graph.TransposeAttrs:
		spec.Permutation = a.Permutation
	case graph.BroadcastAttrs:
		spec.Shape, spec.Axes = a.Dimensions, a.Axes
	case graph.ConcatAttrs:
		spec.Axis = a.Axis
	case graph.BatchDotAttrs:
		spec.TransposeLHS, spec.TransposeRHS = a.TransposeLHS, a.TransposeRHS
	case graph.SigmoidMultiplyAttrs:
		spec.Activations = []string{a.LHS.String(), a.RHS.String()}
	}
	return spec
}

// Encode writes the live part of g as a YAML document.
func Encode(w io.Writer, g *graph.Graph) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(FromGraph(g)); err != nil {
		return errors.Wrapf(err, "encoding graph %q", g.Name())
	}
	return errors.WithStack(enc.Close())
}
