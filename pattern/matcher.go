// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"maps"

	"github.com/gomlx/graphfuse/graph"
	"github.com/pkg/errors"
)

// MatchResult is the outcome of one Matcher.TryMatch call.
type MatchResult struct {
	// Matched is false if the pattern did not match; the other fields are then empty.
	Matched bool

	// Root is the node the pattern root matched.
	Root *graph.Node

	// Peeled is the number of wrapper nodes consumed by Skip patterns.
	Peeled int

	bindings map[*Label]*graph.Node
}

// Bound returns the node bound to l.
func (r *MatchResult) Bound(l *Label) (*graph.Node, bool) {
	n, ok := r.bindings[l]
	return n, ok
}

// MustBound returns the node bound to l, and panics if l is not bound: callers only use it for
// labels the matched pattern is guaranteed to bind.
func (r *MatchResult) MustBound(l *Label) *graph.Node {
	n, ok := r.bindings[l]
	if !ok {
		panic(errors.Errorf("label %s is not bound by this match", l))
	}
	return n
}

// Bindings returns a copy of the label bindings.
func (r *MatchResult) Bindings() map[*Label]*graph.Node {
	return maps.Clone(r.bindings)
}

// Tracer observes match attempts. Implementations must not modify the graph.
type Tracer interface {
	MatchAttempted(matcher string, root *graph.Node)
	MatchSucceeded(matcher string, result *MatchResult)
}

// Matcher finds a pattern rooted at given nodes.
type Matcher struct {
	name    string
	pattern Pattern
	tracer  Tracer
}

// Option configures a Matcher.
type Option func(m *Matcher)

// WithName sets the matcher name reported to tracers.
func WithName(name string) Option {
	return func(m *Matcher) {
		m.name = name
	}
}

// WithTracer sets a tracer called on every match attempt and success. By default there is none.
func WithTracer(tracer Tracer) Option {
	return func(m *Matcher) {
		m.tracer = tracer
	}
}

// NewMatcher validates p and returns a matcher for it.
//
// It fails if an Exact pattern has a child count its kind cannot take, if a Skip has no
// predicate, or if fully constrained operand labels are incompatible with their Exact parent.
func NewMatcher(p Pattern, opts ...Option) (*Matcher, error) {
	if err := validate(p); err != nil {
		return nil, errors.Wrap(err, "invalid pattern")
	}
	m := &Matcher{name: p.String(), pattern: p}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MustNewMatcher is like NewMatcher but panics on invalid patterns. It is meant for patterns
// fixed at compile time.
func MustNewMatcher(p Pattern, opts ...Option) *Matcher {
	m, err := NewMatcher(p, opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the matcher name.
func (m *Matcher) Name() string {
	return m.name
}

// TryMatch matches the pattern against the subgraph rooted at n.
//
// Alternatives are explored in a fixed order: operands left to right, and for Skip the inner
// pattern first, then one more wrapper at a time. The first complete match wins. A failed match
// is a normal outcome, reported with Matched == false.
func (m *Matcher) TryMatch(n *graph.Node) *MatchResult {
	if m.tracer != nil {
		m.tracer.MatchAttempted(m.name, n)
	}
	s := &matchState{bindings: make(map[*Label]*graph.Node)}
	if !s.match(m.pattern, n, func() bool { return true }) {
		return &MatchResult{}
	}
	result := &MatchResult{Matched: true, Root: n, Peeled: s.peeled, bindings: s.bindings}
	if m.tracer != nil {
		m.tracer.MatchSucceeded(m.name, result)
	}
	return result
}

// matchState holds the bindings of one attempt. Matching is written in continuation passing
// style: match calls k once p matched n, and undoes its own bindings if k fails, so a later
// mismatch can send the search back into an earlier Skip.
type matchState struct {
	bindings map[*Label]*graph.Node
	peeled   int
}

func (s *matchState) match(p Pattern, n *graph.Node, k func() bool) bool {
	if n == nil || n.IsDead() {
		return false
	}
	switch p := p.(type) {
	case *ExactPattern:
		if n.Kind() != p.kind || n.NumInputs() != len(p.children) {
			return false
		}
		return s.matchOperands(p.children, n, 0, k)

	case *Label:
		if !p.Accepts(n) {
			return false
		}
		if prev, found := s.bindings[p]; found {
			return prev == n && k()
		}
		s.bindings[p] = n
		if k() {
			return true
		}
		delete(s.bindings, p)
		return false

	case *SkipPattern:
		if s.match(p.inner, n, k) {
			return true
		}
		if n.NumInputs() == 0 || !p.pred(n) {
			return false
		}
		s.peeled++
		if s.match(p, n.Input(0), k) {
			return true
		}
		s.peeled--
		return false
	}
	return false
}

// matchOperands matches children[i:] against the corresponding operands of n, then calls k.
func (s *matchState) matchOperands(children []Pattern, n *graph.Node, i int, k func() bool) bool {
	if i == len(children) {
		return k()
	}
	return s.match(children[i], n.Input(i), func() bool {
		return s.matchOperands(children, n, i+1, k)
	})
}
