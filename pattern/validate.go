// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/graphfuse/graph"
	"github.com/pkg/errors"
)

// validate checks a pattern tree for mistakes that would make it unable to ever match.
func validate(p Pattern) error {
	switch p := p.(type) {
	case nil:
		return errors.New("nil pattern")

	case *ExactPattern:
		if p == nil {
			return errors.New("nil Exact pattern")
		}
		if !p.kind.Valid() {
			return errors.Errorf("%s: invalid kind", p)
		}
		arity := p.kind.Arity()
		if arity == graph.Variadic {
			if len(p.children) == 0 {
				return errors.Errorf("%s: %s takes at least one operand", p, p.kind)
			}
		} else if len(p.children) != arity {
			return errors.Errorf("%s: %s takes %d operand(s), pattern has %d", p, p.kind, arity, len(p.children))
		}
		for i, child := range p.children {
			if err := validate(child); err != nil {
				return errors.Wrapf(err, "%s operand #%d", p.kind, i)
			}
		}
		return checkOperandLabels(p)

	case *Label:
		if p == nil {
			return errors.New("nil Label")
		}
		return nil

	case *SkipPattern:
		if p == nil {
			return errors.New("nil Skip pattern")
		}
		if p.pred == nil {
			return errors.Errorf("%s: missing predicate", p)
		}
		return errors.Wrap(validate(p.inner), "Skip")
	}
	return errors.Errorf("unknown pattern type %T", p)
}

// checkOperandLabels rejects fully constrained operand labels that the kind could never accept
// together.
func checkOperandLabels(p *ExactPattern) error {
	if len(p.children) != 2 {
		return nil
	}
	lhs, lhsOk := p.children[0].(*Label)
	rhs, rhsOk := p.children[1].(*Label)
	if !lhsOk || !rhsOk {
		return nil
	}
	if lhs.dtype != dtypes.InvalidDType && rhs.dtype != dtypes.InvalidDType && lhs.dtype != rhs.dtype {
		return errors.Errorf("%s: operand labels have different dtypes %s and %s", p, lhs.dtype, rhs.dtype)
	}
	lhsDims, lhsFixed := lhs.concreteDims()
	rhsDims, rhsFixed := rhs.concreteDims()
	if !lhsFixed || !rhsFixed {
		return nil
	}
	switch {
	case p.kind.IsElementwiseBinary():
		if !slices.Equal(lhsDims, rhsDims) {
			return errors.Errorf("%s: operand labels have different shapes %v and %v", p, lhsDims, rhsDims)
		}
	case p.kind == graph.KindDot:
		if len(lhsDims) == 0 || len(lhsDims) > 2 || len(rhsDims) == 0 || len(rhsDims) > 2 {
			return errors.Errorf("%s: Dot operand labels must have rank 1 or 2, got %v and %v", p, lhsDims, rhsDims)
		}
		if lhsDims[len(lhsDims)-1] != rhsDims[0] {
			return errors.Errorf("%s: Dot operand labels %v and %v have different contracting dimensions",
				p, lhsDims, rhsDims)
		}
	}
	return nil
}
