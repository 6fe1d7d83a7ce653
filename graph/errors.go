// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode categorizes a StructuralError.
type ErrorCode string

const (
	// InvalidOperand means a factory was given an operand or attribute it cannot accept.
	InvalidOperand ErrorCode = "INVALID_OPERAND"

	// ShapeMismatch means a replacement does not produce what the replaced node's consumers read.
	ShapeMismatch ErrorCode = "SHAPE_MISMATCH"

	// Corrupt means the request contradicts the graph's own bookkeeping (foreign or dead nodes,
	// cycles). The graph should not be used for further rewrites.
	Corrupt ErrorCode = "CORRUPT"
)

// StructuralError is returned by graph construction and mutation.
type StructuralError struct {
	Code    ErrorCode
	Op      string
	Message string
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func structuralErrorf(code ErrorCode, op, format string, args ...any) error {
	return errors.WithStack(&StructuralError{Code: code, Op: op, Message: fmt.Sprintf(format, args...)})
}

// ArityError is returned when a node is built with the wrong number of operands for its kind.
type ArityError struct {
	Kind Kind
	Want int
	Got  int
}

// Error implements the error interface.
func (e *ArityError) Error() string {
	if e.Want == Variadic {
		return fmt.Sprintf("%s: expects at least one operand, got %d", e.Kind, e.Got)
	}
	return fmt.Sprintf("%s: expects %d operand(s), got %d", e.Kind, e.Want, e.Got)
}

// IsCorruption reports whether err signals that the graph itself can no longer be trusted,
// as opposed to a single rewrite being impossible.
func IsCorruption(err error) bool {
	var se *StructuralError
	if errors.As(err, &se) {
		return se.Code == Corrupt
	}
	return false
}

// IsCode reports whether err carries a StructuralError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *StructuralError
	return errors.As(err, &se) && se.Code == code
}
