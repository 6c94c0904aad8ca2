package krontab

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedExpression indicates an expression without exactly five fields.
	ErrMalformedExpression = errors.New("malformed expression")

	// ErrMalformedField indicates a token that is not an integer after alias substitution,
	// an empty comma segment, or a step that never advances.
	ErrMalformedField = errors.New("malformed field")

	// ErrInvertedRange indicates a range whose low endpoint exceeds its high endpoint
	// after clamping.
	ErrInvertedRange = errors.New("inverted range")

	// ErrEmptyCandidateSet indicates that assembling the fields produced no candidates.
	ErrEmptyCandidateSet = errors.New("empty candidate set")

	// ErrNoOccurrence is returned by the execution helpers when a schedule never matches.
	ErrNoOccurrence = errors.New("schedule has no next occurrence")
)

// ParseError describes a failure to parse a single field or a whole expression.
type ParseError struct {
	// Field is the field being parsed. It is meaningless when Expression is set.
	Field Field
	// Text is the offending field text or segment.
	Text string
	// Expression is set when the error concerns the expression as a whole.
	Expression bool
	// Err is one of the package sentinel errors, optionally wrapped with detail.
	Err error
}

func (e *ParseError) Error() string {
	if e.Expression {
		return fmt.Sprintf("krontab: expression %q: %v", e.Text, e.Err)
	}
	return fmt.Sprintf("krontab: %s field %q: %v", e.Field, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func fieldError(f Field, text string, err error) error {
	return &ParseError{Field: f, Text: text, Err: err}
}
