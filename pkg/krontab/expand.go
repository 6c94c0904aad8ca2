package krontab

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// FieldSet is the expansion of one field: either the wildcard, matching every
// value in the field's range, or a non-empty ascending set of distinct values.
//
// The zero value is the wildcard.
type FieldSet struct {
	concrete bool
	values   []int
}

// AnyValue returns the wildcard set.
func AnyValue() FieldSet {
	return FieldSet{}
}

// ValuesOf returns a concrete set holding vs, sorted and deduplicated.
// It panics when vs is empty: an empty concrete set has no meaning.
func ValuesOf(vs ...int) FieldSet {
	if len(vs) == 0 {
		panic("krontab: ValuesOf requires at least one value")
	}
	values := append([]int(nil), vs...)
	sort.Ints(values)
	out := values[:1]
	for _, v := range values[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return FieldSet{concrete: true, values: out}
}

// IsAny reports whether the set is the wildcard.
func (s FieldSet) IsAny() bool {
	return !s.concrete
}

// Values returns a copy of the concrete values, or nil for the wildcard.
func (s FieldSet) Values() []int {
	if !s.concrete {
		return nil
	}
	return append([]int(nil), s.values...)
}

// Contains reports whether v is matched by the set.
func (s FieldSet) Contains(v int) bool {
	if !s.concrete {
		return true
	}
	i := sort.SearchInts(s.values, v)
	return i < len(s.values) && s.values[i] == v
}

// String renders the set as "*" or a comma-separated list.
func (s FieldSet) String() string {
	if !s.concrete {
		return "*"
	}
	parts := make([]string, len(s.values))
	for i, v := range s.values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// ParseField expands the text of a single field into the set of values it denotes.
//
// The text is a comma-separated list of segments, matched case-insensitively:
//
//	*      every value; any such segment makes the whole field a wildcard
//	N      a single value
//	N-M    every value from N to M inclusive
//	N/S    every S-th value from N up to the field maximum; N may be empty or *
//	f, l   the field minimum and maximum, usable wherever an integer is expected
//
// Integers outside the field range are clamped to the nearest bound.
// A set that covers the entire range is returned as the wildcard, so "f-l" and "*"
// are the same set.
func ParseField(text string, f Field) (FieldSet, error) {
	r := f.Range()
	segments := strings.Split(text, ",")
	for i, raw := range segments {
		segments[i] = strings.ToLower(strings.TrimSpace(raw))
		if segments[i] == "*" {
			return AnyValue(), nil
		}
	}

	seen := make([]bool, r.Max+1)
	for _, segment := range segments {
		if segment == "" {
			return FieldSet{}, fieldError(f, text, fmt.Errorf("%w: empty segment", ErrMalformedField))
		}
		if err := expandSegment(segment, r, seen); err != nil {
			return FieldSet{}, fieldError(f, segment, err)
		}
	}

	values := make([]int, 0, r.Size())
	for v := r.Min; v <= r.Max; v++ {
		if seen[v] {
			values = append(values, v)
		}
	}
	if len(values) == r.Size() {
		return AnyValue(), nil
	}
	return FieldSet{concrete: true, values: values}, nil
}

// expandSegment marks every value denoted by one comma segment in seen.
// A dash after the first character makes a range and takes precedence over a slash;
// a leading dash is the sign of a negative literal.
func expandSegment(segment string, r FieldRange, seen []bool) error {
	if i := strings.IndexByte(segment[1:], '-'); i >= 0 {
		low, err := operand(segment[:i+1], r)
		if err != nil {
			return err
		}
		high, err := operand(segment[i+2:], r)
		if err != nil {
			return err
		}
		low, high = r.Clamp(low), r.Clamp(high)
		if low > high {
			return fmt.Errorf("%w: %d-%d", ErrInvertedRange, low, high)
		}
		for v := low; v <= high; v++ {
			seen[v] = true
		}
		return nil
	}

	if startText, stepText, ok := strings.Cut(segment, "/"); ok {
		start := 0
		if startText != "" && startText != "*" {
			var err error
			if start, err = operand(startText, r); err != nil {
				return err
			}
		}
		step, err := operand(stepText, r)
		if err != nil {
			return err
		}
		start, step = r.Clamp(start), r.Clamp(step)
		if step < 1 {
			return fmt.Errorf("%w: step %q never advances", ErrMalformedField, stepText)
		}
		for v := start; v <= r.Max; v += step {
			seen[v] = true
		}
		return nil
	}

	v, err := operand(segment, r)
	if err != nil {
		return err
	}
	seen[r.Clamp(v)] = true
	return nil
}

// operand resolves the f/l aliases and parses an integer. Integers too large for
// an int saturate like any other out-of-range value.
func operand(text string, r FieldRange) (int, error) {
	switch text {
	case "f":
		return r.Min, nil
	case "l":
		return r.Max, nil
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			if strings.HasPrefix(text, "-") {
				return r.Min, nil
			}
			return r.Max, nil
		}
		return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformedField, text)
	}
	return v, nil
}
