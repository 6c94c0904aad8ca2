package krontab

import (
	"fmt"
	"strings"
	"time"
)

// maxCandidates caps the number of materialized candidates. Larger cross products
// are searched directly over the field sets, which yields the same instants.
const maxCandidates = 4096

// Schedule is a parsed expression. It is immutable and safe for concurrent use.
type Schedule struct {
	expr       string
	sets       [fieldCount]FieldSet
	candidates []CronDateTime
	folded     bool
}

// Parse builds a schedule from an expression of five whitespace-separated fields:
// second, minute, hour, day-of-month and month.
//
//	"0 0 12 * *"      every day at noon
//	"0/15 * * * *"    every 15 seconds
//	"0 30 9 1,15 *"   09:30 on the 1st and 15th
//	"0 0 0 29 2"      midnight on February 29th, leap years only
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != fieldCount {
		return nil, &ParseError{
			Text:       expr,
			Expression: true,
			Err:        fmt.Errorf("%w: want %d fields, got %d", ErrMalformedExpression, fieldCount, len(fields)),
		}
	}

	s := &Schedule{expr: strings.Join(fields, " ")}
	product := 1
	for _, f := range Fields {
		set, err := ParseField(fields[f], f)
		if err != nil {
			return nil, err
		}
		s.sets[f] = set
		if !set.IsAny() && product <= maxCandidates {
			product *= len(set.values)
		}
	}

	if product <= maxCandidates {
		candidates := assemble(s.sets)
		if len(candidates) == 0 {
			return nil, &ParseError{Text: expr, Expression: true, Err: ErrEmptyCandidateSet}
		}
		s.candidates = prune(candidates)
		s.folded = true
	}
	return s, nil
}

// MustParse is like Parse but panics on error.
func MustParse(expr string) *Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the normalized source expression.
func (s *Schedule) String() string {
	return s.expr
}

// Field returns the expansion of one field.
func (s *Schedule) Field(f Field) FieldSet {
	return s.sets[f]
}

// Candidates returns a copy of the assembled candidates. It returns nil when the
// cross product was too large to materialize.
func (s *Schedule) Candidates() []CronDateTime {
	if !s.folded {
		return nil
	}
	return append([]CronDateTime(nil), s.candidates...)
}

// Unconstrained reports whether every field is a wildcard, so every instant matches.
func (s *Schedule) Unconstrained() bool {
	for _, set := range s.sets {
		if !set.IsAny() {
			return false
		}
	}
	return true
}

// NextAfter returns the earliest instant at or after ref, at whole-second
// granularity and in ref's location, that satisfies every field. The boolean is
// false when the schedule never matches, e.g. "0 0 0 30 2".
//
// For an unconstrained schedule the result is ref rounded up to a whole second.
func (s *Schedule) NextAfter(ref time.Time) (time.Time, bool) {
	if !s.folded {
		return search(ref, setMatcher(&s.sets))
	}

	var (
		best  time.Time
		found bool
	)
	for _, c := range s.candidates {
		next, ok := search(ref, candidateMatcher(c))
		if ok && (!found || next.Before(best)) {
			best, found = next, true
		}
	}
	return best, found
}

// NextOrNow returns ref itself for an unconstrained schedule and NextAfter otherwise.
//
// Unlike NextAfter, the unconstrained result keeps ref's sub-second part: the
// caller gets "now" rather than the next whole second. For a ref that is already
// a whole second both methods agree.
func (s *Schedule) NextOrNow(ref time.Time) (time.Time, bool) {
	if s.Unconstrained() {
		return ref, true
	}
	return s.NextAfter(ref)
}

// Next returns the earliest matching instant strictly after t, or the zero time
// when there is none. It satisfies the Schedule interface of github.com/robfig/cron/v3.
func (s *Schedule) Next(t time.Time) time.Time {
	next, ok := s.NextAfter(t.Truncate(time.Second).Add(time.Second))
	if !ok {
		return time.Time{}
	}
	return next
}

// UpcomingFrom returns up to n consecutive occurrences at or after ref. The
// first element is NextAfter(ref), so a ref that matches is included.
func (s *Schedule) UpcomingFrom(ref time.Time, n int) []time.Time {
	if n < 1 {
		return nil
	}
	out := make([]time.Time, 0, n)
	first, ok := s.NextAfter(ref)
	if !ok {
		return out
	}
	out = append(out, first)
	return append(out, s.Upcoming(first, n-1)...)
}

// Upcoming returns up to n consecutive occurrences strictly after t.
func (s *Schedule) Upcoming(t time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for len(out) < n {
		next := s.Next(t)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}
