package krontab

import (
	"fmt"
	"strings"
)

// Unset marks an unconstrained slot of a CronDateTime.
const Unset int8 = -1

// CronDateTime is one candidate combination of calendar fields. Each slot holds
// a concrete value or Unset, in which case any value of that field keeps the
// candidate valid. Slots are indexed by Field.
type CronDateTime [fieldCount]int8

// unconstrained is the seed of the assembler.
var unconstrained = CronDateTime{Unset, Unset, Unset, Unset, Unset}

// Get returns the value of the slot for f and whether it is concrete.
func (c CronDateTime) Get(f Field) (int, bool) {
	v := c[f]
	return int(v), v != Unset
}

// With returns a copy of c with the slot for f set to v.
func (c CronDateTime) With(f Field, v int) CronDateTime {
	c[f] = int8(v)
	return c
}

// String renders the candidate in expression order with "*" for unset slots.
func (c CronDateTime) String() string {
	parts := make([]string, fieldCount)
	for i, v := range c {
		if v == Unset {
			parts[i] = "*"
		} else {
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, " ")
}

// possible reports whether a candidate's fixed month and day can ever coexist.
// February is checked against its leap-year length.
func (c CronDateTime) possible() bool {
	day, hasDay := c.Get(DayOfMonth)
	month, hasMonth := c.Get(Month)
	if !hasDay || !hasMonth {
		return true
	}
	return day <= maxDaysIn(month)
}

func maxDaysIn(month int) int {
	switch month {
	case 2:
		return 29
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

// assemble folds the field sets into candidates, seconds first and month last.
// A wildcard leaves every candidate unconstrained in that field; a concrete set
// replaces the list with its cross product against the set's values.
func assemble(sets [fieldCount]FieldSet) []CronDateTime {
	candidates := []CronDateTime{unconstrained}
	for _, f := range Fields {
		set := sets[f]
		if set.IsAny() {
			continue
		}
		folded := make([]CronDateTime, 0, len(candidates)*len(set.values))
		for _, c := range candidates {
			for _, v := range set.values {
				folded = append(folded, c.With(f, v))
			}
		}
		candidates = folded
	}
	return candidates
}

// prune drops the candidates that name a day the month never has.
func prune(candidates []CronDateTime) []CronDateTime {
	out := make([]CronDateTime, 0, len(candidates))
	for _, c := range candidates {
		if c.possible() {
			out = append(out, c)
		}
	}
	return out
}
