package krontab

import "time"

// searchHorizon bounds the search for a single candidate. Nine years covers the
// eight-year gap between leap days around a non-leap century year.
const searchHorizon = 9

// matcher returns the smallest allowed value of f that is >= from, or false
// when none is left in the current period of the coarser field.
type matcher func(f Field, from int) (int, bool)

// candidateMatcher allows exactly the concrete slots of c.
func candidateMatcher(c CronDateTime) matcher {
	return func(f Field, from int) (int, bool) {
		v, ok := c.Get(f)
		if !ok {
			return from, true
		}
		return v, v >= from
	}
}

// setMatcher allows every value of the field sets. It gives the same result as
// running candidateMatcher over the full cross product.
func setMatcher(sets *[fieldCount]FieldSet) matcher {
	return func(f Field, from int) (int, bool) {
		s := sets[f]
		if s.IsAny() {
			return from, true
		}
		for _, v := range s.values {
			if v >= from {
				return v, true
			}
		}
		return 0, false
	}
}

// ceilSecond rounds t up to a whole second.
func ceilSecond(t time.Time) time.Time {
	r := t.Truncate(time.Second)
	if r.Before(t) {
		r = r.Add(time.Second)
	}
	return r
}

// search finds the earliest instant at or after from that match allows. Units are
// fixed coarse to fine. A unit below its target jumps to the target with finer units
// reset; a unit past every allowed value carries into the next coarser unit.
// time.Date normalizes the calendar (month lengths, leap years, DST gaps).
func search(from time.Time, match matcher) (time.Time, bool) {
	t := ceilSecond(from)
	loc := t.Location()
	limit := t.AddDate(searchHorizon, 0, 0)

	for t.Before(limit) {
		year, month, day := t.Date()
		hour, minute, second := t.Clock()

		m, ok := match(Month, int(month))
		if !ok {
			t = forward(t, time.Date(year+1, time.January, 1, 0, 0, 0, 0, loc))
			continue
		}
		if m != int(month) {
			t = forward(t, time.Date(year, time.Month(m), 1, 0, 0, 0, 0, loc))
			continue
		}

		d, ok := match(DayOfMonth, day)
		if !ok || d > daysIn(year, month) {
			t = forward(t, time.Date(year, month+1, 1, 0, 0, 0, 0, loc))
			continue
		}
		if d != day {
			t = forward(t, time.Date(year, month, d, 0, 0, 0, 0, loc))
			continue
		}

		h, ok := match(Hour, hour)
		if !ok {
			t = forward(t, time.Date(year, month, day+1, 0, 0, 0, 0, loc))
			continue
		}
		if h != hour {
			t = forward(t, time.Date(year, month, day, h, 0, 0, 0, loc))
			continue
		}

		mi, ok := match(Minute, minute)
		if !ok {
			t = forward(t, time.Date(year, month, day, hour+1, 0, 0, 0, loc))
			continue
		}
		if mi != minute {
			t = forward(t, time.Date(year, month, day, hour, mi, 0, 0, loc))
			continue
		}

		s, ok := match(Second, second)
		if !ok {
			t = forward(t, time.Date(year, month, day, hour, minute+1, 0, 0, loc))
			continue
		}
		if s != second {
			t = forward(t, time.Date(year, month, day, hour, minute, s, 0, loc))
			continue
		}

		return t, true
	}
	return time.Time{}, false
}

// forward returns target when it lies after t. Around a DST fall-back the wall
// clock repeats and time.Date may resolve to the earlier instant; the search
// then steps one second at a time so it never moves backwards.
func forward(t, target time.Time) time.Time {
	if target.After(t) {
		return target
	}
	return t.Add(time.Second)
}

// daysIn returns the number of days in the month of the given year.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
