package krontab

import "fmt"

// Field identifies one of the five calendar components an expression constrains.
// The numeric order is the order of fields in an expression.
type Field int

const (
	// Second is the seconds field (0-59).
	Second Field = iota
	// Minute is the minutes field (0-59).
	Minute
	// Hour is the hours field (0-23).
	Hour
	// DayOfMonth is the day-of-month field (1-31).
	DayOfMonth
	// Month is the month field (1-12).
	Month
)

// fieldCount is the number of fields in an expression.
const fieldCount = 5

// Fields lists every field in expression order.
var Fields = [fieldCount]Field{Second, Minute, Hour, DayOfMonth, Month}

// FieldRange is an inclusive range of valid values for a field.
type FieldRange struct {
	Min int
	Max int
}

// Range returns the inclusive bounds of the field.
func (f Field) Range() FieldRange {
	switch f {
	case Second, Minute:
		return FieldRange{Min: 0, Max: 59}
	case Hour:
		return FieldRange{Min: 0, Max: 23}
	case DayOfMonth:
		return FieldRange{Min: 1, Max: 31}
	case Month:
		return FieldRange{Min: 1, Max: 12}
	default:
		panic(fmt.Sprintf("krontab: unknown field %d", int(f)))
	}
}

// String returns the field name as used in error messages.
func (f Field) String() string {
	switch f {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case DayOfMonth:
		return "day-of-month"
	case Month:
		return "month"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Clamp pulls v into the range. Out-of-range values saturate at the nearest bound.
func (r FieldRange) Clamp(v int) int {
	if v < r.Min {
		return r.Min
	}
	if v > r.Max {
		return r.Max
	}
	return v
}

// Size returns the number of values in the range.
func (r FieldRange) Size() int {
	return r.Max - r.Min + 1
}

// Contains reports whether v lies within the range.
func (r FieldRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}
