// Package timetable turns upstream lesson records into canonical events and
// runs the filtering and conflict detection over them.
package timetable

import (
	"math"
	"strconv"
	"strings"
	"time"

	"unical/internal/model"
)

// CourseKey identifies a course offering: title, numeric year and program
// joined with "_". Two events with the same key are the same course for
// filtering purposes even when other fields differ.
func CourseKey(e model.Event) string {
	return CourseKeyOf(e.Title, int(e.Year), e.Program)
}

// CourseKeyOf builds a course key from loose parts. year may be an int
// kind, a float, a model.Year or a numeric string; "2" and 2 produce the
// same key.
func CourseKeyOf(title string, year any, program string) string {
	return title + "_" + strconv.Itoa(NumericYear(year)) + "_" + program
}

// EventIdentity identifies a single scheduled session for conflict
// tracking: title, start and program joined with "_". The start component
// is the value as received from upstream, not a re-formatted time.
func EventIdentity(e model.Event) string {
	return e.Title + "_" + rawStart(e) + "_" + e.Program
}

func rawStart(e model.Event) string {
	if e.RawStart != "" {
		return e.RawStart
	}
	return e.Start.Format(time.RFC3339)
}

// NumericYear coerces a year value of any of the shapes seen across call
// sites into an int. Unparseable input yields 0.
func NumericYear(v any) int {
	switch y := v.(type) {
	case int:
		return y
	case int8:
		return int(y)
	case int16:
		return int(y)
	case int32:
		return int(y)
	case int64:
		return int(y)
	case uint:
		return int(y)
	case uint8:
		return int(y)
	case uint16:
		return int(y)
	case uint32:
		return int(y)
	case uint64:
		return int(y)
	case float32:
		return floatYear(float64(y))
	case float64:
		return floatYear(y)
	case model.Year:
		return int(y)
	case string:
		s := strings.TrimSpace(y)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatYear(f)
		}
		return 0
	default:
		return 0
	}
}

func floatYear(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int(f)
}
