package timetable

import (
	"encoding/json"
	"slices"
	"strings"

	"unical/internal/model"
)

// programSeparator splits "<BaseName> - Year <n> - <curriculum>".
const programSeparator = " - "

// BaseProgramName returns the program name up to the first " - ".
func BaseProgramName(program string) string {
	base, _, _ := strings.Cut(program, programSeparator)
	return base
}

// CourseKeySet is an allow-list of course keys. A nil or empty set means
// no allow-list.
type CourseKeySet map[string]struct{}

// NewCourseKeySet builds a set from keys; it returns nil for no keys.
func NewCourseKeySet(keys []string) CourseKeySet {
	if len(keys) == 0 {
		return nil
	}
	set := make(CourseKeySet, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func (s CourseKeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// ParseFilters decodes a filter object. Anything that is not a JSON object
// of program entries is treated as no filter and yields nil.
func ParseFilters(data []byte) model.Filters {
	if len(data) == 0 {
		return nil
	}
	var f model.Filters
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// ApplyFilter keeps the events selected by filters and allow, preserving
// input order.
//
// With no filters, only the allow-list applies and an empty allow-list keeps
// everything (the input slice itself is returned). Otherwise an event is kept
// when its base program has an entry and the year, course and allow-list
// checks all pass. Within an entry a nil field is unconstrained and a
// non-nil empty field selects nothing.
func ApplyFilter(events []model.Event, filters model.Filters, allow CourseKeySet) []model.Event {
	if len(filters) == 0 {
		if len(allow) == 0 {
			return events
		}
		out := make([]model.Event, 0, len(events))
		for _, e := range events {
			if allow.Has(CourseKey(e)) {
				out = append(out, e)
			}
		}
		return out
	}

	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if included(e, filters, allow) {
			out = append(out, e)
		}
	}
	return out
}

func included(e model.Event, filters model.Filters, allow CourseKeySet) bool {
	if e.Program == "" {
		return false
	}
	pf, ok := filters[BaseProgramName(e.Program)]
	if !ok {
		return false
	}

	key := CourseKey(e)

	includeYear := pf.SelectedYears == nil || slices.Contains(pf.SelectedYears, model.Year(NumericYear(e.Year)))
	includeCourse := pf.SelectedCourses == nil || slices.Contains(pf.SelectedCourses, key)
	includeByKey := len(allow) == 0 || allow.Has(key)

	return includeYear && includeCourse && includeByKey
}

// HasActiveFilter reports whether either filters or allow constrain the
// result.
func HasActiveFilter(filters model.Filters, allow CourseKeySet) bool {
	return len(filters) > 0 || len(allow) > 0
}

// SelectForExport picks the events for a subscription feed: the filtered
// events when any remain, nothing when a filter is active but matched
// nothing, and every event when no filter is configured.
func SelectForExport(events []model.Event, filters model.Filters, allow CourseKeySet) []model.Event {
	filtered := ApplyFilter(events, filters, allow)
	if len(filtered) > 0 {
		return filtered
	}
	if HasActiveFilter(filters, allow) {
		return []model.Event{}
	}
	return events
}

// ActiveCourseKeys returns the distinct course keys of events in first-seen
// order. Clients send this back as the allow-list of their profile.
func ActiveCourseKeys(events []model.Event) []string {
	seen := make(map[string]struct{}, len(events))
	keys := make([]string, 0)
	for _, e := range events {
		k := CourseKey(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
