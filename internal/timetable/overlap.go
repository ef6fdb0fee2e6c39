package timetable

import (
	"unical/internal/model"
)

// ConflictSet is a set of EventIdentity values. It is always derived from
// an event slice and never stored.
type ConflictSet map[string]struct{}

// Has reports whether the identity is in the set.
func (s ConflictSet) Has(identity string) bool {
	_, ok := s[identity]
	return ok
}

// Contains reports whether the event's identity is in the set.
func (s ConflictSet) Contains(e model.Event) bool {
	return s.Has(EventIdentity(e))
}

// Overlaps reports whether a and b share an instant other than a boundary.
// Intervals that merely touch (a.End == b.Start) do not overlap.
func Overlaps(a, b model.Event) bool {
	startsInside := !a.Start.Before(b.Start) && a.Start.Before(b.End)
	endsInside := a.End.After(b.Start) && !a.End.After(b.End)
	contains := !a.Start.After(b.Start) && !a.End.Before(b.End)
	return startsInside || endsInside || contains
}

// FindConflicts checks every unordered pair and returns the identities of
// all events involved in at least one overlap.
func FindConflicts(events []model.Event) ConflictSet {
	set := make(ConflictSet)
	for i := range events {
		for j := i + 1; j < len(events); j++ {
			if Overlaps(events[i], events[j]) {
				set[EventIdentity(events[i])] = struct{}{}
				set[EventIdentity(events[j])] = struct{}{}
			}
		}
	}
	return set
}

// HasConflict reports whether event's identity appears in the conflict set
// of allEvents.
func HasConflict(event model.Event, allEvents []model.Event) bool {
	return FindConflicts(allEvents).Contains(event)
}

// ConflictingEvents returns every element of allEvents that overlaps *event,
// skipping only the element event points at. Distinct elements with equal
// fields are still reported as conflicts.
func ConflictingEvents(event *model.Event, allEvents []model.Event) []model.Event {
	out := make([]model.Event, 0)
	for i := range allEvents {
		if &allEvents[i] == event {
			continue
		}
		if Overlaps(*event, allEvents[i]) {
			out = append(out, allEvents[i])
		}
	}
	return out
}

// ConflictPair is one overlapping pair, in input order.
type ConflictPair struct {
	First  model.Event
	Second model.Event
}

// ConflictPairs lists every overlapping pair (i < j). limit <= 0 means no
// limit.
func ConflictPairs(events []model.Event, limit int) []ConflictPair {
	pairs := make([]ConflictPair, 0)
	for i := range events {
		for j := i + 1; j < len(events); j++ {
			if !Overlaps(events[i], events[j]) {
				continue
			}
			pairs = append(pairs, ConflictPair{First: events[i], Second: events[j]})
			if limit > 0 && len(pairs) >= limit {
				return pairs
			}
		}
	}
	return pairs
}
