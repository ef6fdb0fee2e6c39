package timetable

import (
	"errors"
	"strings"
	"time"

	"unical/internal/model"
)

// Layouts accepted for upstream start/end values. Values without an offset
// are interpreted in the caller's location.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime parses an upstream timestamp. loc is used for values without an
// explicit offset; nil means time.Local.
func ParseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	var lastErr error
	for _, layout := range localLayouts {
		t, err := time.ParseInLocation(layout, v, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Normalize attaches year and program to a raw record and validates its
// interval. ok is false when start or end is missing, unparseable, or
// start is not before end; such records are meant to be skipped.
func Normalize(raw model.RawEvent, year int, program string, loc *time.Location) (model.Event, bool) {
	start, err := ParseTime(raw.Start, loc)
	if err != nil {
		return model.Event{}, false
	}
	end, err := ParseTime(raw.End, loc)
	if err != nil {
		return model.Event{}, false
	}
	if !start.Before(end) {
		return model.Event{}, false
	}

	return model.Event{
		Title:    raw.Title,
		Start:    start,
		End:      end,
		RawStart: raw.Start,
		Program:  program,
		Year:     model.Year(year),
		Docente:  raw.Docente,
		CFU:      raw.CFU,
		Aule:     raw.Aule,
		Note:     raw.Note,
	}, true
}

// NormalizeAll normalizes a batch and returns the kept events plus the number
// of dropped records.
func NormalizeAll(raws []model.RawEvent, year int, program string, loc *time.Location) ([]model.Event, int) {
	out := make([]model.Event, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		ev, ok := Normalize(raw, year, program, loc)
		if !ok {
			dropped++
			continue
		}
		out = append(out, ev)
	}
	return out, dropped
}
