package ics

import (
	"errors"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "unical/internal/log"
)

// FeedEvent is a VEVENT read back from a feed.
type FeedEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Categories  []string
	Start       time.Time
	End         time.Time
}

// Parse reads a VCALENDAR and returns its events. VEVENTs without a UID or
// a valid start/end are skipped.
func Parse(r io.Reader) ([]FeedEvent, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, err
	}

	events := make([]FeedEvent, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(ve)
		if err != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Debug("ics: skipping vevent", "err", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (FeedEvent, error) {
	var out FeedEvent

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescape(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescape(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescape(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentProperty("CATEGORIES")); p != nil && p.Value != "" {
		out.Categories = strings.Split(unescape(p.Value), ",")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return out, err
	}
	if !start.Before(end) {
		return out, errors.New("empty interval")
	}
	out.Start, out.End = start, end
	return out, nil
}

// unescape reverses RFC 5545 TEXT escaping for values the library returns
// verbatim.
func unescape(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}
