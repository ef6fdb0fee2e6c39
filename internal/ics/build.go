package ics

import (
	"errors"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"unical/internal/model"
	"unical/internal/timetable"
)

// Options controls calendar-level properties of an exported feed.
type Options struct {
	ProductID   string
	Name        string
	Description string
	Timezone    string
	// UIDDomain is appended to every event UID ("<identity>@<domain>").
	UIDDomain string
	// Now stamps DTSTAMP; zero means time.Now().
	Now time.Time
}

func (o *Options) normalize() {
	if o.ProductID == "" {
		o.ProductID = "-//unical//University Timetable//IT"
	}
	if o.Name == "" {
		o.Name = "University Timetable"
	}
	if o.Timezone == "" {
		o.Timezone = "Europe/Rome"
	}
	if o.UIDDomain == "" {
		o.UIDDomain = "unical"
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
}

var uidUnsafe = regexp.MustCompile(`[^A-Za-z0-9._:@+-]+`)

// UID derives a stable event UID from the event identity.
func UID(e model.Event, domain string) string {
	return uidUnsafe.ReplaceAllString(timetable.EventIdentity(e), "-") + "@" + domain
}

// Build renders events as a VCALENDAR feed. Start and end are written in
// UTC; the first room becomes the location and the program the category.
func Build(events []model.Event, opts Options) (string, error) {
	opts.normalize()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(opts.ProductID)
	cal.SetCalscale("GREGORIAN")
	cal.SetXWRCalName(opts.Name)
	cal.SetXWRTimezone(opts.Timezone)
	if opts.Description != "" {
		cal.SetXWRCalDesc(opts.Description)
	}

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if !e.Start.Before(e.End) {
			return "", errors.New("ics: event " + timetable.EventIdentity(e) + " has an empty interval")
		}
		uid := UID(e, opts.UIDDomain)
		// Identical identities are the same session; emit it once.
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}

		ve := cal.AddEvent(uid)
		ve.SetDtStampTime(opts.Now.UTC())
		ve.SetStartAt(e.Start.UTC())
		ve.SetEndAt(e.End.UTC())
		ve.SetSummary(e.Title)
		ve.SetDescription(timetable.Description(e))
		if loc := timetable.Location(e); loc != "" {
			ve.SetLocation(loc)
		}
		if e.Program != "" {
			// Use raw property names to avoid constant mismatch across library versions.
			ve.SetProperty(ical.ComponentProperty("CATEGORIES"), e.Program)
		}
		ve.SetProperty(ical.ComponentProperty("STATUS"), "CONFIRMED")
		ve.SetProperty(ical.ComponentProperty("TRANSP"), "OPAQUE")
	}

	return cal.Serialize(), nil
}

// Filename returns a safe attachment name for a feed.
func Filename(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = uidUnsafe.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "calendar"
	}
	return name + ".ics"
}
