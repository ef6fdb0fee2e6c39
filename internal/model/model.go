package model

import (
	"time"
)

// RawEvent is a single lesson record as returned by the upstream timetable
// JSON endpoint, before year/program tagging and date validation.
type RawEvent struct {
	Title   string   `json:"title"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
	Docente string   `json:"docente,omitempty"`
	CFU     *Credits `json:"cfu,omitempty"`
	Aule    []Room   `json:"aule,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// Room describes one classroom attached to a lesson. Only the first room of
// an event is used for display and export.
type Room struct {
	Resource string `json:"des_risorsa,omitempty"`
	Location string `json:"des_ubicazione,omitempty"`
	Building string `json:"des_edificio,omitempty"`
	Floor    string `json:"des_piano,omitempty"`
	Address  string `json:"des_indirizzo,omitempty"`
}

// Event is the canonical lesson shape used by filtering, conflict detection
// and export.
type Event struct {
	Title string `json:"title"`

	// Start / End are the parsed interval; Start is always before End.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// RawStart keeps the start value exactly as the upstream sent it. Event
	// identities are derived from it rather than from Start.
	RawStart string `json:"-"`

	// Program is the display name of the degree program, usually
	// "<BaseName> - Year <n>[ - <curriculum>]".
	Program string `json:"program"`
	Year    Year   `json:"year"`

	Docente string   `json:"docente,omitempty"`
	CFU     *Credits `json:"cfu,omitempty"`
	Aule    []Room   `json:"aule,omitempty"`
	Note    string   `json:"note,omitempty"`

	// TimetableURL is the per-year URL this event was fetched from.
	TimetableURL string `json:"timetableUrl,omitempty"`
}

// Timetable is a configured program source.
type Timetable struct {
	URL  string `json:"url" yaml:"url" validate:"required,url"`
	Name string `json:"name" yaml:"name" validate:"required"`
}

// ProgramFilter holds the user's selection for one base program name.
//
// A nil slice means the field carries no constraint. A non-nil empty slice
// means nothing is selected for that field.
type ProgramFilter struct {
	SelectedYears   []Year   `json:"selectedYears"`
	SelectedCourses []string `json:"selectedCourses"`
}

// Filters maps a base program name to its selection.
type Filters map[string]ProgramFilter

// Profile is the persisted per-user calendar configuration used to serve
// subscription feeds.
type Profile struct {
	ID         string      `json:"profileId"`
	Timetables []Timetable `json:"timetables"`
	Filters    Filters     `json:"filters"`
	CourseKeys []string    `json:"courseKeys"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}
