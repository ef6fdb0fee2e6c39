package timetable

import (
	"math"
	"sort"
	"strconv"
	"time"

	"unical/internal/model"
)

// maxReportedConflicts caps the conflict pairs listed in a Summary.
const maxReportedConflicts = 5

// Summary aggregates workload figures over a set of events.
type Summary struct {
	TotalEvents      int            `json:"totalEvents"`
	TotalHours       float64        `json:"totalHours"`
	WeeklyHours      float64        `json:"weeklyHours"`
	BusiestDay       string         `json:"busiestDay"`
	CoursesByYear    map[string]int `json:"coursesByYear"`
	HourDistribution [24]int        `json:"hourDistribution"`
	DayDistribution  [7]int         `json:"dayDistribution"`
	Conflicts        []ConflictNote `json:"conflicts"`
}

// ConflictNote is a human-readable overlap entry.
type ConflictNote struct {
	First  string    `json:"event1"`
	Second string    `json:"event2"`
	Start  time.Time `json:"time"`
}

// Summarize computes a Summary. now selects the current week (Monday to
// Sunday in loc); hours and weekdays are also taken in loc.
func Summarize(events []model.Event, now time.Time, loc *time.Location) Summary {
	if loc == nil {
		loc = time.Local
	}
	s := Summary{
		BusiestDay:    "N/A",
		CoursesByYear: map[string]int{},
		Conflicts:     []ConflictNote{},
	}
	if len(events) == 0 {
		return s
	}

	weekStart, weekEnd := weekBounds(now.In(loc))
	courses := make(map[string]map[string]struct{})

	var total, weekly time.Duration
	for _, e := range events {
		d := e.End.Sub(e.Start)
		total += d

		start := e.Start.In(loc)
		if !start.Before(weekStart) && start.Before(weekEnd) {
			weekly += d
		}

		year := "Unknown"
		if e.Year > 0 {
			year = strconv.Itoa(int(e.Year))
		}
		if courses[year] == nil {
			courses[year] = make(map[string]struct{})
		}
		courses[year][e.Title] = struct{}{}

		s.HourDistribution[start.Hour()]++
		s.DayDistribution[int(start.Weekday())]++
	}

	s.TotalEvents = len(events)
	s.TotalHours = roundTenth(total.Hours())
	s.WeeklyHours = roundTenth(weekly.Hours())
	for year, titles := range courses {
		s.CoursesByYear[year] = len(titles)
	}

	busiest := 0
	for d := 1; d < len(s.DayDistribution); d++ {
		if s.DayDistribution[d] > s.DayDistribution[busiest] {
			busiest = d
		}
	}
	s.BusiestDay = time.Weekday(busiest).String()

	for _, p := range ConflictPairs(events, maxReportedConflicts) {
		s.Conflicts = append(s.Conflicts, ConflictNote{
			First:  p.First.Title,
			Second: p.Second.Title,
			Start:  p.First.Start.In(loc),
		})
	}
	return s
}

// weekBounds returns [Monday 00:00, next Monday 00:00) around t.
func weekBounds(t time.Time) (time.Time, time.Time) {
	offset := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 7)
}

func roundTenth(f float64) float64 {
	return math.Round(f*10) / 10
}

// Upcoming returns the events starting in (now, now+within], sorted by start.
func Upcoming(events []model.Event, now time.Time, within time.Duration) []model.Event {
	limit := now.Add(within)
	out := make([]model.Event, 0)
	for _, e := range events {
		if e.Start.After(now) && !e.Start.After(limit) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}
