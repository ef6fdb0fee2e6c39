package timetable

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "unical/internal/log"
	"unical/internal/model"
)

// DefaultFetchTimeout bounds each per-year upstream request.
const DefaultFetchTimeout = 10 * time.Second

// ProgramType is the degree type, which bounds the number of years.
type ProgramType string

const (
	ProgramBachelor    ProgramType = "bachelor"
	ProgramMaster      ProgramType = "master"
	ProgramSingleCycle ProgramType = "single_cycle"
)

// MaxYears returns the number of degree years for the program type.
func (p ProgramType) MaxYears() int {
	switch p {
	case ProgramMaster:
		return 2
	case ProgramSingleCycle:
		return 6
	default:
		return 3
	}
}

var (
	masterSegments      = []string{"/magistrale/", "/2cycle/"}
	singleCycleSegments = []string{"/magistralecu/", "/singlecycle/", "/single-cycle/", "ciclo-unico", "ciclounico"}
	singleCycleNames    = []string{"single cycle", "ciclo unico", "6 year", "6-year"}
)

// DetectProgramType infers the degree type from the timetable URL path and,
// for single-cycle programs, from hints in the program name.
func DetectProgramType(rawURL, programName string) ProgramType {
	u := strings.ToLower(rawURL)
	name := strings.ToLower(programName)

	if containsAny(u, singleCycleSegments) || containsAny(name, singleCycleNames) {
		return ProgramSingleCycle
	}
	if containsAny(u, masterSegments) {
		return ProgramMaster
	}
	return ProgramBachelor
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// YearURL returns rawURL with its anno parameter set to year. Other query
// parameters, including curricula, are kept.
func YearURL(rawURL string, year int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse timetable url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("timetable url %q is not absolute", rawURL)
	}
	q := u.Query()
	q.Set("anno", strconv.Itoa(year))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetcher retrieves the raw lesson records of one timetable URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]model.RawEvent, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]model.RawEvent, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]model.RawEvent, error) {
	return f(ctx, url)
}

// Aggregator fans out one fetch per (program, year) and merges the results.
type Aggregator struct {
	fetcher       Fetcher
	location      *time.Location
	timeout       time.Duration
	concurrency   int
	yearOverrides map[string]int
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLocation sets the zone for upstream timestamps without an offset.
func WithLocation(loc *time.Location) AggregatorOption {
	return func(a *Aggregator) {
		if loc != nil {
			a.location = loc
		}
	}
}

// WithFetchTimeout bounds each per-year request.
func WithFetchTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithConcurrency caps the number of year fetches in flight. n <= 0 means
// no cap.
func WithConcurrency(n int) AggregatorOption {
	return func(a *Aggregator) {
		a.concurrency = n
	}
}

// WithYearOverrides sets manual year counts keyed by program name. They take
// precedence over URL detection.
func WithYearOverrides(overrides map[string]int) AggregatorOption {
	return func(a *Aggregator) {
		a.yearOverrides = overrides
	}
}

func NewAggregator(f Fetcher, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		fetcher:  f,
		location: time.Local,
		timeout:  DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MaxYears returns how many years are fetched for a timetable.
func (a *Aggregator) MaxYears(tt model.Timetable) int {
	if n, ok := a.yearOverrides[tt.Name]; ok && n > 0 {
		return n
	}
	return DetectProgramType(tt.URL, tt.Name).MaxYears()
}

type yearTask struct {
	program int
	year    int
	url     string
}

// Fetch fetches every year of every timetable concurrently and returns the
// merged events: programs in input order, years ascending within a program.
// A failed year contributes nothing and never fails the whole call.
func (a *Aggregator) Fetch(ctx context.Context, timetables []model.Timetable) []model.Event {
	if len(timetables) == 0 {
		return []model.Event{}
	}

	// results[program][year-1] is written by exactly one goroutine.
	results := make([][][]model.Event, len(timetables))
	tasks := make([]yearTask, 0)

	for i, tt := range timetables {
		maxYears := a.MaxYears(tt)
		results[i] = make([][]model.Event, maxYears)
		for year := 1; year <= maxYears; year++ {
			yearURL, err := YearURL(tt.URL, year)
			if err != nil {
				appLog.Error("aggregate: invalid timetable url", err, "program", tt.Name)
				break
			}
			tasks = append(tasks, yearTask{program: i, year: year, url: yearURL})
		}
		appLog.Debug("aggregate: program planned", "program", tt.Name, "max_years", maxYears)
	}

	// Tasks never return an error: a failed year is logged and left empty,
	// so the group context is never canceled by a sibling.
	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for _, task := range tasks {
		g.Go(func() error {
			results[task.program][task.year-1] = a.fetchYear(ctx, timetables[task.program].Name, task)
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]model.Event, 0)
	for _, years := range results {
		for _, events := range years {
			merged = append(merged, events...)
		}
	}
	appLog.Info("aggregate: completed", "programs", len(timetables), "requests", len(tasks), "events", len(merged))
	return merged
}

func (a *Aggregator) fetchYear(ctx context.Context, program string, task yearTask) []model.Event {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raws, err := a.fetcher.Fetch(ctx, task.url)
	if err != nil {
		appLog.Error("aggregate: year fetch failed", err, "program", program, "year", task.year)
		return nil
	}

	events, dropped := NormalizeAll(raws, task.year, program, a.location)
	for i := range events {
		events[i].TimetableURL = task.url
	}
	if dropped > 0 {
		appLog.Warn("aggregate: dropped malformed records", "program", program, "year", task.year, "dropped", dropped)
	}
	return events
}
