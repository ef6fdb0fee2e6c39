package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"time"

	appLog "unical/internal/log"
	"unical/internal/model"
	"unical/internal/profile"
	"unical/internal/timetable"
)

// requestConfig is the timetable selection a request resolved to.
type requestConfig struct {
	timetables []model.Timetable
	filters    model.Filters
	allow      timetable.CourseKeySet
}

// configError is a user-facing resolution failure.
type configError struct {
	status int
	msg    string
}

func (e *configError) Error() string { return e.msg }

// resolveConfig picks the timetables for a request: a stored profile named
// by profileId, else an inline urls parameter, else the configured
// defaults.
func (s *Server) resolveConfig(r *http.Request) (requestConfig, error) {
	q := r.URL.Query()
	profileID := q.Get("profileId")
	urlsParam := q.Get("urls")

	var (
		cfg   requestConfig
		found bool
	)
	if profileID != "" {
		p, err := s.store.Get(r.Context(), profileID)
		switch {
		case err == nil && p.Timetables != nil:
			cfg = requestConfig{
				timetables: p.Timetables,
				filters:    p.Filters,
				allow:      timetable.NewCourseKeySet(p.CourseKeys),
			}
			found = true
			appLog.Debug("calendar: loaded profile", "profile", profileID, "timetables", len(p.Timetables))
		case err == nil || errors.Is(err, profile.ErrNotFound):
			appLog.Warn("calendar: no stored timetable configuration", "profile", profileID)
		default:
			appLog.Error("calendar: profile lookup failed", err, "profile", profileID)
			return cfg, &configError{http.StatusInternalServerError, "Internal server error"}
		}
	}

	if !found && urlsParam == "" {
		if len(s.cfg.Timetables) == 0 {
			return cfg, &configError{http.StatusBadRequest, "No calendar configuration provided"}
		}
		cfg.timetables = s.cfg.Timetables
		found = true
	}

	if !found {
		inline, err := parseInlineConfig(urlsParam)
		if err != nil {
			appLog.Warn("calendar: invalid inline configuration", "error", err)
			return cfg, &configError{http.StatusBadRequest, "Invalid calendar configuration"}
		}
		if len(inline.timetables) == 0 {
			return cfg, &configError{http.StatusBadRequest, "No valid timetables provided"}
		}
		cfg = inline
	}

	if len(cfg.timetables) == 0 {
		return cfg, &configError{http.StatusNotFound, "Calendar configuration missing. Re-open the app to refresh your subscription."}
	}
	return cfg, nil
}

// parseInlineConfig accepts either a JSON array of timetables or an object
// {timetables, filters, courseKeys}. A value that is still percent-encoded
// is decoded once more.
func parseInlineConfig(raw string) (requestConfig, error) {
	data := []byte(raw)
	if !json.Valid(data) {
		unescaped, err := url.QueryUnescape(raw)
		if err != nil {
			return requestConfig{}, err
		}
		data = []byte(unescaped)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var tts []model.Timetable
		if err := json.Unmarshal(data, &tts); err != nil {
			return requestConfig{}, err
		}
		return requestConfig{timetables: tts}, nil
	}

	var obj struct {
		Timetables json.RawMessage `json:"timetables"`
		Filters    json.RawMessage `json:"filters"`
		CourseKeys json.RawMessage `json:"courseKeys"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return requestConfig{}, err
	}

	var cfg requestConfig
	// Wrongly shaped members are ignored rather than rejected.
	_ = json.Unmarshal(obj.Timetables, &cfg.timetables)
	cfg.filters = timetable.ParseFilters(obj.Filters)
	var keys []string
	if json.Unmarshal(obj.CourseKeys, &keys) == nil {
		cfg.allow = timetable.NewCourseKeySet(keys)
	}
	return cfg, nil
}

func writeConfigError(w http.ResponseWriter, err error) {
	var ce *configError
	if errors.As(err, &ce) {
		writeError(w, ce.status, ce.msg)
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// eventView is an event as rendered by the API.
type eventView struct {
	model.Event
	DisplayTitle string `json:"displayTitle"`
	CourseKey    string `json:"courseKey"`
	Identity     string `json:"identity"`
	Location     string `json:"location,omitempty"`
	Conflict     bool   `json:"conflict"`
}

func viewsOf(events []model.Event, conflicts timetable.ConflictSet) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		id := timetable.EventIdentity(e)
		out = append(out, eventView{
			Event:        e,
			DisplayTitle: timetable.DisplayTitle(e),
			CourseKey:    timetable.CourseKey(e),
			Identity:     id,
			Location:     timetable.Location(e),
			Conflict:     conflicts.Has(id),
		})
	}
	return out
}

// filteredEvents resolves the request and returns every aggregated event and
// the filtered subset.
func (s *Server) filteredEvents(r *http.Request) (all, filtered []model.Event, err error) {
	cfg, err := s.resolveConfig(r)
	if err != nil {
		return nil, nil, err
	}
	all = s.aggregate(r.Context(), cfg.timetables)
	return all, timetable.ApplyFilter(all, cfg.filters, cfg.allow), nil
}

type eventsResponse struct {
	Total      int         `json:"total"`
	Count      int         `json:"count"`
	CourseKeys []string    `json:"courseKeys"`
	Events     []eventView `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	all, filtered, err := s.filteredEvents(r)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Total:      len(all),
		Count:      len(filtered),
		CourseKeys: timetable.ActiveCourseKeys(all),
		Events:     viewsOf(filtered, timetable.FindConflicts(filtered)),
	})
}

type conflictPairView struct {
	First  eventView `json:"event1"`
	Second eventView `json:"event2"`
}

type conflictsResponse struct {
	Identities []string           `json:"identities"`
	Pairs      []conflictPairView `json:"pairs"`
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	_, filtered, err := s.filteredEvents(r)
	if err != nil {
		writeConfigError(w, err)
		return
	}

	set := timetable.FindConflicts(filtered)
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)
	pairs := timetable.ConflictPairs(filtered, limit)
	views := make([]conflictPairView, 0, len(pairs))
	for _, p := range pairs {
		v := viewsOf([]model.Event{p.First, p.Second}, set)
		views = append(views, conflictPairView{First: v[0], Second: v[1]})
	}

	writeJSON(w, http.StatusOK, conflictsResponse{Identities: ids, Pairs: views})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	_, filtered, err := s.filteredEvents(r)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, timetable.Summarize(filtered, s.now(), s.loc))
}

// handleUpcoming lists lessons starting within ?minutes= (default 60).
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	minutes := parseIntDefault(r.URL.Query().Get("minutes"), 60)
	if minutes <= 0 {
		writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
		return
	}
	_, filtered, err := s.filteredEvents(r)
	if err != nil {
		writeConfigError(w, err)
		return
	}
	upcoming := timetable.Upcoming(filtered, s.now(), time.Duration(minutes)*time.Minute)
	writeJSON(w, http.StatusOK, viewsOf(upcoming, timetable.FindConflicts(filtered)))
}
