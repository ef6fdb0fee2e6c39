package web

import (
	"net/http"

	"unical/internal/ics"
	appLog "unical/internal/log"
	"unical/internal/timetable"
)

const feedName = "University Calendar"

// handleCalendar serves the subscription feed for a profile or an inline
// configuration.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store, max-age=0")

	cfg, err := s.resolveConfig(r)
	if err != nil {
		writeConfigError(w, err)
		return
	}

	all := s.aggregate(r.Context(), cfg.timetables)
	selected := timetable.SelectForExport(all, cfg.filters, cfg.allow)

	body, err := ics.Build(selected, ics.Options{
		Name:     feedName,
		Timezone: s.cfg.Timezone,
		Now:      s.now(),
	})
	if err != nil {
		appLog.Error("calendar: build failed", err, "events", len(selected))
		writeError(w, http.StatusInternalServerError, "Error generating calendar")
		return
	}

	appLog.Info("calendar: feed generated",
		"profile", r.URL.Query().Get("profileId"),
		"events", len(all),
		"exported", len(selected),
	)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ics.Filename(feedName)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
