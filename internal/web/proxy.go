package web

import (
	"encoding/json"
	"errors"
	"net/http"

	appLog "unical/internal/log"
	"unical/internal/upstream"
)

// handleFetchSchedule proxies a timetable URL so browsers can read it
// without CORS restrictions. The body is passed through unchanged.
func (s *Server) handleFetchSchedule(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Missing url parameter",
			Message: "Please provide a url query parameter",
		})
		return
	}

	res, err := s.upstream.FetchUncached(r.Context(), target)
	if err != nil {
		appLog.Error("proxy: fetch failed", err, "url", upstream.RedactURL(target))
		writeUpstreamError(w, err)
		return
	}

	if !json.Valid(res.Body) {
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:   "Upstream server error",
			Message: "response is not valid JSON",
			Status:  http.StatusBadGateway,
		})
		return
	}

	appLog.Debug("proxy: fetched schedule", "url", upstream.RedactURL(target), "bytes", len(res.Body))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "Missing url parameter")
		return
	}
	opts, err := s.upstream.Years(r.Context(), target)
	if err != nil {
		appLog.Error("years: lookup failed", err, "url", upstream.RedactURL(target))
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (s *Server) handleCurricula(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "Missing url parameter")
		return
	}
	year := parseIntDefault(q.Get("anno"), 1)
	if year < 1 {
		writeError(w, http.StatusBadRequest, "anno must be a positive integer")
		return
	}
	opts, err := s.upstream.Curricula(r.Context(), target, year)
	if err != nil {
		appLog.Error("curricula: lookup failed", err, "url", upstream.RedactURL(target), "anno", year)
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// writeUpstreamError answers with the status matching the fetch failure.
func writeUpstreamError(w http.ResponseWriter, err error) {
	status := upstream.HTTPStatus(err)

	var se *upstream.StatusError
	switch {
	case errors.As(err, &se):
		writeJSON(w, status, errorResponse{
			Error:   "Upstream server error",
			Message: se.Status,
			Status:  se.StatusCode,
		})
	case errors.Is(err, upstream.ErrNoResponse):
		writeJSON(w, status, errorResponse{
			Error:   "No response from upstream server",
			Message: "The timetable server did not respond. Please try again later.",
		})
	default:
		writeJSON(w, status, errorResponse{
			Error:   "Server error",
			Message: err.Error(),
		})
	}
}
