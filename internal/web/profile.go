package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	appLog "unical/internal/log"
	"unical/internal/model"
	"unical/internal/profile"
	"unical/internal/timetable"
)

// maxProfileBody caps POST /api/profile payloads.
const maxProfileBody = 1 << 20

type profileRequest struct {
	ProfileID  string            `json:"profileId" validate:"required,max=128"`
	Timetables []model.Timetable `json:"timetables" validate:"required,min=1,dive"`
	// Filters is decoded leniently; a shape mismatch stores no filter.
	Filters    json.RawMessage `json:"filters"`
	CourseKeys []string        `json:"courseKeys"`
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxProfileBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.validate.Struct(req); err != nil {
		fields, ok := fieldErrors(err)
		if !ok {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		msg := "validation failed"
		if _, missing := fields["profileId"]; missing {
			msg = "Missing profileId"
		} else if _, missing := fields["timetables"]; missing {
			msg = "No timetables provided"
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Fields: fields})
		return
	}

	courseKeys := req.CourseKeys
	if courseKeys == nil {
		courseKeys = []string{}
	}
	p := model.Profile{
		ID:         req.ProfileID,
		Timetables: req.Timetables,
		Filters:    timetable.ParseFilters(req.Filters),
		CourseKeys: courseKeys,
		UpdatedAt:  s.now(),
	}
	if err := s.store.Put(r.Context(), p); err != nil {
		appLog.Error("profile: store failed", err, "profile", p.ID)
		writeError(w, http.StatusInternalServerError, "Failed to store profile configuration")
		return
	}

	appLog.Info("profile: stored timetable configuration", "profile", p.ID, "timetables", len(p.Timetables))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("profileId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing profileId")
		return
	}
	p, err := s.store.Get(r.Context(), id)
	if errors.Is(err, profile.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		appLog.Error("profile: load failed", err, "profile", id)
		writeError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleNewProfileID hands out an unused ID for clients that have none yet.
func (s *Server) handleNewProfileID(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"profileId": profile.NewID()})
}
