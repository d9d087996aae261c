package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hgarg/doorlock-core/internal/enroll"
)

// handleStartEnrolment begins an attended enrolment for a new user.
func (s *Server) handleStartEnrolment(w http.ResponseWriter, r *http.Request) {
	if s.enrol == nil {
		writeUnavailable(w, "enrolment not available")
		return
	}

	var req enroll.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeBadRequest(w, "email is required")
		return
	}

	// The enrolment worker outlives this request; its lifetime is bounded
	// by the manager's own cancellation, not the HTTP connection.
	snap, err := s.enrol.Start(context.Background(), req)
	switch {
	case errors.Is(err, enroll.ErrEnrolmentActive):
		writeConflict(w, "an enrolment is already in progress")
		return
	case err != nil:
		s.logger.Error("failed to start enrolment", "error", err)
		writeInternalError(w, "failed to start enrolment")
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// handleGetEnrolment returns the current enrolment state.
func (s *Server) handleGetEnrolment(w http.ResponseWriter, _ *http.Request) {
	if s.enrol == nil {
		writeUnavailable(w, "enrolment not available")
		return
	}

	snap := s.enrol.Status()
	if snap.ID == "" {
		writeNotFound(w, "no enrolment")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleCancelEnrolment aborts the in-progress enrolment.
func (s *Server) handleCancelEnrolment(w http.ResponseWriter, _ *http.Request) {
	if s.enrol == nil {
		writeUnavailable(w, "enrolment not available")
		return
	}

	if err := s.enrol.Cancel(); err != nil {
		writeNotFound(w, "no enrolment in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
