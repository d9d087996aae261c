package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hgarg/doorlock-core/internal/lease"
	"github.com/hgarg/doorlock-core/internal/session"
)

// startSessionRequest is the body for POST /session.
type startSessionRequest struct {
	Action string `json:"action"`
}

// submitCodeRequest is the body for POST /session/code.
type submitCodeRequest struct {
	Code string `json:"code"`
}

// handleStartSession starts a new authentication session.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var action session.Action
	switch req.Action {
	case string(session.ActionUnlock):
		action = session.ActionUnlock
	case string(session.ActionLinkAccount):
		action = session.ActionLinkAccount
	default:
		writeBadRequest(w, "action must be \"unlock\" or \"link_account\"")
		return
	}

	snap, err := s.runner.Start(action)
	switch {
	case errors.Is(err, session.ErrSessionActive):
		writeConflict(w, "a session is already in progress")
		return
	case errors.Is(err, lease.ErrBusy):
		writeConflict(w, "keypad is in use")
		return
	case err != nil:
		s.logger.Error("failed to start session", "error", err)
		writeInternalError(w, "failed to start session")
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// handleGetSession returns the current session snapshot.
func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.runner.Current()
	if !ok {
		writeNotFound(w, "no session")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSubmitCode submits the session's access code. Used by panels
// with an on-screen keypad; the physical keypad feeds the same path
// through the tick loop.
func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	var req submitCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.runner.SubmitCode(req.Code)
	switch {
	case errors.Is(err, session.ErrNoSession):
		writeNotFound(w, "no session")
		return
	case errors.Is(err, session.ErrSessionTerminal):
		writeConflict(w, "session already finished")
		return
	case errors.Is(err, session.ErrCodeAlreadySet):
		writeConflict(w, "code already submitted")
		return
	case errors.Is(err, session.ErrInvalidCode):
		writeBadRequest(w, "code must be decimal digits of the configured length")
		return
	case err != nil:
		s.logger.Error("failed to submit code", "error", err)
		writeInternalError(w, "failed to submit code")
		return
	}

	snap, _ := s.runner.Current()
	writeJSON(w, http.StatusOK, snap)
}

// handleCancelSession cancels the in-progress session.
func (s *Server) handleCancelSession(w http.ResponseWriter, _ *http.Request) {
	err := s.runner.Cancel()
	switch {
	case errors.Is(err, session.ErrNoSession):
		writeNotFound(w, "no session")
		return
	case errors.Is(err, session.ErrSessionTerminal):
		writeConflict(w, "session already finished")
		return
	case err != nil:
		s.logger.Error("failed to cancel session", "error", err)
		writeInternalError(w, "failed to cancel session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
