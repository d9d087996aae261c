package api

import (
	"net/http"
)

// handleListUsers returns the locally cached user directory.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		writeUnavailable(w, "user cache not configured")
		return
	}

	list, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list users", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": list,
		"total": len(list),
	})
}

// handleModelSync re-downloads the face encodings from the backend.
// The MQTT sync-model command drives the same path.
func (s *Server) handleModelSync(w http.ResponseWriter, r *http.Request) {
	if s.faceStore == nil || s.backend == nil {
		writeUnavailable(w, "face model sync not available")
		return
	}

	if err := s.faceStore.Download(r.Context(), s.backend); err != nil {
		s.logger.Error("face model sync failed", "error", err)
		writeUnavailable(w, "failed to download face model")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "synced",
		"model_faces": s.faceStore.Count(),
	})
}
