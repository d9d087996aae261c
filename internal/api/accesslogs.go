package api

import (
	"net/http"
	"strconv"

	"github.com/hgarg/doorlock-core/internal/accesslog"
)

// handleListAccessLogs returns paginated access history from the local
// buffer. Filters: access_type, user_id, limit, offset.
func (s *Server) handleListAccessLogs(w http.ResponseWriter, r *http.Request) {
	if s.accessLogs == nil {
		writeUnavailable(w, "access log storage not configured")
		return
	}

	q := r.URL.Query()
	filter := accesslog.Filter{
		AccessType: q.Get("access_type"),
		UserID:     q.Get("user_id"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.accessLogs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list access logs", "error", err)
		writeInternalError(w, "failed to list access logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
