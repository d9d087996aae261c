package api

import (
	"context"
	"net/http"
	"time"
)

// statusProbeTimeout bounds the backend reachability probe so a dead
// uplink cannot stall the status endpoint.
const statusProbeTimeout = 3 * time.Second

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns a detailed view of the controller's subsystems.
// The panel's diagnostics screen renders this directly.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":    "ok",
		"version":   s.version,
		"demo_mode": s.demoMode,
	}

	if s.lock != nil {
		status["lock_state"] = string(s.lock.State())
	}

	if snap, ok := s.runner.Current(); ok {
		status["session"] = snap
	}

	if s.enrol != nil {
		if snap := s.enrol.Status(); snap.ID != "" {
			status["enrolment"] = snap
		}
	}

	if s.faceStore != nil {
		status["model_faces"] = s.faceStore.Count()
	}

	if s.users != nil {
		if n, err := s.users.Count(r.Context()); err == nil {
			status["cached_users"] = n
		}
	}

	status["mqtt_connected"] = s.mqtt != nil && s.mqtt.IsConnected()
	status["metrics_connected"] = s.influx != nil && s.influx.IsConnected()

	if s.backend != nil {
		ctx, cancel := context.WithTimeout(r.Context(), statusProbeTimeout)
		defer cancel()
		if err := s.backend.HealthCheck(ctx); err != nil {
			status["backend"] = "unreachable"
		} else {
			status["backend"] = "ok"
		}
	} else {
		status["backend"] = "not_configured"
	}

	writeJSON(w, http.StatusOK, status)
}
