package httpapi

import (
	"net/http"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.Now()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": now.UTC(),
		"uptime":    now.Sub(s.StartedAt).Seconds(),
		"version":   Version,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "RosaIQ",
		"version":     Version,
		"description": "RosaIQ Air Quality Monitoring Server",
		"endpoints": map[string]string{
			"devices":   "/api/devices",
			"dashboard": "/api/dashboard/summary",
			"firmware":  "/api/firmware",
			"events":    "/ws/events",
			"health":    "/health",
			"metrics":   "/metrics",
		},
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.Sweeper.Sweep(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"measurementsDeleted": res.MeasurementsDeleted,
		"eventsDeleted":       res.EventsDeleted,
	})
}
