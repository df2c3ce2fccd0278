package httpapi

import (
	"encoding/json"
	"net/http"
)

// handleHealthz reports process liveness plus how long the server has
// been up, the minimal shape the teacher's healthz falls back to when no
// deeper integration health checker is wired in.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	response := map[string]any{
		"status":     "ok",
		"uptime_sec": int(s.now().Sub(s.startTime).Seconds()),
	}
	data, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("healthz write failed", "error", err)
	}
}
