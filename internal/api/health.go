package api

import (
	"net/http"

	"github.com/aegis-id/aegis/internal/api/helpers"
)

// Health reports liveness. The store is exercised with a cheap read so a dead
// pool turns the probe red.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if _, _, err := s.store.ListUsers(r.Context(), 1, 0); err != nil {
		helpers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
		})
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
