package http

import "net/http"

type loggedOutResponse struct {
	LoggedOut bool `json:"loggedOut"`
}

// handleDashboard always re-aggregates. A degraded snapshot is still a 200;
// only a session teardown changes the status.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	res := s.svc.Dashboard.Fetch(r.Context())
	if res.LoggedOut {
		writeJSON(w, http.StatusUnauthorized, loggedOutResponse{LoggedOut: true})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
