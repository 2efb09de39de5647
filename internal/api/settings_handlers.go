package api

import "net/http"

func (s *Server) getBrandSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Settings.Get(r.Context(), principal(r), r.URL.Query().Get("organizationId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, settings)
}
