package api

import "net/http"

type setActiveRequest struct {
	OrganizationID *string `json:"organizationId"`
}

type setActiveResponse struct {
	ActiveOrganizationID *string `json:"activeOrganizationId"`
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := s.deps.Memberships.List(r.Context(), principal(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, orgs)
}

func (s *Server) getActiveOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := s.deps.Memberships.Active(r.Context(), principal(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, org)
}

func (s *Server) setActiveOrganization(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	if !caller.Authenticated() {
		s.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req setActiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	active, err := s.deps.Memberships.SetActive(r.Context(), caller, req.OrganizationID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, setActiveResponse{ActiveOrganizationID: active})
}
