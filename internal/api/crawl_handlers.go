package api

import (
	"net/http"

	"github.com/JakeFAU/brand-dashboard/internal/brand"
)

type startCrawlRequest struct {
	OrganizationID string `json:"organizationId"`
	WebsiteURL     string `json:"websiteUrl"`
}

type workflowRunResponse struct {
	WorkflowRunID string `json:"workflowRunId"`
}

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	if !caller.Authenticated() {
		s.writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req startCrawlRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	runID, err := s.deps.Coordinator.StartCrawl(r.Context(), caller, req.OrganizationID, req.WebsiteURL)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, workflowRunResponse{WorkflowRunID: runID})
}

func (s *Server) crawlStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Coordinator.GetStatus(r.Context(), principal(r), r.URL.Query().Get("organizationId"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, status)
}

func (s *Server) acceptWorkflow(w http.ResponseWriter, r *http.Request) {
	var req brand.CrawlRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON")
		return
	}
	runID, err := s.deps.Workflow.Start(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusAccepted, workflowRunResponse{WorkflowRunID: runID})
}
