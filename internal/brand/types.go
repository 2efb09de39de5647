package brand

import (
	"net/http"
	"time"
)

// RunStatus is the overall state of a tenant's crawl.
type RunStatus string

// Overall crawl states.
const (
	RunIdle      RunStatus = "idle"
	RunCrawling  RunStatus = "crawling"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// StepStatus is the state of a single workflow step.
type StepStatus string

// Step states.
const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

// StepID identifies one of the canonical workflow steps.
type StepID string

// Canonical steps in execution order.
const (
	StepValidate StepID = "validate"
	StepCrawl    StepID = "crawl"
	StepAnalyze  StepID = "analyze"
	StepSave     StepID = "save"
)

// Step is one entry of CrawlStatus.Steps.
type Step struct {
	ID          StepID     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Error       *string    `json:"error,omitempty"`
}

// CrawlStatus is the polling record stored under StatusKey.
type CrawlStatus struct {
	Status        RunStatus `json:"status"`
	CurrentStep   *StepID   `json:"currentStep"`
	Steps         []Step    `json:"steps"`
	Error         *string   `json:"error"`
	WorkflowRunID *string   `json:"workflowRunId"`
}

// RunID returns the workflow-run id, or "" for the idle record.
func (s CrawlStatus) RunID() string {
	if s.WorkflowRunID == nil {
		return ""
	}
	return *s.WorkflowRunID
}

// CrawlRequest is the hand-off payload sent to the workflow executor.
type CrawlRequest struct {
	OrganizationID string `json:"organizationId"`
	WebsiteURL     string `json:"websiteUrl"`
	WorkflowRunID  string `json:"workflowRunId,omitempty"`
}

// FetchRequest describes a single page fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the raw result of a page fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
