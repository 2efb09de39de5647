package brand

type stepDefinition struct {
	id          StepID
	name        string
	description string
}

var canonicalSteps = []stepDefinition{
	{StepValidate, "Validating URL", "Checking if the website is accessible"},
	{StepCrawl, "Crawling Website", "Fetching and analyzing website content"},
	{StepAnalyze, "Analyzing Brand", "AI is analyzing your brand identity"},
	{StepSave, "Saving Results", "Storing your brand profile"},
}

// StepOrder returns the canonical step identifiers in execution order.
func StepOrder() []StepID {
	ids := make([]StepID, 0, len(canonicalSteps))
	for _, def := range canonicalSteps {
		ids = append(ids, def.id)
	}
	return ids
}

// NewCrawlStatus builds the initial record for a freshly admitted run: the
// first step in progress, the rest pending.
func NewCrawlStatus(runID string) CrawlStatus {
	steps := make([]Step, 0, len(canonicalSteps))
	for i, def := range canonicalSteps {
		status := StepPending
		if i == 0 {
			status = StepInProgress
		}
		steps = append(steps, Step{
			ID:          def.id,
			Name:        def.name,
			Description: def.description,
			Status:      status,
		})
	}
	first := canonicalSteps[0].id
	return CrawlStatus{
		Status:        RunCrawling,
		CurrentStep:   &first,
		Steps:         steps,
		WorkflowRunID: &runID,
	}
}

// IdleStatus is reported when no status record exists for a tenant.
func IdleStatus() CrawlStatus {
	return CrawlStatus{
		Status: RunIdle,
		Steps:  []Step{},
	}
}

// Begin marks id in progress and everything before it completed.
func (s *CrawlStatus) Begin(id StepID) {
	reached := false
	for i := range s.Steps {
		switch {
		case s.Steps[i].ID == id:
			s.Steps[i].Status = StepInProgress
			s.Steps[i].Error = nil
			reached = true
		case !reached:
			s.Steps[i].Status = StepCompleted
		}
	}
	current := id
	s.CurrentStep = &current
	s.Status = RunCrawling
}

// Fail records err against step id and flips the run into the error state.
func (s *CrawlStatus) Fail(id StepID, msg string) {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			s.Steps[i].Status = StepError
			stepMsg := msg
			s.Steps[i].Error = &stepMsg
		}
	}
	current := id
	s.CurrentStep = &current
	s.Status = RunError
	s.Error = &msg
}

// Complete marks every step completed and clears the current step.
func (s *CrawlStatus) Complete() {
	for i := range s.Steps {
		s.Steps[i].Status = StepCompleted
		s.Steps[i].Error = nil
	}
	s.CurrentStep = nil
	s.Status = RunCompleted
	s.Error = nil
}

// Step returns the record for id.
func (s CrawlStatus) Step(id StepID) (Step, bool) {
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}
