package brand

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCrawlStatus_FirstStepInProgress(t *testing.T) {
	t.Parallel()

	status := NewCrawlStatus("run-1")

	require.Equal(t, RunCrawling, status.Status)
	require.NotNil(t, status.CurrentStep)
	assert.Equal(t, StepValidate, *status.CurrentStep)
	assert.Nil(t, status.Error)
	assert.Equal(t, "run-1", status.RunID())
	require.Len(t, status.Steps, 4)

	want := []StepID{StepValidate, StepCrawl, StepAnalyze, StepSave}
	for i, step := range status.Steps {
		assert.Equal(t, want[i], step.ID)
		assert.NotEmpty(t, step.Name)
		assert.NotEmpty(t, step.Description)
		if i == 0 {
			assert.Equal(t, StepInProgress, step.Status)
		} else {
			assert.Equal(t, StepPending, step.Status)
		}
	}
	assert.Equal(t, want, StepOrder())
}

func TestCrawlStatus_JSONShape(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(NewCrawlStatus("abc"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "crawling", decoded["status"])
	assert.Equal(t, "validate", decoded["currentStep"])
	assert.Equal(t, "abc", decoded["workflowRunId"])
	assert.Nil(t, decoded["error"])
	steps, ok := decoded["steps"].([]any)
	require.True(t, ok)
	first, ok := steps[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Validating URL", first["name"])
	assert.Equal(t, "in_progress", first["status"])
	_, hasError := first["error"]
	assert.False(t, hasError)
}

func TestCrawlStatus_Transitions(t *testing.T) {
	t.Parallel()

	status := NewCrawlStatus("run")
	status.Begin(StepAnalyze)

	validate, _ := status.Step(StepValidate)
	crawl, _ := status.Step(StepCrawl)
	analyze, _ := status.Step(StepAnalyze)
	save, _ := status.Step(StepSave)
	assert.Equal(t, StepCompleted, validate.Status)
	assert.Equal(t, StepCompleted, crawl.Status)
	assert.Equal(t, StepInProgress, analyze.Status)
	assert.Equal(t, StepPending, save.Status)
	assert.Equal(t, StepAnalyze, *status.CurrentStep)

	status.Fail(StepAnalyze, "no html")
	analyze, _ = status.Step(StepAnalyze)
	save, _ = status.Step(StepSave)
	assert.Equal(t, RunError, status.Status)
	assert.Equal(t, StepError, analyze.Status)
	require.NotNil(t, analyze.Error)
	assert.Equal(t, "no html", *analyze.Error)
	assert.Equal(t, StepPending, save.Status)
	require.NotNil(t, status.Error)

	status.Complete()
	assert.Equal(t, RunCompleted, status.Status)
	assert.Nil(t, status.CurrentStep)
	assert.Nil(t, status.Error)
	for _, step := range status.Steps {
		assert.Equal(t, StepCompleted, step.Status)
	}
}

func TestIdleStatus(t *testing.T) {
	t.Parallel()

	idle := IdleStatus()
	assert.Equal(t, RunIdle, idle.Status)
	assert.Nil(t, idle.CurrentStep)
	assert.Empty(t, idle.Steps)
	assert.NotNil(t, idle.Steps)
	assert.Nil(t, idle.WorkflowRunID)
	assert.Empty(t, idle.RunID())

	payload, err := json.Marshal(idle)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"idle","currentStep":null,"steps":[],"error":null,"workflowRunId":null}`, string(payload))
}

func TestKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "crawler:org-1:lock", LockKey("org-1"))
	assert.Equal(t, "crawler:org-1:status", StatusKey("org-1"))
}
