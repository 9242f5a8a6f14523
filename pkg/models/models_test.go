package models

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requiredTag = "required"

func TestWorkflowDefinition_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	valid := &WorkflowDefinition{
		Name:     "ci",
		Triggers: []TriggerKind{TriggerPush},
		Jobs: map[string]*JobSpec{
			"check": {Name: "check", Steps: []*StepSpec{{Name: "check", Action: "run"}}},
		},
	}
	require.NoError(t, validate.Struct(valid))

	tests := []struct {
		name   string
		mutate func(d *WorkflowDefinition)
		field  string
		tag    string
	}{
		{name: "missing name", mutate: func(d *WorkflowDefinition) { d.Name = "" }, field: "Name", tag: requiredTag},
		{name: "no jobs", mutate: func(d *WorkflowDefinition) { d.Jobs = nil }, field: "Jobs", tag: requiredTag},
		{name: "nil job", mutate: func(d *WorkflowDefinition) { d.Jobs["check"] = nil }, field: "Jobs[check]", tag: requiredTag},
		{
			name:   "step without action",
			mutate: func(d *WorkflowDefinition) { d.Jobs["check"].Steps[0].Action = "" },
			field:  "Action",
			tag:    requiredTag,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &WorkflowDefinition{
				Name:     valid.Name,
				Triggers: valid.Triggers,
				Jobs: map[string]*JobSpec{
					"check": {Name: "check", Steps: []*StepSpec{{Name: "check", Action: "run"}}},
				},
			}
			tt.mutate(def)

			err := validate.Struct(def)
			require.Error(t, err)

			var validationErrors validator.ValidationErrors
			require.True(t, errors.As(err, &validationErrors))
			assert.Equal(t, tt.field, validationErrors[0].Field())
			assert.Equal(t, tt.tag, validationErrors[0].Tag())
		})
	}
}

func TestWorkflowDefinition_Helpers(t *testing.T) {
	def := &WorkflowDefinition{
		Triggers: []TriggerKind{TriggerPush, TriggerSchedule},
		Jobs:     map[string]*JobSpec{"test": {}, "build": {}, "check": {}},
	}

	assert.True(t, def.HasTrigger(TriggerSchedule))
	assert.False(t, def.HasTrigger(TriggerPullRequest))
	assert.Equal(t, []string{"build", "check", "test"}, def.JobNames())
}

func TestStatuses(t *testing.T) {
	for _, status := range []JobStatus{JobStatusSucceeded, JobStatusFailed, JobStatusSkipped} {
		assert.True(t, status.IsTerminal(), status)
	}

	for _, status := range []JobStatus{JobStatusPending, JobStatusReady, JobStatusRunning} {
		assert.False(t, status.IsTerminal(), status)
	}

	assert.True(t, RunStatusFailed.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
}

func TestOverallStatus(t *testing.T) {
	assert.Equal(t, RunStatusSucceeded, OverallStatus(nil))
	assert.Equal(t, RunStatusSucceeded, OverallStatus([]JobStatus{JobStatusSucceeded, JobStatusSkipped}))
	assert.Equal(t, RunStatusFailed, OverallStatus([]JobStatus{JobStatusSucceeded, JobStatusFailed, JobStatusSkipped}))
}

func TestRun_AllTerminal(t *testing.T) {
	run := NewRun("run-1", &WorkflowDefinition{ID: "def-1", Name: "ci"}, TriggerManual, nil, []*JobExecution{
		{Name: "check", Status: JobStatusSucceeded},
		{Name: "build", Status: JobStatusPending},
	})

	run.View(func(r *Run) {
		assert.Equal(t, []string{"build", "check"}, r.JobNames())
		assert.False(t, r.AllTerminal())
	})

	run.Update(func(r *Run) {
		r.Jobs["build"].Status = JobStatusSkipped
	})

	run.View(func(r *Run) {
		assert.True(t, r.AllTerminal())
	})
}
