// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/google/uuid"
)

// CreateTestDefinition creates a WorkflowDefinition with default values that can be overridden.
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	def := &models.WorkflowDefinition{
		ID:        uuid.New().String(),
		Name:      "Test Workflow",
		Triggers:  []models.TriggerKind{models.TriggerPush},
		Jobs:      make(map[string]*models.JobSpec),
		CreatedAt: time.Now().UTC(),
	}

	for _, override := range overrides {
		override(def)
	}

	return def
}

// WithJob adds a job with the given dependencies and steps.
func WithJob(name string, needs []string, steps ...*models.StepSpec) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Jobs[name] = &models.JobSpec{
			Name:  name,
			Needs: needs,
			Steps: steps,
		}
	}
}

// WithTriggers replaces the trigger kinds.
func WithTriggers(kinds ...models.TriggerKind) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Triggers = kinds
	}
}

// WithName sets the definition name.
func WithName(name string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.Name = name
	}
}

// IndependentJobs creates a definition of jobs without dependencies, each
// with a single step named after the job.
func IndependentJobs(names ...string) *models.WorkflowDefinition {
	overrides := make([]func(*models.WorkflowDefinition), 0, len(names))
	for _, name := range names {
		overrides = append(overrides, WithJob(name, nil, Step(name, "log")))
	}

	return CreateTestDefinition(overrides...)
}

// Step creates a step spec for action with optional key/value params.
func Step(name, action string, params ...string) *models.StepSpec {
	step := &models.StepSpec{Name: name, Action: action}

	if len(params) > 0 {
		step.Params = make(map[string]string, len(params)/2)
		for i := 0; i+1 < len(params); i += 2 {
			step.Params[params[i]] = params[i+1]
		}
	}

	return step
}
