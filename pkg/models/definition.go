// Package models provides the core data structures shared by the pipeline engine.
package models

import (
	"slices"
	"sort"
	"time"
)

// TriggerKind names a source-control (or external) event that may start a run.
type TriggerKind string

const (
	TriggerPush        TriggerKind = "push"
	TriggerPullRequest TriggerKind = "pull_request"
	TriggerSchedule    TriggerKind = "schedule"
	TriggerManual      TriggerKind = "manual"
)

// WorkflowDefinition is the validated, immutable form of a pipeline document.
type WorkflowDefinition struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"                validate:"required"`
	Triggers  []TriggerKind       `json:"triggers"`
	Env       map[string]string   `json:"env,omitempty"`
	Jobs      map[string]*JobSpec `json:"jobs"                validate:"required,min=1,dive,required"`
	CreatedAt time.Time           `json:"created_at"`
}

// HasTrigger reports whether kind is one of the definition's trigger kinds.
func (d *WorkflowDefinition) HasTrigger(kind TriggerKind) bool {
	return slices.Contains(d.Triggers, kind)
}

// JobNames returns the job names in lexical order.
func (d *WorkflowDefinition) JobNames() []string {
	names := make([]string, 0, len(d.Jobs))
	for name := range d.Jobs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// JobSpec describes one unit of scheduling.
type JobSpec struct {
	Name         string        `json:"name"              validate:"required"`
	Needs        []string      `json:"needs,omitempty"`
	Requirements Requirements  `json:"requirements"`
	Steps        []*StepSpec   `json:"steps"             validate:"dive,required"`
	Timeout      time.Duration `json:"timeout,omitempty" validate:"gte=0"`
}

// Requirements describe what a job needs from its execution environment.
type Requirements struct {
	Capabilities []string          `json:"capabilities,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

// StepSpec is one ordered unit of work inside a job.
type StepSpec struct {
	Name   string            `json:"name"`
	Action string            `json:"action"           validate:"required"`
	Params map[string]string `json:"params,omitempty"`
}
