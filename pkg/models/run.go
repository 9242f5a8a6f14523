package models

import (
	"sort"
	"sync"
	"time"
)

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transition can happen.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusReady     JobStatus = "ready"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped"
)

// IsTerminal reports whether the job reached succeeded, failed or skipped.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusSkipped
}

// JobExecution is the runtime state of one job within a run.
type JobExecution struct {
	Name       string       `json:"name"`
	Status     JobStatus    `json:"status"`
	Needs      []string     `json:"needs,omitempty"`
	Steps      []StepResult `json:"steps"`
	Error      string       `json:"error,omitempty"`
	SkipReason string       `json:"skip_reason,omitempty"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// Run is one execution instance of a WorkflowDefinition. The scheduler is
// its only writer; readers go through View.
type Run struct {
	mu sync.RWMutex

	ID             string                   `json:"id"`
	DefinitionID   string                   `json:"definition_id"`
	DefinitionName string                   `json:"definition_name"`
	Trigger        TriggerKind              `json:"trigger"`
	TriggerData    map[string]any           `json:"trigger_data,omitempty"`
	Status         RunStatus                `json:"status"`
	Jobs           map[string]*JobExecution `json:"jobs"`
	Cancelled      bool                     `json:"cancelled"`
	Diagnostics    []string                 `json:"diagnostics,omitempty"`
	StartedAt      *time.Time               `json:"started_at,omitempty"`
	FinishedAt     *time.Time               `json:"finished_at,omitempty"`
}

// NewRun creates a pending run owning the given job executions.
func NewRun(id string, definition *WorkflowDefinition, trigger TriggerKind, data map[string]any, jobs []*JobExecution) *Run {
	run := &Run{
		ID:             id,
		DefinitionID:   definition.ID,
		DefinitionName: definition.Name,
		Trigger:        trigger,
		TriggerData:    data,
		Status:         RunStatusPending,
		Jobs:           make(map[string]*JobExecution, len(jobs)),
	}

	for _, job := range jobs {
		run.Jobs[job.Name] = job
	}

	return run
}

// Update applies fn while holding the write lock.
func (r *Run) Update(fn func(run *Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn(r)
}

// View applies fn while holding the read lock.
func (r *Run) View(fn func(run *Run)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn(r)
}

// JobNames returns the names of the run's jobs in lexical order. Callers must
// hold the lock (inside Update or View).
func (r *Run) JobNames() []string {
	names := make([]string, 0, len(r.Jobs))
	for name := range r.Jobs {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// AllTerminal reports whether every job reached a terminal status. Callers
// must hold the lock.
func (r *Run) AllTerminal() bool {
	for _, job := range r.Jobs {
		if !job.Status.IsTerminal() {
			return false
		}
	}

	return true
}

// OverallStatus folds job statuses into the run status: failed if any job
// failed, succeeded otherwise. Skipped jobs never fail a run on their own.
func OverallStatus(statuses []JobStatus) RunStatus {
	for _, status := range statuses {
		if status == JobStatusFailed {
			return RunStatusFailed
		}
	}

	return RunStatusSucceeded
}
