package models

import "time"

// RunReport is the aggregated, read-only projection of a run.
type RunReport struct {
	RunID          string         `json:"run_id"`
	DefinitionID   string         `json:"definition_id"`
	DefinitionName string         `json:"definition_name"`
	Trigger        TriggerKind    `json:"trigger"`
	Status         RunStatus      `json:"status"`
	Provisional    bool           `json:"provisional"`
	Cancelled      bool           `json:"cancelled"`
	Jobs           []JobReport    `json:"jobs"`
	Totals         map[string]int `json:"totals"`
	Diagnostics    []string       `json:"diagnostics,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

type JobReport struct {
	Name       string       `json:"name"`
	Status     JobStatus    `json:"status"`
	Needs      []string     `json:"needs,omitempty"`
	Error      string       `json:"error,omitempty"`
	SkipReason string       `json:"skip_reason,omitempty"`
	Steps      []StepResult `json:"steps"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// FailedStep identifies a failing step in a report.
type FailedStep struct {
	Job  string
	Step StepResult
}

// FailedSteps lists every failed step, in job then step order.
func (r *RunReport) FailedSteps() []FailedStep {
	var failed []FailedStep

	for _, job := range r.Jobs {
		for _, step := range job.Steps {
			if step.Status == StepStatusFailed {
				failed = append(failed, FailedStep{Job: job.Name, Step: step})
			}
		}
	}

	return failed
}

// Job returns the report of the named job.
func (r *RunReport) Job(name string) (JobReport, bool) {
	for _, job := range r.Jobs {
		if job.Name == name {
			return job, true
		}
	}

	return JobReport{}, false
}
