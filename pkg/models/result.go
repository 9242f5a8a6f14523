package models

import "time"

type StepStatus string

const (
	StepStatusNotRun    StepStatus = "not_run"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
)

// FailureKind tells a step that ran and failed apart from one that could not
// be executed at all.
type FailureKind string

const (
	FailureExitStatus  FailureKind = "exit_status"
	FailureActionError FailureKind = "action_error"
)

type StepFailure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// StepResult is the immutable outcome of one step.
type StepResult struct {
	Index      int           `json:"index"`
	Name       string        `json:"name"`
	Action     string        `json:"action"`
	Status     StepStatus    `json:"status"`
	ExitCode   int           `json:"exit_code"`
	Output     string        `json:"output,omitempty"`
	Failure    *StepFailure  `json:"failure,omitempty"`
	Duration   time.Duration `json:"duration"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// NotRunResults returns not_run results for steps[from:].
func NotRunResults(steps []*StepSpec, from int) []StepResult {
	if from >= len(steps) {
		return nil
	}

	results := make([]StepResult, 0, len(steps)-from)
	for i := from; i < len(steps); i++ {
		results = append(results, StepResult{
			Index:  i,
			Name:   steps[i].Name,
			Action: steps[i].Action,
			Status: StepStatusNotRun,
		})
	}

	return results
}
