// Package report aggregates run state into reports and renders them.
package report

import (
	"slices"
	"time"

	"github.com/dukex/pipewright/pkg/models"
)

// Summarize projects run into a report. It only reads the run, so it may be
// called at any time and from any goroutine; a run that has not finished
// yields a provisional report with status running.
func Summarize(run *models.Run) *models.RunReport {
	var rep *models.RunReport

	run.View(func(r *models.Run) {
		rep = &models.RunReport{
			RunID:          r.ID,
			DefinitionID:   r.DefinitionID,
			DefinitionName: r.DefinitionName,
			Trigger:        r.Trigger,
			Cancelled:      r.Cancelled,
			Jobs:           make([]models.JobReport, 0, len(r.Jobs)),
			Totals:         make(map[string]int),
			Diagnostics:    slices.Clone(r.Diagnostics),
			StartedAt:      cloneTime(r.StartedAt),
			FinishedAt:     cloneTime(r.FinishedAt),
		}

		statuses := make([]models.JobStatus, 0, len(r.Jobs))

		for _, name := range r.JobNames() {
			job := r.Jobs[name]
			statuses = append(statuses, job.Status)
			rep.Totals[string(job.Status)]++

			rep.Jobs = append(rep.Jobs, models.JobReport{
				Name:       job.Name,
				Status:     job.Status,
				Needs:      slices.Clone(job.Needs),
				Error:      job.Error,
				SkipReason: job.SkipReason,
				Steps:      slices.Clone(job.Steps),
				StartedAt:  cloneTime(job.StartedAt),
				FinishedAt: cloneTime(job.FinishedAt),
			})
		}

		if r.Status.IsTerminal() {
			rep.Status = models.OverallStatus(statuses)
		} else {
			rep.Status = models.RunStatusRunning
			rep.Provisional = true
		}
	})

	return rep
}

// Duration returns the elapsed time between two optional timestamps.
func Duration(started, finished *time.Time) time.Duration {
	if started == nil || finished == nil {
		return 0
	}

	return finished.Sub(*started)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}
