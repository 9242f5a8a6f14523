package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/fatih/color"
)

const outputTailLines = 10

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// RenderJSON writes rep as indented JSON.
func RenderJSON(w io.Writer, rep *models.RunReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(rep); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	return nil
}

// RenderText writes a human readable summary of rep. Failed steps include the
// tail of their output.
func RenderText(w io.Writer, rep *models.RunReport) error {
	var b strings.Builder

	name := rep.DefinitionName
	if name == "" {
		name = rep.DefinitionID
	}

	fmt.Fprintf(&b, "%s %s (%s, trigger %s)\n", bold("Run"), rep.RunID, name, rep.Trigger)

	width := 0
	for _, job := range rep.Jobs {
		width = max(width, len(job.Name))
	}

	for _, job := range rep.Jobs {
		fmt.Fprintf(&b, "  %s %-*s  %-9s", jobMark(job.Status), width, job.Name, job.Status)

		if d := Duration(job.StartedAt, job.FinishedAt); d > 0 {
			fmt.Fprintf(&b, "  %s", faint(d.Round(time.Millisecond)))
		}

		if job.SkipReason != "" {
			fmt.Fprintf(&b, "  %s", faint("("+job.SkipReason+")"))
		}

		b.WriteString("\n")

		if job.Error != "" {
			fmt.Fprintf(&b, "      %s\n", red(job.Error))
		}

		for _, step := range job.Steps {
			if step.Status != models.StepStatusFailed {
				continue
			}

			reason := ""
			if step.Failure != nil {
				reason = step.Failure.Message
			}

			fmt.Fprintf(&b, "      step '%s' (%s) failed: %s\n", step.Name, step.Action, reason)

			for _, line := range tail(step.Output, outputTailLines) {
				fmt.Fprintf(&b, "        %s %s\n", faint("|"), line)
			}
		}
	}

	fmt.Fprintf(&b, "%s %s", bold("Result:"), runStatus(rep))

	if rep.Cancelled {
		fmt.Fprintf(&b, " %s", yellow("(cancelled)"))
	}

	if rep.Provisional {
		fmt.Fprintf(&b, " %s", faint("(provisional)"))
	}

	fmt.Fprintf(&b, "  %d succeeded, %d failed, %d skipped\n",
		rep.Totals[string(models.JobStatusSucceeded)],
		rep.Totals[string(models.JobStatusFailed)],
		rep.Totals[string(models.JobStatusSkipped)],
	)

	for _, diagnostic := range rep.Diagnostics {
		fmt.Fprintf(&b, "  %s %s\n", yellow("!"), diagnostic)
	}

	_, err := io.WriteString(w, b.String())

	return err
}

func jobMark(status models.JobStatus) string {
	switch status {
	case models.JobStatusSucceeded:
		return green("✓")
	case models.JobStatusFailed:
		return red("✗")
	case models.JobStatusSkipped:
		return yellow("-")
	default:
		return faint("·")
	}
}

func runStatus(rep *models.RunReport) string {
	text := strings.ToUpper(string(rep.Status))

	switch rep.Status {
	case models.RunStatusSucceeded:
		return green(text)
	case models.RunStatusFailed:
		return red(text)
	default:
		return yellow(text)
	}
}

func tail(output string, n int) []string {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return nil
	}

	lines := strings.Split(output, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	return lines
}
