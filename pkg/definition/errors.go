package definition

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failures reported by Parse. Every error returned by Parse wraps
// exactly one of these.
var (
	ErrInvalidDefinition = errors.New("invalid definition")
	ErrDuplicateJobName  = errors.New("duplicate job name")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCyclicDependency  = errors.New("cyclic dependency")
)

// ValidationError carries the location of a definition problem.
type ValidationError struct {
	Err        error    // One of the sentinel errors above
	Job        string   // Offending job, if any
	Dependency string   // Missing dependency for ErrUnknownDependency
	Cycle      []string // Job path for ErrCyclicDependency, first element repeated at the end
	Line       int      // Source line when known
	Message    string
}

func (e *ValidationError) Error() string {
	var b strings.Builder

	b.WriteString(e.Err.Error())

	switch {
	case len(e.Cycle) > 0:
		fmt.Fprintf(&b, ": %s", strings.Join(e.Cycle, " -> "))
	case e.Dependency != "":
		fmt.Fprintf(&b, ": job '%s' needs '%s'", e.Job, e.Dependency)
	case e.Job != "":
		fmt.Fprintf(&b, ": job '%s'", e.Job)
	}

	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}

	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}

	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func invalid(job string, line int, format string, args ...any) *ValidationError {
	return &ValidationError{
		Err:     ErrInvalidDefinition,
		Job:     job,
		Line:    line,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err came from definition validation.
func IsValidationError(err error) bool {
	var verr *ValidationError

	return errors.As(err, &verr)
}

func IsDuplicateJobName(err error) bool {
	return errors.Is(err, ErrDuplicateJobName)
}

func IsUnknownDependency(err error) bool {
	return errors.Is(err, ErrUnknownDependency)
}

func IsCyclicDependency(err error) bool {
	return errors.Is(err, ErrCyclicDependency)
}
