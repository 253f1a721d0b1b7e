package models

import "fmt"

// ErrorType identifies the category of task failure.
type ErrorType string

const (
	// Validation of inputs or declared outputs before/after execution.
	ErrTaskValidationFailed ErrorType = "task_validation_failed"

	// The executed command itself failed.
	ErrTaskExecutionFailed ErrorType = "task_execution_failed"

	// A declared output could not be collected from the working directory.
	ErrOutputMissing ErrorType = "output_missing"

	// Catch-all.
	ErrInternalError ErrorType = "internal_error"
)

// TaskError carries the composed diagnostic reported exactly once when a run
// aborts: what failed, the command, the captured output and where to look.
type TaskError struct {
	Type     ErrorType
	Message  string
	Task     string
	Command  string
	Output   string
	WorkDir  string
}

func (e *TaskError) Error() string {
	msg := fmt.Sprintf("task %s: %s: %s", e.Task, e.Type, e.Message)
	if e.Command != "" {
		msg += fmt.Sprintf("\n\nCommand executed:\n  %s", e.Command)
	}
	if e.Output != "" {
		msg += fmt.Sprintf("\n\nCommand output:\n%s", e.Output)
	}
	if e.WorkDir != "" {
		msg += fmt.Sprintf("\n\nWork dir:\n  %s", e.WorkDir)
	}
	return msg
}

// Ignorable reports whether this error category may be skipped under the
// "ignore" error strategy. Only validation failures are ignorable by policy.
func (e *TaskError) Ignorable() bool {
	return e.Type == ErrTaskValidationFailed
}
