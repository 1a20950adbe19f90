package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration is returned for a bad step count or missing input files.
	// It is always detected before any engine process starts.
	ErrConfiguration = errors.New("configuration error")

	// ErrTemplate is returned when a parameter template is missing or
	// references a placeholder with no value.
	ErrTemplate = errors.New("template error")

	// ErrStageExecution is returned when a stage fails after the engine ran.
	ErrStageExecution = errors.New("stage execution failure")

	// ErrInvalidState is returned when a state transition is not allowed.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrNotFound is returned when a requested run doesn't exist.
	ErrNotFound = errors.New("not found")
)

// ConfigurationError describes a configuration problem found before any
// simulation work started.
type ConfigurationError struct {
	Field  string
	Reason string

	// Missing lists input paths that do not exist, if any.
	Missing []string
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if len(e.Missing) > 0 {
		msg += " (" + strings.Join(e.Missing, ", ") + ")"
	}
	return fmt.Sprintf("%v: %s", ErrConfiguration, msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// NewConfigurationError is a shorthand for a ConfigurationError without missing paths.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TemplateError describes a template that could not be rendered.
type TemplateError struct {
	Template string

	// Missing lists placeholders the template uses but no value was supplied for.
	Missing []string

	Err error
}

func (e *TemplateError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%v: %s: no value for placeholder(s) %s",
			ErrTemplate, e.Template, strings.Join(e.Missing, ", "))
	case e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", ErrTemplate, e.Template, e.Err)
	default:
		return fmt.Sprintf("%v: %s", ErrTemplate, e.Template)
	}
}

func (e *TemplateError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTemplate, e.Err}
	}
	return []error{ErrTemplate}
}

// StageExecutionFailure reports the stage a pipeline halted at.
type StageExecutionFailure struct {
	Result ExecutionResult
}

func (e *StageExecutionFailure) Error() string {
	r := e.Result
	var b strings.Builder
	fmt.Fprintf(&b, "%v: stage %q (ordinal %d)", ErrStageExecution, r.StageName, r.Ordinal)
	switch r.Failure {
	case FailureEngineExit:
		fmt.Fprintf(&b, ": %s exited with code %d", r.FailedStep, r.ExitCode)
	case FailureMissingOutput:
		fmt.Fprintf(&b, ": %s reported success but outputs are missing: %s",
			r.FailedStep, strings.Join(r.MissingOutputs, ", "))
	case FailureMissingInput:
		fmt.Fprintf(&b, ": inputs are missing: %s", strings.Join(r.MissingInputs, ", "))
	case FailureEngineStart:
		fmt.Fprintf(&b, ": %s could not start", r.FailedStep)
	}
	if r.Message != "" {
		fmt.Fprintf(&b, ": %s", r.Message)
	}
	return b.String()
}

func (e *StageExecutionFailure) Unwrap() error { return ErrStageExecution }

// Ordinal is the 1-based position of the failing stage in the full plan.
func (e *StageExecutionFailure) Ordinal() int { return e.Result.Ordinal }
